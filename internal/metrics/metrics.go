// Package metrics exposes prometheus collectors for scrapes, attempts and
// the identity pool. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors on a dedicated registry.
type Metrics struct {
	Registry        *prometheus.Registry
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	ScrapesTotal    *prometheus.CounterVec
	AdvancesTotal   *prometheus.CounterVec
	RetiredTotal    prometheus.Counter
	ClassesTotal    *prometheus.CounterVec
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webscout_attempts_total",
			Help: "Method invocations by outcome.",
		},
		[]string{"method", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webscout_attempt_duration_seconds",
			Help:    "Wall time of single method attempts.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"method"},
	)
	scrapes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webscout_scrapes_total",
			Help: "Finished scrapes by result code.",
		},
		[]string{"result"},
	)
	advances := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webscout_plan_advances_total",
			Help: "Plan advances, labelled by the method advanced to.",
		},
		[]string{"method"},
	)
	retired := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webscout_identity_retired_total",
			Help: "Identities retired from the pool.",
		},
	)
	classes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webscout_classifications_total",
			Help: "Targets classified, by class.",
		},
		[]string{"class"},
	)

	registry.MustRegister(attempts, duration, scrapes, advances, retired, classes)

	return &Metrics{
		Registry:        registry,
		AttemptsTotal:   attempts,
		AttemptDuration: duration,
		ScrapesTotal:    scrapes,
		AdvancesTotal:   advances,
		RetiredTotal:    retired,
		ClassesTotal:    classes,
	}
}

// ObserveAttempt records one method invocation.
func (m *Metrics) ObserveAttempt(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(method, outcome).Inc()
	m.AttemptDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncAdvance counts a move to the next plan entry.
func (m *Metrics) IncAdvance(method string) {
	if m == nil {
		return
	}
	m.AdvancesTotal.WithLabelValues(method).Inc()
}

// IncScrape counts a finished scrape; result is "success" or a failure code.
func (m *Metrics) IncScrape(result string) {
	if m == nil {
		return
	}
	m.ScrapesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRetired() {
	if m == nil {
		return
	}
	m.RetiredTotal.Inc()
}

func (m *Metrics) IncClass(class string) {
	if m == nil {
		return
	}
	m.ClassesTotal.WithLabelValues(class).Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
