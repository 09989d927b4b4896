// Package scraper is the entry point consumers call: it classifies a target,
// plans the methods to try, walks the plan and extracts the requested
// fields from whatever content the walk produced.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/config"
	"github.com/ramkansal/webscout/internal/extractor"
	"github.com/ramkansal/webscout/internal/fetcher"
	"github.com/ramkansal/webscout/internal/identity"
	"github.com/ramkansal/webscout/internal/metrics"
	"github.com/ramkansal/webscout/internal/orchestrator"
	"github.com/ramkansal/webscout/internal/planner"
	"github.com/ramkansal/webscout/internal/registry"
	"github.com/ramkansal/webscout/pkg/plugin"
)

// Scraper wires the classifier, registry, planner, orchestrator and
// extractors together. It is safe for concurrent use; every request walks
// its own plan and only the identity pool is shared.
type Scraper struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	classifier *classifier.Classifier
	registry   *registry.Registry
	planner    *planner.Planner
	rotator    *identity.Rotator
	orch       *orchestrator.Orchestrator
	extractors *extractor.Registry
	solver     *fetcher.CaptchaSolver

	events   chan plugin.Event
	eventsMu sync.RWMutex
	closed   bool
}

// New builds a Scraper from cfg. Nothing is launched until the first scrape
// needs it.
func New(cfg *config.Config, opts ...Option) (*Scraper, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{eventsSize: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	apiClient := o.apiClient
	if apiClient == nil {
		apiClient = &http.Client{Timeout: cfg.DefaultTimeout + 30*time.Second}
	}

	s := &Scraper{
		cfg:        cfg,
		logger:     logger.Named("scraper"),
		metrics:    o.metrics,
		extractors: extractor.NewRegistry(logger),
		events:     make(chan plugin.Event, o.eventsSize),
	}

	s.classifier = classifier.New(classifier.Config{
		Timeout:   cfg.Classifier.Timeout,
		CacheTTL:  cfg.Classifier.CacheTTL,
		CacheSize: cfg.Classifier.CacheSize,
		Overrides: cfg.ClassOverrides(),
		Client:    o.classifyHC,
		Logger:    logger,
	})

	s.solver = fetcher.NewCaptchaSolver(fetcher.CaptchaSolverConfig{
		APIKey: cfg.APIKeys.TwoCaptcha,
		Client: apiClient,
		Logger: logger,
	})

	s.registry = registry.New(cfg.Methods.LastResort)
	methods := o.methods
	if !o.custom {
		methods = defaultMethods(cfg, s.solver, apiClient, logger)
	}
	for _, m := range methods {
		if err := s.registry.Register(m); err != nil {
			return nil, err
		}
	}
	if lr := cfg.Methods.LastResort; lr != registry.LastResortAuto && lr != registry.LastResortNone {
		if _, ok := s.registry.Lookup(lr); !ok {
			logger.Warn("last resort method is not available", zap.String("method", lr))
		}
	}
	s.planner = planner.New(s.classifier, s.registry)

	s.rotator = identity.New(identity.Config{
		Proxies:      cfg.ProxyURLs(),
		UserAgents:   cfg.UserAgents,
		UseRotation:  cfg.UseProxyRotation,
		CooldownBase: cfg.Identity.CooldownBase,
		CooldownMax:  cfg.Identity.CooldownMax,
		RetireAfter:  cfg.Identity.RetireAfter,
		Logger:       logger,
		OnRetire:     func(string) { s.metrics.IncRetired() },
	})

	detector := orchestrator.Detector{
		RateLimitStatuses: cfg.RateLimitMarkers.Statuses,
		RateLimitBody:     cfg.RateLimitMarkers.Body,
		BlockStatuses:     cfg.BlockMarkers.Statuses,
		BlockBody:         cfg.BlockMarkers.Body,
	}
	policy := orchestrator.Policy{
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		AttemptTimeout: cfg.DefaultTimeout,
		Budget:         cfg.Budget,
		RenderWait:     cfg.Methods.RenderWait,
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithReplanner(s.planner),
		orchestrator.WithEvents(s.emit),
	}
	if s.metrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithRecorder(s.metrics))
	}
	s.orch = orchestrator.New(policy, detector, s.rotator, orchOpts...)

	return s, nil
}

// Events returns the progress channel. It is closed by Close; events are
// dropped when nobody drains it.
func (s *Scraper) Events() <-chan plugin.Event {
	return s.events
}

// Scrape fetches rawURL and extracts fields from it. It returns the
// canonical result or a *plugin.ScrapeError.
func (s *Scraper) Scrape(ctx context.Context, rawURL string, fields []string) (*plugin.Result, error) {
	return s.Do(ctx, Request{URL: rawURL, Fields: fields})
}

// Do runs one request. Unknown fields and malformed URLs are rejected with
// INVALID_REQUEST before anything is fetched.
func (s *Scraper) Do(ctx context.Context, req Request) (*plugin.Result, error) {
	if err := s.validate(req); err != nil {
		se := &plugin.ScrapeError{Code: plugin.CodeInvalidRequest, URL: req.URL, Err: err}
		s.metrics.IncScrape(string(se.Code))
		s.emit(plugin.Event{Type: plugin.EventScrapeFailed, URL: req.URL, Error: se})
		return nil, se
	}

	s.emit(plugin.Event{Type: plugin.EventScrapeStarted, URL: req.URL})

	plan := s.planner.Plan(ctx, classifier.Target{
		URL:         req.URL,
		ContentType: req.ContentType,
		Class:       req.Class,
		Method:      req.Method,
	})
	s.metrics.IncClass(plan.Class.String())
	s.logger.Debug("planned",
		zap.String("url", req.URL),
		zap.String("class", plan.Class.String()),
		zap.String("reason", plan.Reason),
		zap.Strings("plan", plan.IDs()))
	s.emit(plugin.Event{Type: plugin.EventPlanned, URL: req.URL, Message: plan.String()})

	res, err := s.orch.Run(ctx, req.URL, plan)
	if err != nil {
		var se *plugin.ScrapeError
		code := "error"
		if errors.As(err, &se) {
			code = string(se.Code)
		}
		s.metrics.IncScrape(code)
		s.emit(plugin.Event{Type: plugin.EventScrapeFailed, URL: req.URL, Error: err})
		return nil, err
	}

	if len(req.Fields) > 0 {
		res.Fields = s.extractors.ExtractAll(res, req.Fields)
	}
	s.metrics.IncScrape("success")
	s.emit(plugin.Event{Type: plugin.EventScrapeDone, URL: req.URL, Method: res.Method, Result: res})
	return res, nil
}

func (s *Scraper) validate(req Request) error {
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", req.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", req.URL)
	}
	return s.extractors.Validate(req.Fields)
}

// ScrapeAll runs reqs concurrently, at most cfg.Concurrency at a time, and
// hands each result to w as it arrives. w may be nil. Failures never stop
// the batch; they are collected in the summary, which keeps input order.
func (s *Scraper) ScrapeAll(ctx context.Context, reqs []Request, w plugin.OutputWriter) *plugin.Summary {
	sum := &plugin.Summary{StartedAt: time.Now()}
	results := make([]*plugin.Result, len(reqs))
	failures := make([]*plugin.ScrapeError, len(reqs))
	var writeMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Do(ctx, req)
			if err != nil {
				failures[i] = asScrapeError(req.URL, err)
				return nil
			}
			results[i] = res
			if w != nil {
				writeMu.Lock()
				werr := w.WriteResult(res)
				writeMu.Unlock()
				if werr != nil {
					s.logger.Warn("output write failed", zap.String("writer", w.Name()), zap.Error(werr))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := range reqs {
		if results[i] != nil {
			sum.Results = append(sum.Results, results[i])
		}
		if failures[i] != nil {
			sum.Failures = append(sum.Failures, failures[i])
		}
	}
	sum.FinishedAt = time.Now()
	sum.Duration = sum.FinishedAt.Sub(sum.StartedAt)
	return sum
}

func asScrapeError(rawURL string, err error) *plugin.ScrapeError {
	var se *plugin.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return &plugin.ScrapeError{Code: plugin.CodePlanExhausted, URL: rawURL, Err: err}
}

// Methods returns every registered method in registration order.
func (s *Scraper) Methods() []*registry.Method {
	return s.registry.All()
}

// LastResort is the resolved final fallback, or nil.
func (s *Scraper) LastResort() *registry.Method {
	return s.registry.LastResort()
}

// Fields lists the extractable field names.
func (s *Scraper) Fields() []string {
	return s.extractors.Fields()
}

// Identities reports the identity pool.
func (s *Scraper) Identities() []identity.Status {
	return s.rotator.Status()
}

// CaptchaBalance returns the 2Captcha balance, or an error when no key is
// configured.
func (s *Scraper) CaptchaBalance(ctx context.Context) (float64, error) {
	if s.solver == nil {
		return 0, errors.New("2captcha is not configured")
	}
	return s.solver.Balance(ctx)
}

// Close stops every launched fetcher and closes the event channel.
func (s *Scraper) Close() error {
	s.eventsMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.eventsMu.Unlock()
	return s.registry.Close()
}

// emit sends an event without blocking; a full channel drops it.
func (s *Scraper) emit(ev plugin.Event) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}
