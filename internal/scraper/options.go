package scraper

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/metrics"
	"github.com/ramkansal/webscout/internal/registry"
)

// Request is one page to scrape.
type Request struct {
	URL string
	// Fields names the data to extract; empty means content only.
	Fields []string
	// Method forces a single method followed by the last resort.
	Method string
	// Class skips classification.
	Class classifier.Class
	// ContentType is a declared media type hint.
	ContentType string
}

// Option customises a Scraper.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	apiClient  *http.Client
	classifyHC *http.Client
	methods    []*registry.Method
	custom     bool
	eventsSize int
}

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics records scrapes, attempts and classifications on m.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithAPIClient sets the HTTP client used by the paid APIs and 2Captcha.
func WithAPIClient(c *http.Client) Option { return func(o *options) { o.apiClient = c } }

// WithClassifierClient sets the HTTP client the classifier fetches with.
func WithClassifierClient(c *http.Client) Option { return func(o *options) { o.classifyHC = c } }

// WithMethods replaces the built-in method set.
func WithMethods(ms ...*registry.Method) Option {
	return func(o *options) { o.methods, o.custom = ms, true }
}

// WithEventBuffer sizes the event channel. Events beyond it are dropped.
func WithEventBuffer(n int) Option { return func(o *options) { o.eventsSize = n } }
