// Package api serves the scraper over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/internal/identity"
	"github.com/ramkansal/webscout/internal/metrics"
	"github.com/ramkansal/webscout/internal/registry"
	"github.com/ramkansal/webscout/internal/scraper"
	"github.com/ramkansal/webscout/pkg/plugin"
)

// Scraper is the part of *scraper.Scraper the API needs.
type Scraper interface {
	Do(ctx context.Context, req scraper.Request) (*plugin.Result, error)
	Methods() []*registry.Method
	LastResort() *registry.Method
	Fields() []string
	Identities() []identity.Status
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	addr       string
	scraper    Scraper
	cache      Cache
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
	timeout    time.Duration
	router     http.Handler
	httpServer *http.Server
}

// Option customises a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.Named("api")
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithCache caches successful scrape responses for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Server) { s.cache, s.cacheTTL = c, ttl }
}

// WithScrapeTimeout bounds a single scrape request. It should cover the
// plan budget.
func WithScrapeTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

func NewServer(addr string, sc Scraper, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		scraper:  sc,
		cacheTTL: time.Hour,
		logger:   zap.NewNop(),
		timeout:  3 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.timeout + 10*time.Second,
	}
	s.logger.Info("api listening", zap.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
