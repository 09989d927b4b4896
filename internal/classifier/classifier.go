// Package classifier estimates how hard a target page is to fetch, from a
// cheap preliminary request and caller-supplied hints.
package classifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Target is one page to scrape. It is not modified once classification starts.
type Target struct {
	URL string
	// ContentType is the declared media type hint, if the caller knows it.
	ContentType string
	// Class forces the classification when set.
	Class Class
	// Method forces a single method (plus the last resort) when set.
	Method string
}

// Config controls the preliminary fetch.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	CacheTTL  time.Duration
	CacheSize int
	// Overrides maps a host (and its subdomains) to a fixed class.
	Overrides map[string]Class
	Client    *http.Client
	Logger    *zap.Logger
}

// Classifier inspects targets. It is safe for concurrent use.
type Classifier struct {
	cfg    Config
	client *http.Client
	cache  *expirable.LRU[string, Verdict]
	logger *zap.Logger
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 512 * 1024
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		cfg:    cfg,
		client: client,
		cache:  expirable.NewLRU[string, Verdict](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logger.Named("classifier"),
	}
}

// Classify returns the complexity class of t. It never fails: anything it
// cannot decide degrades to Dynamic.
func (c *Classifier) Classify(ctx context.Context, t Target) Class {
	return c.Estimate(ctx, t).Class
}

// Estimate is Classify with the reason attached.
func (c *Classifier) Estimate(ctx context.Context, t Target) Verdict {
	v := c.estimate(ctx, t)
	c.logger.Debug("classified",
		zap.String("url", t.URL),
		zap.String("class", v.Class.String()),
		zap.String("reason", v.Reason))
	return v
}

func (c *Classifier) estimate(ctx context.Context, t Target) Verdict {
	if t.Class != Unknown {
		return Verdict{Class: t.Class, Reason: "caller override", Conclusive: true}
	}

	u, err := url.Parse(t.URL)
	if err != nil || u.Host == "" {
		return Verdict{Class: Dynamic, Reason: "unparseable url"}
	}
	if cls, ok := c.hostOverride(u.Hostname()); ok {
		return Verdict{Class: cls, Reason: "host override", Conclusive: true}
	}
	if v, ok := classifyByContentType(t.ContentType); ok && v.Conclusive {
		return v
	}

	key := u.String()
	if v, ok := c.cache.Get(key); ok {
		return v
	}

	v, err := c.inspect(ctx, key)
	if err != nil {
		return Verdict{Class: Dynamic, Reason: "inspection failed: " + err.Error()}
	}
	if v.Conclusive {
		c.cache.Add(key, v)
	}
	return v
}

func (c *Classifier) hostOverride(host string) (Class, bool) {
	host = strings.ToLower(host)
	for h, cls := range c.cfg.Overrides {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return cls, true
		}
	}
	return Unknown, false
}

func (c *Classifier) inspect(ctx context.Context, target string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes))
	if err != nil {
		return Verdict{}, fmt.Errorf("read body: %w", err)
	}
	return ClassifyDocument(resp.StatusCode, resp.Header, body), nil
}
