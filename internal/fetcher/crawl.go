package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// CrawlConfig holds configuration for the colly-backed method.
type CrawlConfig struct {
	MaxBodyBytes     int
	CustomHeaders    []string
	DisableRedirects bool
	Logger           *zap.Logger
}

// CrawlFetcher uses Colly for a single-page structured fetch. A fresh
// collector is built per attempt so the proxy and user agent of one identity
// never leak into a concurrent attempt.
type CrawlFetcher struct {
	cfg    CrawlConfig
	logger *zap.Logger
}

// NewCrawlFetcher creates the "crawl" method.
func NewCrawlFetcher(cfg CrawlConfig) *CrawlFetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrawlFetcher{cfg: cfg, logger: logger.Named("crawl")}
}

func (f *CrawlFetcher) Name() string { return "crawl" }

func (f *CrawlFetcher) collector(ctx context.Context, opts plugin.FetchOptions) (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	// One byte over the cap tells a cut body from one that fits exactly.
	c.MaxBodySize = f.cfg.MaxBodyBytes + 1
	c.ParseHTTPErrorResponse = true
	if opts.Identity.UserAgent != "" {
		c.UserAgent = opts.Identity.UserAgent
	}
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}

	if proxy, err := parseProxy(opts.Identity.Proxy); err != nil {
		return nil, err
	} else if proxy != nil {
		if err := c.SetProxy(proxy.String()); err != nil {
			return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, fmt.Errorf("set proxy: %w", err))
		}
	}

	if f.cfg.DisableRedirects {
		c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHTML)
		for _, h := range f.cfg.CustomHeaders {
			parts := strings.SplitN(h, ":", 2)
			if len(parts) == 2 {
				r.Headers.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			}
		}
	})
	return c, nil
}

func (f *CrawlFetcher) Fetch(ctx context.Context, targetURL string, opts plugin.FetchOptions) (*plugin.Response, error) {
	c, err := f.collector(ctx, opts)
	if err != nil {
		return nil, err
	}

	var (
		page     *plugin.Response
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		page = &plugin.Response{
			URL:        targetURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    make(http.Header),
			Body:       r.Body,
		}
		if r.Headers != nil {
			page.Headers = r.Headers.Clone()
			page.ContentType = r.Headers.Get("Content-Type")
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	if fetchErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("colly fetch: %w", ctx.Err())
		}
		return nil, fmt.Errorf("colly fetch: %w", fetchErr)
	}
	if page == nil {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, fmt.Errorf("colly fetch: no response for %s", targetURL))
	}
	if len(page.Body) > f.cfg.MaxBodyBytes {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, page.StatusCode,
			fmt.Errorf("response body exceeds limit of %d bytes", f.cfg.MaxBodyBytes))
	}
	f.logger.Debug("fetched",
		zap.String("url", targetURL),
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", len(page.Body)))
	return page, nil
}

func (f *CrawlFetcher) Close() error { return nil }
