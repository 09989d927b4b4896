package fetcher

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// StaticConfig holds configuration for the plain HTTP method.
type StaticConfig struct {
	MaxBodyBytes int64
	Headers      map[string]string
	Logger       *zap.Logger
}

// StaticFetcher downloads the raw document with net/http. It renders
// nothing and suits server-rendered pages and structured feeds.
type StaticFetcher struct {
	cfg        StaticConfig
	logger     *zap.Logger
	transports transports
}

// NewStaticFetcher creates the "static" method.
func NewStaticFetcher(cfg StaticConfig) *StaticFetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticFetcher{cfg: cfg, logger: logger.Named("static")}
}

func (f *StaticFetcher) Name() string { return "static" }

func (f *StaticFetcher) Fetch(ctx context.Context, targetURL string, opts plugin.FetchOptions) (*plugin.Response, error) {
	proxy, err := parseProxy(opts.Identity.Proxy)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, fmt.Errorf("build request: %w", err))
	}
	if opts.Identity.UserAgent != "" {
		req.Header.Set("User-Agent", opts.Identity.UserAgent)
	}
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Transport: f.transports.get(proxy), Timeout: opts.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp, f.cfg.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("fetched",
		zap.String("url", targetURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)))

	return &plugin.Response{
		URL:         targetURL,
		FinalURL:    finalURL(resp, targetURL),
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (f *StaticFetcher) Close() error {
	f.transports.closeIdle()
	return nil
}
