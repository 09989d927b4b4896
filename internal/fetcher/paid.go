package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// Default endpoints of the paid scraping APIs.
const (
	ScrapingBeeEndpoint    = "https://app.scrapingbee.com/api/v1/"
	WebScrapingAPIEndpoint = "https://api.webscrapingapi.com/v1"
	ScrapeNinjaEndpoint    = "https://api.scrapeninja.net/scrape"
)

// APIConfig is shared by the paid API methods. They route through the
// provider's own proxies and ignore the caller's identity.
type APIConfig struct {
	APIKey       string
	Endpoint     string
	RenderJS     bool
	PremiumProxy bool
	MaxBodyBytes int64
	Client       *http.Client
	Logger       *zap.Logger
}

type apiClient struct {
	name   string
	cfg    APIConfig
	logger *zap.Logger
}

func newAPIClient(name, endpoint string, cfg APIConfig) apiClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = endpoint
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 90 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return apiClient{name: name, cfg: cfg, logger: logger.Named(name)}
}

func (c apiClient) Name() string { return c.name }

func (c apiClient) Close() error {
	c.cfg.Client.CloseIdleConnections()
	return nil
}

// do sends req and returns the raw provider answer. Provider-side errors are
// reported as typed fetch errors: 401/402 mean the credential is unusable and
// are fatal regardless of marker configuration.
func (c apiClient) do(req *http.Request) (*http.Response, []byte, error) {
	if c.cfg.APIKey == "" {
		return nil, nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, fmt.Errorf("%s: missing api key", c.name))
	}
	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp, c.cfg.MaxBodyBytes)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusPaymentRequired:
		return nil, nil, plugin.NewFetchError(plugin.OutcomeFatal, 0,
			fmt.Errorf("%s rejected credential (status %d): %s", c.name, resp.StatusCode, snippet(body)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, plugin.NewFetchError(plugin.OutcomeRateLimited, resp.StatusCode,
			fmt.Errorf("%s concurrency limit: %s", c.name, snippet(body)))
	}
	return resp, body, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func boolParam(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

// ScrapingBee calls app.scrapingbee.com.
type ScrapingBee struct{ apiClient }

// NewScrapingBee creates the "scrapingbee" method.
func NewScrapingBee(cfg APIConfig) *ScrapingBee {
	return &ScrapingBee{newAPIClient("scrapingbee", ScrapingBeeEndpoint, cfg)}
}

func (s *ScrapingBee) Fetch(ctx context.Context, targetURL string, opts plugin.FetchOptions) (*plugin.Response, error) {
	q := url.Values{}
	q.Set("api_key", s.cfg.APIKey)
	q.Set("url", targetURL)
	q.Set("render_js", boolParam(s.cfg.RenderJS, "true", "false"))
	q.Set("premium_proxy", boolParam(s.cfg.PremiumProxy, "true", "false"))
	q.Set("transparent_status_code", "true")
	if s.cfg.RenderJS && opts.RenderWait > 0 {
		q.Set("wait", strconv.FormatInt(opts.RenderWait.Milliseconds(), 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, err)
	}

	resp, body, err := s.do(req)
	if err != nil {
		return nil, err
	}
	status := resp.StatusCode
	if v, err := strconv.Atoi(resp.Header.Get("Spb-Initial-Status-Code")); err == nil && v > 0 {
		status = v
	}
	final := resp.Header.Get("Spb-Resolved-Url")
	if final == "" {
		final = targetURL
	}
	return &plugin.Response{
		URL:         targetURL,
		FinalURL:    final,
		StatusCode:  status,
		Headers:     resp.Header.Clone(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Rendered:    s.cfg.RenderJS,
	}, nil
}

// WebScrapingAPI calls api.webscrapingapi.com.
type WebScrapingAPI struct{ apiClient }

// NewWebScrapingAPI creates the "webscrapingapi" method.
func NewWebScrapingAPI(cfg APIConfig) *WebScrapingAPI {
	return &WebScrapingAPI{newAPIClient("webscrapingapi", WebScrapingAPIEndpoint, cfg)}
}

func (w *WebScrapingAPI) Fetch(ctx context.Context, targetURL string, opts plugin.FetchOptions) (*plugin.Response, error) {
	q := url.Values{}
	q.Set("api_key", w.cfg.APIKey)
	q.Set("url", targetURL)
	q.Set("render_js", boolParam(w.cfg.RenderJS, "1", "0"))
	q.Set("proxy_type", boolParam(w.cfg.PremiumProxy, "residential", "datacenter"))
	if w.cfg.RenderJS && opts.RenderWait > 0 {
		q.Set("wait_until", "networkidle0")
		q.Set("timeout", strconv.FormatInt((opts.RenderWait+opts.Timeout).Milliseconds(), 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, err)
	}

	resp, body, err := w.do(req)
	if err != nil {
		return nil, err
	}
	return &plugin.Response{
		URL:         targetURL,
		FinalURL:    targetURL,
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Rendered:    w.cfg.RenderJS,
	}, nil
}

// ScrapeNinja calls api.scrapeninja.net, which wraps the target response in
// a JSON envelope.
type ScrapeNinja struct{ apiClient }

// NewScrapeNinja creates the "scrapeninja" method.
func NewScrapeNinja(cfg APIConfig) *ScrapeNinja {
	return &ScrapeNinja{newAPIClient("scrapeninja", ScrapeNinjaEndpoint, cfg)}
}

type ninjaRequest struct {
	URL          string `json:"url"`
	JavaScript   bool   `json:"javascript"`
	PremiumProxy bool   `json:"premium_proxy"`
}

type ninjaEnvelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Body    string `json:"body"`
	Info    struct {
		StatusCode int               `json:"statusCode"`
		FinalURL   string            `json:"finalUrl"`
		Headers    map[string]string `json:"headers"`
	} `json:"info"`
}

func (n *ScrapeNinja) Fetch(ctx context.Context, targetURL string, _ plugin.FetchOptions) (*plugin.Response, error) {
	payload, err := json.Marshal(ninjaRequest{URL: targetURL, JavaScript: n.cfg.RenderJS, PremiumProxy: n.cfg.PremiumProxy})
	if err != nil {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", n.cfg.APIKey)

	resp, body, err := n.do(req)
	if err != nil {
		return nil, err
	}
	var env ninjaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, plugin.NewFetchError(plugin.OutcomeFatal, resp.StatusCode, fmt.Errorf("scrapeninja: %s", snippet(body)))
		}
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, fmt.Errorf("scrapeninja: decode envelope: %w", err))
	}
	if env.Success != nil && !*env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = "unknown error"
		}
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, resp.StatusCode, errors.New("scrapeninja: "+msg))
	}
	if resp.StatusCode >= 400 {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, resp.StatusCode, fmt.Errorf("scrapeninja: %s", snippet(body)))
	}

	headers := make(http.Header, len(env.Info.Headers))
	for k, v := range env.Info.Headers {
		headers.Set(k, v)
	}
	status := env.Info.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	final := env.Info.FinalURL
	if final == "" {
		final = targetURL
	}
	return &plugin.Response{
		URL:         targetURL,
		FinalURL:    final,
		StatusCode:  status,
		Headers:     headers,
		ContentType: headers.Get("Content-Type"),
		Body:        []byte(env.Body),
		Rendered:    n.cfg.RenderJS,
	}, nil
}
