package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// BrowserFetcherConfig holds configuration for the rod method.
type BrowserFetcherConfig struct {
	// Bin is the Chrome binary; empty lets the launcher find or download one.
	Bin        string
	Headless   bool
	RenderWait time.Duration
	// Solver, when set, answers reCAPTCHA and hCaptcha widgets found after
	// rendering.
	Solver *CaptchaSolver
	Logger *zap.Logger
}

// BrowserFetcher uses Rod (headless Chrome) for JS-rendered pages. Chrome
// takes its proxy on the command line, so one browser is launched per
// distinct proxy and reused across attempts.
type BrowserFetcher struct {
	cfg    BrowserFetcherConfig
	logger *zap.Logger

	mu       sync.Mutex
	browsers map[string]*rod.Browser
	closed   bool
}

// NewBrowserFetcher creates the "browser" method. Nothing is launched until
// the first fetch.
func NewBrowserFetcher(cfg BrowserFetcherConfig) *BrowserFetcher {
	if cfg.RenderWait <= 0 {
		cfg.RenderWait = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserFetcher{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		browsers: make(map[string]*rod.Browser),
	}
}

func (f *BrowserFetcher) Name() string { return "browser" }

func (f *BrowserFetcher) browser(proxy string) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("browser fetcher closed")
	}
	if b, ok := f.browsers[proxy]; ok {
		return b, nil
	}

	l := launcher.New().
		Headless(f.cfg.Headless).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if f.cfg.Bin != "" {
		l = l.Bin(f.cfg.Bin)
	}
	if proxy != "" {
		l = l.Proxy(proxy)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	f.browsers[proxy] = b
	f.logger.Info("launched browser", zap.String("proxy", redactOrDirect(proxy)))
	return b, nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, targetURL string, opts plugin.FetchOptions) (*plugin.Response, error) {
	proxy, err := parseProxy(opts.Identity.Proxy)
	if err != nil {
		return nil, err
	}
	var proxyArg string
	if proxy != nil {
		// Chrome ignores credentials in --proxy-server.
		proxyArg = proxy.Scheme + "://" + proxy.Host
	}

	b, err := f.browser(proxyArg)
	if err != nil {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, err)
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if proxy != nil && proxy.User != nil {
		pass, _ := proxy.User.Password()
		wait := b.Context(ctx).HandleAuth(proxy.User.Username(), pass)
		go func() { _ = wait() }()
	}
	if opts.Identity.UserAgent != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.Identity.UserAgent})
	}

	resp := &plugin.Response{URL: targetURL, FinalURL: targetURL, StatusCode: http.StatusOK, Rendered: true}
	waitDoc := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		resp.StatusCode = e.Response.Status
		resp.ContentType = e.Response.MIMEType
		return true
	})

	if err := page.Navigate(targetURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	waitDoc()

	renderWait := opts.RenderWait
	if renderWait <= 0 {
		renderWait = f.cfg.RenderWait
	}
	// A page that never settles is still read.
	if err := page.WaitStable(renderWait); err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("render: %w", ctx.Err())
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read rendered html: %w", err)
	}

	if f.cfg.Solver != nil {
		if ch, ok := DetectCaptcha([]byte(html)); ok {
			solved, err := f.solve(ctx, page, targetURL, ch, renderWait)
			if err != nil {
				f.logger.Warn("captcha hand-off failed", zap.String("url", targetURL), zap.Error(err))
			} else {
				html = solved
			}
		}
	}

	if info, err := page.Info(); err == nil && info.URL != "" {
		resp.FinalURL = info.URL
	}
	if resp.ContentType == "" {
		resp.ContentType = "text/html"
	}
	resp.Body = []byte(html)
	return resp, nil
}

const injectToken = `(token) => {
	document.querySelectorAll('[name="g-recaptcha-response"],[name="h-captcha-response"]').forEach((el) => { el.value = token; });
	const form = document.querySelector('form');
	if (form) { form.submit(); }
}`

// solve sends the widget to the captcha solver, injects the token and
// returns the page after it settles again.
func (f *BrowserFetcher) solve(ctx context.Context, page *rod.Page, pageURL string, ch Captcha, wait time.Duration) (string, error) {
	f.logger.Info("solving captcha", zap.String("url", pageURL), zap.String("kind", string(ch.Kind)))
	token, err := f.cfg.Solver.Solve(ctx, ch, pageURL)
	if err != nil {
		return "", err
	}
	if _, err := page.Eval(injectToken, token); err != nil {
		return "", fmt.Errorf("inject token: %w", err)
	}
	_ = page.WaitStable(wait)
	return page.HTML()
}

func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	var errs []error
	for key, b := range f.browsers {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(f.browsers, key)
	}
	return errors.Join(errs...)
}

func redactOrDirect(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	return redact(proxy)
}

// SolvesCaptcha reports whether a solver is wired in.
func (f *BrowserFetcher) SolvesCaptcha() bool {
	return f.cfg.Solver != nil
}
