package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// ChromedpConfig configures the chromedp method.
type ChromedpConfig struct {
	ExecPath   string
	Headless   bool
	RenderWait time.Duration
	Logger     *zap.Logger
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// ChromedpFetcher renders pages through a second headless Chrome engine.
// Allocators are keyed by proxy and user agent, both of which Chrome only
// accepts at launch.
type ChromedpFetcher struct {
	cfg    ChromedpConfig
	logger *zap.Logger

	mu     sync.Mutex
	allocs map[string]allocator
	closed bool
}

// NewChromedpFetcher creates the "chromedp" method.
func NewChromedpFetcher(cfg ChromedpConfig) *ChromedpFetcher {
	if cfg.RenderWait <= 0 {
		cfg.RenderWait = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpFetcher{cfg: cfg, logger: logger.Named("chromedp"), allocs: make(map[string]allocator)}
}

func (f *ChromedpFetcher) Name() string { return "chromedp" }

func (f *ChromedpFetcher) allocator(proxy, ua string) (context.Context, error) {
	key := proxy + "|" + ua
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("chromedp fetcher closed")
	}
	if a, ok := f.allocs[key]; ok {
		return a.ctx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	if ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	f.allocs[key] = allocator{ctx: ctx, cancel: cancel}
	return ctx, nil
}

func (f *ChromedpFetcher) Fetch(ctx context.Context, targetURL string, opts plugin.FetchOptions) (*plugin.Response, error) {
	proxy, err := parseProxy(opts.Identity.Proxy)
	if err != nil {
		return nil, err
	}
	// Chrome takes no credentials on --proxy-server; they are answered on
	// the auth challenge instead.
	var (
		proxyArg  string
		proxyUser *url.Userinfo
	)
	if proxy != nil {
		proxyArg = proxy.Scheme + "://" + proxy.Host
		proxyUser = proxy.User
	}

	allocCtx, err := f.allocator(proxyArg, opts.Identity.UserAgent)
	if err != nil {
		return nil, plugin.NewFetchError(plugin.OutcomeFatal, 0, err)
	}

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		mu          sync.Mutex
		status      = http.StatusOK
		contentType string
		seen        bool
	)
	challenged := make(map[fetch.RequestID]bool)
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeDocument {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if !seen {
				seen = true
				status = int(e.Response.Status)
				contentType = e.Response.MimeType
			}

		case *fetch.EventAuthRequired:
			mu.Lock()
			resp := proxyAuthResponse(proxyUser, e.AuthChallenge, challenged[e.RequestID])
			challenged[e.RequestID] = true
			mu.Unlock()
			go f.answer(taskCtx, fetch.ContinueWithAuth(e.RequestID, resp))

		case *fetch.EventRequestPaused:
			go f.answer(taskCtx, fetch.ContinueRequest(e.RequestID))
		}
	})

	renderWait := opts.RenderWait
	if renderWait <= 0 {
		renderWait = f.cfg.RenderWait
	}

	var html, location string
	actions := []chromedp.Action{network.Enable()}
	if proxyUser != nil {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	actions = append(actions,
		chromedp.Navigate(targetURL),
		chromedp.Sleep(renderWait),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	err = chromedp.Run(taskCtx, actions...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chromedp render: %w", ctx.Err())
		}
		return nil, fmt.Errorf("chromedp render: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if contentType == "" {
		contentType = "text/html"
	}
	if location == "" {
		location = targetURL
	}
	f.logger.Debug("rendered", zap.String("url", targetURL), zap.Int("status", status), zap.Int("bytes", len(html)))
	return &plugin.Response{
		URL:         targetURL,
		FinalURL:    location,
		StatusCode:  status,
		ContentType: contentType,
		Body:        []byte(html),
		Rendered:    true,
	}, nil
}

// answer runs a fetch-domain reply on the page target. Event listeners must
// not block, so callers run it on its own goroutine.
func (f *ChromedpFetcher) answer(ctx context.Context, action chromedp.Action) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	if err := action.Do(cdp.WithExecutor(ctx, c.Target)); err != nil && ctx.Err() == nil {
		f.logger.Debug("fetch reply failed", zap.Error(err))
	}
}

// proxyAuthResponse answers an auth challenge. Only proxy challenges get the
// identity's credentials, and only once per request so a rejected login
// fails instead of looping.
func proxyAuthResponse(user *url.Userinfo, challenge *fetch.AuthChallenge, answered bool) *fetch.AuthChallengeResponse {
	if user == nil || answered || challenge == nil || challenge.Source != fetch.AuthChallengeSourceProxy {
		return &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
	}
	pw, _ := user.Password()
	return &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: user.Username(),
		Password: pw,
	}
}

func (f *ChromedpFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for key, a := range f.allocs {
		a.cancel()
		delete(f.allocs, key)
	}
	return nil
}
