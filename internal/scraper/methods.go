package scraper

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/config"
	"github.com/ramkansal/webscout/internal/fetcher"
	"github.com/ramkansal/webscout/internal/registry"
	"github.com/ramkansal/webscout/pkg/plugin"
)

// defaultMethods builds the enabled built-in methods in registration order.
// Fetchers are created lazily by the registry on first use.
// A nil solver leaves the browser method without captcha hand-off.
func defaultMethods(cfg *config.Config, solver *fetcher.CaptchaSolver, apiClient *http.Client, logger *zap.Logger) []*registry.Method {
	api := func(key string) fetcher.APIConfig {
		return fetcher.APIConfig{
			APIKey:       key,
			RenderJS:     true,
			PremiumProxy: true,
			MaxBodyBytes: cfg.Methods.MaxBodyBytes,
			Client:       apiClient,
			Logger:       logger,
		}
	}
	paidCaps := registry.Caps{RendersJS: true, OwnProxy: true}

	browserSuited := classifier.SetOf(classifier.Dynamic, classifier.Structured)
	browserCaps := registry.Caps{RendersJS: true}
	if solver != nil {
		browserSuited = browserSuited.With(classifier.Protected)
		browserCaps.SolvesCaptcha = true
	}

	all := []*registry.Method{
		{
			ID:     config.MethodStatic,
			Suited: classifier.SetOf(classifier.Static, classifier.Structured),
			Cost:   1,
			Factory: func() (plugin.Fetcher, error) {
				return fetcher.NewStaticFetcher(fetcher.StaticConfig{
					MaxBodyBytes: cfg.Methods.MaxBodyBytes,
					Headers:      headerMap(cfg.Methods.Headers),
					Logger:       logger,
				}), nil
			},
		},
		{
			ID:     config.MethodCrawl,
			Suited: classifier.SetOf(classifier.Structured, classifier.Static),
			Cost:   2,
			Factory: func() (plugin.Fetcher, error) {
				return fetcher.NewCrawlFetcher(fetcher.CrawlConfig{
					MaxBodyBytes:  int(cfg.Methods.MaxBodyBytes),
					CustomHeaders: cfg.Methods.Headers,
					Logger:        logger,
				}), nil
			},
		},
		{
			ID:     config.MethodBrowser,
			Suited: browserSuited,
			Cost:   5,
			Caps:   browserCaps,
			Factory: func() (plugin.Fetcher, error) {
				return fetcher.NewBrowserFetcher(fetcher.BrowserFetcherConfig{
					Bin:        cfg.Methods.BrowserBin,
					Headless:   cfg.Methods.Headless,
					RenderWait: cfg.Methods.RenderWait,
					Solver:     solver,
					Logger:     logger,
				}), nil
			},
		},
		{
			ID:     config.MethodChromedp,
			Suited: classifier.SetOf(classifier.Dynamic),
			Cost:   6,
			Caps:   registry.Caps{RendersJS: true},
			Factory: func() (plugin.Fetcher, error) {
				return fetcher.NewChromedpFetcher(fetcher.ChromedpConfig{
					ExecPath:   cfg.Methods.BrowserBin,
					Headless:   cfg.Methods.Headless,
					RenderWait: cfg.Methods.RenderWait,
					Logger:     logger,
				}), nil
			},
		},
		{
			ID:              config.MethodScrapeNinja,
			Suited:          classifier.AllClasses,
			Cost:            20,
			Caps:            paidCaps,
			NeedsCredential: true,
			Credential:      cfg.APIKeys.ScrapeNinja,
			Quota:           quota(cfg.Methods.QuotaPerMinute),
			Factory: func() (plugin.Fetcher, error) {
				return fetcher.NewScrapeNinja(api(cfg.APIKeys.ScrapeNinja)), nil
			},
		},
		{
			ID:              config.MethodWebScrapingAPI,
			Suited:          classifier.AllClasses,
			Cost:            25,
			Caps:            paidCaps,
			NeedsCredential: true,
			Credential:      cfg.APIKeys.WebScrapingAPI,
			Quota:           quota(cfg.Methods.QuotaPerMinute),
			Factory: func() (plugin.Fetcher, error) {
				return fetcher.NewWebScrapingAPI(api(cfg.APIKeys.WebScrapingAPI)), nil
			},
		},
		{
			ID:              config.MethodScrapingBee,
			Suited:          classifier.AllClasses,
			Cost:            30,
			Caps:            registry.Caps{RendersJS: true, SolvesCaptcha: true, OwnProxy: true},
			NeedsCredential: true,
			Credential:      cfg.APIKeys.ScrapingBee,
			Quota:           quota(cfg.Methods.QuotaPerMinute),
			Factory: func() (plugin.Fetcher, error) {
				return fetcher.NewScrapingBee(api(cfg.APIKeys.ScrapingBee)), nil
			},
		},
	}

	var enabled []*registry.Method
	for _, m := range all {
		if cfg.MethodEnabled(m.ID) {
			enabled = append(enabled, m)
		}
	}
	return enabled
}

// quota returns a limiter admitting perMinute invocations, or nil for none.
func quota(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// headerMap parses "Name: value" entries; malformed ones are skipped.
func headerMap(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if name = strings.TrimSpace(name); ok && name != "" {
			out[name] = strings.TrimSpace(value)
		}
	}
	return out
}
