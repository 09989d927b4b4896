// Package config loads webscout settings from defaults, an optional config
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/orchestrator"
)

// EnvPrefix is prepended to every environment key, with dots replaced by
// underscores: WEBSCOUT_MAX_RETRIES, WEBSCOUT_API_KEYS_SCRAPINGBEE, ...
const EnvPrefix = "WEBSCOUT"

// Method ids in registration order.
const (
	MethodStatic         = "static"
	MethodCrawl          = "crawl"
	MethodBrowser        = "browser"
	MethodChromedp       = "chromedp"
	MethodScrapeNinja    = "scrapeninja"
	MethodWebScrapingAPI = "webscrapingapi"
	MethodScrapingBee    = "scrapingbee"
)

// MethodIDs lists every method the scraper knows how to build.
var MethodIDs = []string{
	MethodStatic,
	MethodCrawl,
	MethodBrowser,
	MethodChromedp,
	MethodScrapeNinja,
	MethodWebScrapingAPI,
	MethodScrapingBee,
}

// Config holds all runtime settings.
type Config struct {
	APIKeys          APIKeys          `mapstructure:"api_keys"`
	Proxies          []string         `mapstructure:"proxies"`
	ProxyAuth        ProxyAuth        `mapstructure:"proxy_auth"`
	UseProxyRotation bool             `mapstructure:"use_proxy_rotation"`
	UserAgents       []string         `mapstructure:"user_agents"`
	DefaultTimeout   time.Duration    `mapstructure:"default_timeout"`
	MaxRetries       int              `mapstructure:"max_retries"`
	BackoffBase      time.Duration    `mapstructure:"backoff_base"`
	BackoffMax       time.Duration    `mapstructure:"backoff_max"`
	Budget           time.Duration    `mapstructure:"budget"`
	Concurrency      int              `mapstructure:"concurrency"`
	RateLimitMarkers Markers          `mapstructure:"rate_limit_markers"`
	BlockMarkers     Markers          `mapstructure:"block_markers"`
	Classifier       ClassifierConfig `mapstructure:"classifier"`
	Identity         IdentityConfig   `mapstructure:"identity"`
	Methods          MethodsConfig    `mapstructure:"methods"`
	Server           ServerConfig     `mapstructure:"server"`
	Redis            RedisConfig      `mapstructure:"redis"`
	Metrics          MetricsConfig    `mapstructure:"metrics"`
	Log              LogConfig        `mapstructure:"log"`
}

// APIKeys are the credentials of the paid methods. An empty key leaves the
// method unavailable.
type APIKeys struct {
	ScrapingBee    string `mapstructure:"scrapingbee"`
	WebScrapingAPI string `mapstructure:"webscrapingapi"`
	ScrapeNinja    string `mapstructure:"scrapeninja"`
	TwoCaptcha     string `mapstructure:"twocaptcha"`
}

// ProxyAuth supplies credentials for proxies listed without them.
type ProxyAuth struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Markers are the signals that identify a rate-limit or block response.
type Markers struct {
	Statuses []int    `mapstructure:"statuses"`
	Body     []string `mapstructure:"body"`
}

type ClassifierConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
	// Overrides are "host=CLASS" pairs. Hosts may contain dots, which viper
	// would otherwise split into nested keys.
	Overrides []string `mapstructure:"overrides"`
}

type IdentityConfig struct {
	CooldownBase time.Duration `mapstructure:"cooldown_base"`
	CooldownMax  time.Duration `mapstructure:"cooldown_max"`
	RetireAfter  int           `mapstructure:"retire_after"`
}

type MethodsConfig struct {
	Enabled        []string      `mapstructure:"enabled"`
	LastResort     string        `mapstructure:"last_resort"`
	RenderWait     time.Duration `mapstructure:"render_wait"`
	QuotaPerMinute int           `mapstructure:"quota_per_minute"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	BrowserBin     string        `mapstructure:"browser_bin"`
	Headless       bool          `mapstructure:"headless"`
	Headers        []string      `mapstructure:"headers"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultTimeout: 30 * time.Second,
		MaxRetries:     3,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     10 * time.Second,
		Budget:         2 * time.Minute,
		Concurrency:    4,
		RateLimitMarkers: Markers{
			Statuses: []int{429, 503},
		},
		BlockMarkers: Markers{
			Statuses: []int{403},
			Body:     append([]string(nil), orchestrator.DefaultBlockBodyMarkers...),
		},
		Classifier: ClassifierConfig{
			Timeout:   5 * time.Second,
			CacheTTL:  10 * time.Minute,
			CacheSize: 512,
		},
		Identity: IdentityConfig{
			CooldownBase: 5 * time.Second,
			CooldownMax:  5 * time.Minute,
			RetireAfter:  3,
		},
		Methods: MethodsConfig{
			Enabled:        append([]string(nil), MethodIDs...),
			LastResort:     "auto",
			RenderWait:     2 * time.Second,
			QuotaPerMinute: 60,
			MaxBodyBytes:   5 << 20,
			Headless:       true,
		},
		Server: ServerConfig{Addr: ":8080"},
		Redis:  RedisConfig{TTL: time.Hour},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// aliases are environment names honoured in addition to the prefixed keys.
var aliases = map[string]string{
	"api_keys.scrapingbee":    "SCRAPINGBEE_API_KEY",
	"api_keys.webscrapingapi": "WEBSCRAPINGAPI_API_KEY",
	"api_keys.scrapeninja":    "SCRAPENINJA_API_KEY",
	"api_keys.twocaptcha":     "TWOCAPTCHA_API_KEY",
	"proxies":                 "PROXY_LIST",
	"proxy_auth.username":     "PROXY_USERNAME",
	"proxy_auth.password":     "PROXY_PASSWORD",
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"timeout":        "default_timeout",
	"max-retries":    "max_retries",
	"backoff":        "backoff_base",
	"budget":         "budget",
	"concurrency":    "concurrency",
	"proxy":          "proxies",
	"rotate":         "use_proxy_rotation",
	"methods":        "methods.enabled",
	"last-resort":    "methods.last_resort",
	"render-wait":    "methods.render_wait",
	"browser-bin":    "methods.browser_bin",
	"header":         "methods.headers",
	"addr":           "server.addr",
	"redis-addr":     "redis.addr",
	"metrics-addr":   "metrics.addr",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"scrapingbee":    "api_keys.scrapingbee",
	"webscrapingapi": "api_keys.webscrapingapi",
	"scrapeninja":    "api_keys.scrapeninja",
	"twocaptcha":     "api_keys.twocaptcha",
}

// RegisterFlags defines the configuration flags on fs, with defaults taken
// from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Config file (yaml, toml or json)")
	fs.Duration("timeout", d.DefaultTimeout, "Hard timeout per method attempt")
	fs.Int("max-retries", d.MaxRetries, "Attempts per method before advancing")
	fs.Duration("backoff", d.BackoffBase, "Base retry backoff (doubles per retry)")
	fs.Duration("budget", d.Budget, "Wall-clock ceiling per URL (0 disables)")
	fs.Int("concurrency", d.Concurrency, "URLs scraped in parallel")
	fs.StringSlice("proxy", nil, "Proxy endpoint (repeatable or comma separated)")
	fs.Bool("rotate", false, "Rotate proxies across attempts")
	fs.StringSlice("methods", d.Methods.Enabled, "Enabled methods")
	fs.String("last-resort", d.Methods.LastResort, "Final fallback: auto, none or a method id")
	fs.Duration("render-wait", d.Methods.RenderWait, "Time given to JavaScript before capture")
	fs.String("browser-bin", "", "Chrome binary for the browser methods")
	fs.StringArray("header", nil, "Extra request header 'Name: value' (repeatable)")
	fs.String("addr", d.Server.Addr, "Listen address for serve")
	fs.String("redis-addr", "", "Redis address for the API result cache")
	fs.String("metrics-addr", "", "Expose prometheus metrics on this address")
	fs.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	fs.String("log-format", d.Log.Format, "Log format: console or json")
	fs.String("scrapingbee", "", "ScrapingBee API key")
	fs.String("webscrapingapi", "", "WebScrapingAPI API key")
	fs.String("scrapeninja", "", "ScrapeNinja API key")
	fs.String("twocaptcha", "", "2Captcha API key")
}

// Load builds the configuration. fs may be nil; when it carries a "config"
// flag, that file is read.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range aliases {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", f.Value.String(), err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Proxies = splitList(cfg.Proxies)
	cfg.Methods.Enabled = splitList(cfg.Methods.Enabled)
	cfg.Classifier.Overrides = splitList(cfg.Classifier.Overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api_keys.scrapingbee", "")
	v.SetDefault("api_keys.webscrapingapi", "")
	v.SetDefault("api_keys.scrapeninja", "")
	v.SetDefault("api_keys.twocaptcha", "")
	v.SetDefault("proxies", []string{})
	v.SetDefault("proxy_auth.username", "")
	v.SetDefault("proxy_auth.password", "")
	v.SetDefault("use_proxy_rotation", d.UseProxyRotation)
	v.SetDefault("user_agents", []string{})
	v.SetDefault("default_timeout", d.DefaultTimeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("backoff_base", d.BackoffBase)
	v.SetDefault("backoff_max", d.BackoffMax)
	v.SetDefault("budget", d.Budget)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("rate_limit_markers.statuses", d.RateLimitMarkers.Statuses)
	v.SetDefault("rate_limit_markers.body", []string{})
	v.SetDefault("block_markers.statuses", d.BlockMarkers.Statuses)
	v.SetDefault("block_markers.body", d.BlockMarkers.Body)
	v.SetDefault("classifier.timeout", d.Classifier.Timeout)
	v.SetDefault("classifier.cache_ttl", d.Classifier.CacheTTL)
	v.SetDefault("classifier.cache_size", d.Classifier.CacheSize)
	v.SetDefault("classifier.overrides", []string{})
	v.SetDefault("identity.cooldown_base", d.Identity.CooldownBase)
	v.SetDefault("identity.cooldown_max", d.Identity.CooldownMax)
	v.SetDefault("identity.retire_after", d.Identity.RetireAfter)
	v.SetDefault("methods.enabled", d.Methods.Enabled)
	v.SetDefault("methods.last_resort", d.Methods.LastResort)
	v.SetDefault("methods.render_wait", d.Methods.RenderWait)
	v.SetDefault("methods.quota_per_minute", d.Methods.QuotaPerMinute)
	v.SetDefault("methods.max_body_bytes", d.Methods.MaxBodyBytes)
	v.SetDefault("methods.browser_bin", "")
	v.SetDefault("methods.headless", d.Methods.Headless)
	v.SetDefault("methods.headers", []string{})
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl", d.Redis.TTL)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	var errs []error
	if c.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("default_timeout must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("max_retries must be at least 1"))
	}
	if c.BackoffBase < 0 {
		errs = append(errs, errors.New("backoff_base cannot be negative"))
	}
	if c.BackoffMax < c.BackoffBase {
		errs = append(errs, errors.New("backoff_max must not be below backoff_base"))
	}
	if c.Budget < 0 {
		errs = append(errs, errors.New("budget cannot be negative"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	if c.Identity.RetireAfter < 1 {
		errs = append(errs, errors.New("identity.retire_after must be at least 1"))
	}
	if c.Methods.QuotaPerMinute < 0 {
		errs = append(errs, errors.New("methods.quota_per_minute cannot be negative"))
	}
	if c.Methods.RenderWait < 0 {
		errs = append(errs, errors.New("methods.render_wait cannot be negative"))
	}
	if c.UseProxyRotation && len(c.Proxies) == 0 {
		errs = append(errs, errors.New("use_proxy_rotation needs at least one proxy"))
	}
	for _, p := range c.Proxies {
		if _, err := c.proxyURL(p); err != nil {
			errs = append(errs, fmt.Errorf("proxies: %w", err))
		}
	}
	if c.ProxyAuth.Password != "" && c.ProxyAuth.Username == "" {
		errs = append(errs, errors.New("proxy_auth.password needs proxy_auth.username"))
	}

	known := make(map[string]bool, len(MethodIDs))
	for _, id := range MethodIDs {
		known[id] = true
	}
	if len(c.Methods.Enabled) == 0 {
		errs = append(errs, errors.New("methods.enabled cannot be empty"))
	}
	for _, id := range c.Methods.Enabled {
		if !known[id] {
			errs = append(errs, fmt.Errorf("methods.enabled: unknown method %q", id))
		}
	}
	switch lr := c.Methods.LastResort; {
	case lr == "auto", lr == "none", known[lr]:
	default:
		errs = append(errs, fmt.Errorf("methods.last_resort: %q is not auto, none or a method id", lr))
	}

	for _, pair := range c.Classifier.Overrides {
		if _, _, err := parseOverride(pair); err != nil {
			errs = append(errs, fmt.Errorf("classifier.overrides: %w", err))
		}
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ClassOverrides returns the parsed host overrides. Invalid entries are
// rejected by Validate.
func (c *Config) ClassOverrides() map[string]classifier.Class {
	out := make(map[string]classifier.Class, len(c.Classifier.Overrides))
	for _, pair := range c.Classifier.Overrides {
		if host, cls, err := parseOverride(pair); err == nil {
			out[host] = cls
		}
	}
	return out
}

func parseOverride(pair string) (string, classifier.Class, error) {
	host, name, ok := strings.Cut(pair, "=")
	host = strings.ToLower(strings.TrimSpace(host))
	if !ok || host == "" {
		return "", classifier.Unknown, fmt.Errorf("%q: want host=CLASS", pair)
	}
	cls, err := classifier.ParseClass(name)
	if err != nil {
		return "", classifier.Unknown, fmt.Errorf("%s: %w", host, err)
	}
	return host, cls, nil
}

// ProxyURLs returns the proxy list as absolute URLs. Entries without a
// scheme are taken as http, and proxy_auth fills in entries that carry no
// credentials of their own. Invalid entries are rejected by Validate.
func (c *Config) ProxyURLs() []string {
	out := make([]string, 0, len(c.Proxies))
	for _, p := range c.Proxies {
		if u, err := c.proxyURL(p); err == nil {
			out = append(out, u)
		}
	}
	return out
}

func (c *Config) proxyURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return "", fmt.Errorf("%q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%q: missing host", raw)
	}
	if u.User == nil && c.ProxyAuth.Username != "" {
		if c.ProxyAuth.Password != "" {
			u.User = url.UserPassword(c.ProxyAuth.Username, c.ProxyAuth.Password)
		} else {
			u.User = url.User(c.ProxyAuth.Username)
		}
	}
	return u.String(), nil
}

// MethodEnabled reports whether id is in methods.enabled.
func (c *Config) MethodEnabled(id string) bool {
	for _, m := range c.Methods.Enabled {
		if m == id {
			return true
		}
	}
	return false
}
