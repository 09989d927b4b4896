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

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// CaptchaKind is the widget family.
type CaptchaKind string

const (
	CaptchaRecaptcha CaptchaKind = "recaptcha"
	CaptchaHCaptcha  CaptchaKind = "hcaptcha"
)

// Captcha describes a widget found on a rendered page.
type Captcha struct {
	Kind    CaptchaKind
	SiteKey string
}

// DetectCaptcha looks for a reCAPTCHA or hCaptcha widget with a sitekey.
func DetectCaptcha(html []byte) (Captcha, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Captcha{}, false
	}
	var found Captcha
	doc.Find("[data-sitekey]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		key := strings.TrimSpace(s.AttrOr("data-sitekey", ""))
		if key == "" {
			return true
		}
		found = Captcha{Kind: CaptchaRecaptcha, SiteKey: key}
		if s.HasClass("h-captcha") {
			found.Kind = CaptchaHCaptcha
		}
		return false
	})
	if found.SiteKey == "" {
		return Captcha{}, false
	}
	if found.Kind == CaptchaRecaptcha && doc.Find(`script[src*="hcaptcha.com"]`).Length() > 0 {
		found.Kind = CaptchaHCaptcha
	}
	return found, true
}

// CaptchaSolverConfig configures the 2Captcha client.
type CaptchaSolverConfig struct {
	APIKey string
	// BaseURL defaults to https://2captcha.com.
	BaseURL      string
	PollInterval time.Duration
	Client       *http.Client
	Logger       *zap.Logger
}

// CaptchaSolver submits widgets to 2Captcha and polls for the token.
type CaptchaSolver struct {
	cfg    CaptchaSolverConfig
	logger *zap.Logger
}

// ErrCaptchaUnsolvable is returned when 2Captcha gives up on a task.
var ErrCaptchaUnsolvable = errors.New("captcha unsolvable")

// NewCaptchaSolver returns nil when no key is configured.
func NewCaptchaSolver(cfg CaptchaSolverConfig) *CaptchaSolver {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://2captcha.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptchaSolver{cfg: cfg, logger: logger.Named("2captcha")}
}

type twoCaptchaReply struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve returns the response token for ch on pageURL. It blocks until the
// task is solved, fails, or ctx ends.
func (s *CaptchaSolver) Solve(ctx context.Context, ch Captcha, pageURL string) (string, error) {
	form := url.Values{
		"key":     {s.cfg.APIKey},
		"pageurl": {pageURL},
		"json":    {"1"},
	}
	switch ch.Kind {
	case CaptchaHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", ch.SiteKey)
	default:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", ch.SiteKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	submitted, err := s.call(req)
	if err != nil {
		return "", fmt.Errorf("submit captcha: %w", err)
	}
	if submitted.Status != 1 {
		return "", fmt.Errorf("submit captcha: %s", submitted.Request)
	}
	id := submitted.Request
	s.logger.Debug("captcha submitted", zap.String("id", id), zap.String("kind", string(ch.Kind)))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		q := url.Values{"key": {s.cfg.APIKey}, "action": {"get"}, "id": {id}, "json": {"1"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/res.php?"+q.Encode(), nil)
		if err != nil {
			return "", err
		}
		reply, err := s.call(req)
		if err != nil {
			return "", fmt.Errorf("poll captcha: %w", err)
		}
		switch {
		case reply.Status == 1:
			return reply.Request, nil
		case reply.Request == "CAPCHA_NOT_READY":
			continue
		case reply.Request == "ERROR_CAPTCHA_UNSOLVABLE":
			return "", ErrCaptchaUnsolvable
		default:
			return "", fmt.Errorf("poll captcha: %s", reply.Request)
		}
	}
}

// Balance returns the account balance.
func (s *CaptchaSolver) Balance(ctx context.Context) (float64, error) {
	q := url.Values{"key": {s.cfg.APIKey}, "action": {"getbalance"}, "json": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/res.php?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	reply, err := s.call(req)
	if err != nil {
		return 0, err
	}
	if reply.Status != 1 {
		return 0, fmt.Errorf("balance: %s", reply.Request)
	}
	return strconv.ParseFloat(reply.Request, 64)
}

func (s *CaptchaSolver) call(req *http.Request) (*twoCaptchaReply, error) {
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var reply twoCaptchaReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &reply, nil
}
