// Package plugin defines the public interfaces for webscout.
// External tools can import this package to write custom fetch methods,
// extractors, or output writers without forking the project.
package plugin

import (
	"context"
	"net/http"
	"time"
)

// ---------- Core Data Types ----------

// Identity is the egress identity used for one fetch attempt.
type Identity struct {
	Proxy     string `json:"proxy,omitempty"` // empty means direct connection
	UserAgent string `json:"user_agent,omitempty"`
}

// Direct reports whether the identity goes out without a proxy.
func (i Identity) Direct() bool { return i.Proxy == "" }

// FetchOptions carries the per-attempt knobs the orchestrator hands to a method.
type FetchOptions struct {
	Identity   Identity
	Timeout    time.Duration
	RenderWait time.Duration
}

// Response is the raw content a method returned for a single attempt.
// Methods return a Response for every HTTP answer they receive, including
// 4xx/5xx; deciding whether it is a rate limit or a block is the caller's job.
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Headers     http.Header
	ContentType string
	Body        []byte
	Rendered    bool
}

// ExtractedItem represents a single piece of data extracted from a page.
type ExtractedItem struct {
	Type      string            `json:"type"` // "email", "phone", "heading", "link"
	Value     string            `json:"value"`
	SourceURL string            `json:"source_url"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Result is the canonical, method-agnostic outcome of a successful scrape.
// It is produced once per request and is not modified afterwards, except for
// Fields which the extraction layer fills in before handing it to callers.
type Result struct {
	SourceURL   string                     `json:"source_url"`
	FinalURL    string                     `json:"final_url"`
	Method      string                     `json:"method"`
	StatusCode  int                        `json:"status_code"`
	ContentType string                     `json:"content_type,omitempty"`
	Content     []byte                     `json:"-"`
	Headers     http.Header                `json:"-"`
	Class       string                     `json:"class"`
	Elapsed     time.Duration              `json:"elapsed"`
	Attempts    int                        `json:"attempts"`
	ProxyUsed   bool                       `json:"proxy_used"`
	FetchedAt   time.Time                  `json:"fetched_at"`
	History     []AttemptRecord            `json:"history,omitempty"`
	Fields      map[string][]ExtractedItem `json:"fields,omitempty"`
}

// AttemptRecord is the diagnostic trace of one attempt.
type AttemptRecord struct {
	Method   string        `json:"method"`
	Attempt  int           `json:"attempt"` // 1-based within the method
	Identity string        `json:"identity,omitempty"`
	Outcome  OutcomeKind   `json:"outcome"`
	Status   int           `json:"status,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Summary is the aggregated output of a batch of scrapes.
type Summary struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   time.Duration  `json:"duration"`
	Results    []*Result      `json:"results"`
	Failures   []*ScrapeError `json:"failures,omitempty"`
}

// ---------- Event Types ----------

// Event is a real-time notification emitted while a scrape runs.
type Event struct {
	Type    EventType
	URL     string
	Method  string
	Attempt *AttemptRecord
	Result  *Result
	Error   error
	Message string
}

// EventType identifies the kind of event.
type EventType int

const (
	EventScrapeStarted EventType = iota
	EventPlanned
	EventAttemptDone
	EventMethodAdvanced
	EventScrapeDone
	EventScrapeFailed
)

// ---------- Plugin Interfaces ----------

// Fetcher is one concrete way of retrieving a page.
type Fetcher interface {
	// Name returns the method identifier, e.g. "static" or "scrapingbee".
	Name() string

	// Fetch retrieves url. Failures that are not an HTTP answer are reported
	// as *FetchError when the method knows their kind.
	Fetch(ctx context.Context, url string, opts FetchOptions) (*Response, error)

	// Close releases any resources held by the fetcher.
	Close() error
}

// Extractor defines how data is extracted from a fetched page.
type Extractor interface {
	// Field returns the requested-field name this extractor serves (e.g. "emails").
	Field() string

	// Extract finds and returns items from the given result.
	Extract(res *Result) ([]ExtractedItem, error)
}

// OutputWriter defines how scrape results are persisted.
type OutputWriter interface {
	// Name returns a human-readable identifier for this writer.
	Name() string

	// WriteResult writes a single result (called incrementally).
	WriteResult(result *Result) error

	// Finalize writes the final summary and closes resources.
	Finalize(summary *Summary) error
}
