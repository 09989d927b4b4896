package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// OutcomeKind classifies the result of one attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeBlocked
	OutcomeTimeout
	OutcomeFatal
)

// Label returns a low-cardinality name for logs and metrics.
func (k OutcomeKind) Label() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func (k OutcomeKind) String() string { return k.Label() }

// MarshalText encodes the kind as its label.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.Label()), nil
}

// FetchError is a typed failure reported by a fetch method.
type FetchError struct {
	Kind   OutcomeKind
	Status int
	Err    error
}

func NewFetchError(kind OutcomeKind, status int, err error) *FetchError {
	return &FetchError{Kind: kind, Status: status, Err: err}
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind.Label(), e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind.Label(), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Sentinels for terminal scrape failures.
var (
	ErrNoMethodAvailable     = errors.New("no method available")
	ErrPlanExhausted         = errors.New("plan exhausted")
	ErrTimeoutBudgetExceeded = errors.New("timeout budget exceeded")
	ErrCanceled              = errors.New("scrape canceled")
	ErrInvalidRequest        = errors.New("invalid request")
)

// ErrorCode names a terminal failure.
type ErrorCode string

const (
	CodeNoMethodAvailable     ErrorCode = "NO_METHOD_AVAILABLE"
	CodePlanExhausted         ErrorCode = "PLAN_EXHAUSTED"
	CodeTimeoutBudgetExceeded ErrorCode = "TIMEOUT_BUDGET_EXCEEDED"
	CodeCanceled              ErrorCode = "CANCELED"
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
)

func (c ErrorCode) sentinel() error {
	switch c {
	case CodeNoMethodAvailable:
		return ErrNoMethodAvailable
	case CodePlanExhausted:
		return ErrPlanExhausted
	case CodeTimeoutBudgetExceeded:
		return ErrTimeoutBudgetExceeded
	case CodeCanceled:
		return ErrCanceled
	case CodeInvalidRequest:
		return ErrInvalidRequest
	}
	return nil
}

// ScrapeError is the structured failure surfaced to callers. It always
// carries the classification, the plan that was walked and the ordered
// attempt history.
type ScrapeError struct {
	Code     ErrorCode       `json:"code"`
	URL      string          `json:"url"`
	Class    string          `json:"class,omitempty"`
	Plan     []string        `json:"plan"`
	Attempts []AttemptRecord `json:"attempts"`
	Err      error           `json:"-"`
}

func (e *ScrapeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.URL)
	if e.Class != "" {
		fmt.Fprintf(&b, " (class %s)", e.Class)
	}
	if len(e.Plan) > 0 {
		fmt.Fprintf(&b, " plan=[%s]", strings.Join(e.Plan, ","))
	}
	fmt.Fprintf(&b, " attempts=%d", len(e.Attempts))
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the code sentinel and the underlying cause, so that
// errors.Is matches ErrPlanExhausted as well as context.Canceled.
func (e *ScrapeError) Unwrap() []error {
	var errs []error
	if s := e.Code.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Outcomes returns the per-attempt outcome labels in order.
func (e *ScrapeError) Outcomes() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Method + ":" + a.Outcome.Label()
	}
	return out
}

// IsCanceled reports whether err is a caller cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
