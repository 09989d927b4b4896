// Package orchestrator walks an execution plan: it runs each method under a
// hard per-attempt timeout, retries with backoff, advances on exhaustion or
// fatal failure and stops at the first success.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/identity"
	"github.com/ramkansal/webscout/internal/normalize"
	"github.com/ramkansal/webscout/internal/planner"
	"github.com/ramkansal/webscout/internal/registry"
	"github.com/ramkansal/webscout/pkg/plugin"
)

// State is the position of a plan walk.
type State int

const (
	StatePending State = iota
	StateAttempting
	StateAdvancing
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAttempting:
		return "attempting"
	case StateAdvancing:
		return "advancing"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Policy bounds retries and time.
type Policy struct {
	// MaxRetries is the number of attempts per method.
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	AttemptTimeout time.Duration
	// Budget is the wall-clock ceiling for one plan walk; zero disables it.
	Budget     time.Duration
	RenderWait time.Duration
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     10 * time.Second,
		AttemptTimeout: 30 * time.Second,
		Budget:         2 * time.Minute,
		RenderWait:     2 * time.Second,
	}
}

// Backoff returns the delay before retry k (k >= 1): base * 2^(k-1), capped.
func Backoff(base, max time.Duration, k int) time.Duration {
	if k < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < k; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Recorder receives attempt metrics.
type Recorder interface {
	ObserveAttempt(method, outcome string, d time.Duration)
	IncAdvance(method string)
}

// Replanner rebuilds a plan after a class re-estimate.
type Replanner interface {
	Replan(class classifier.Class, tried map[string]bool) planner.Plan
}

// Orchestrator runs plan walks. One Orchestrator serves many concurrent
// requests; the identity pool is the only state they share.
type Orchestrator struct {
	policy    Policy
	detector  Detector
	rotator   *identity.Rotator
	logger    *zap.Logger
	recorder  Recorder
	replanner Replanner
	onEvent   func(plugin.Event)
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l.Named("orchestrator")
		}
	}
}

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

func WithReplanner(r Replanner) Option { return func(o *Orchestrator) { o.replanner = r } }

// WithEvents installs a callback for progress events. It must not block.
func WithEvents(fn func(plugin.Event)) Option { return func(o *Orchestrator) { o.onEvent = fn } }

// WithClock replaces the time source and the backoff sleeper.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// New creates an Orchestrator. rotator may be nil, in which case every
// attempt goes out with a zero identity.
func New(policy Policy, detector Detector, rotator *identity.Rotator, opts ...Option) *Orchestrator {
	if policy.MaxRetries < 1 {
		policy.MaxRetries = 1
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = 30 * time.Second
	}
	o := &Orchestrator{
		policy:   policy,
		detector: detector,
		rotator:  rotator,
		logger:   zap.NewNop(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// walk is the per-request state of one plan walk.
type walk struct {
	url     string
	plan    planner.Plan
	state   State
	index   int
	attempt int

	start       time.Time
	longest     time.Duration
	history     []plugin.AttemptRecord
	tried       map[string]bool
	excluded    map[string]struct{}
	timeoutsRow int
	replanned   bool
}

// Run walks plan for url and returns the canonical result or a
// *plugin.ScrapeError.
func (o *Orchestrator) Run(ctx context.Context, url string, plan planner.Plan) (*plugin.Result, error) {
	w := &walk{
		url:      url,
		plan:     plan,
		state:    StatePending,
		start:    o.now(),
		tried:    make(map[string]bool),
		excluded: make(map[string]struct{}),
	}
	if plan.Empty() {
		return nil, o.fail(w, plugin.CodeNoMethodAvailable, nil)
	}

	for {
		switch w.state {
		case StatePending:
			w.index, w.attempt = 0, 0
			w.state = StateAttempting

		case StateAttempting:
			m := w.plan.Methods[w.index]
			w.attempt++

			var delay time.Duration
			if w.attempt > 1 {
				delay = Backoff(o.policy.BackoffBase, o.policy.BackoffMax, w.attempt-1)
			}
			remaining, ok := o.budgetLeft(w, delay)
			if !ok {
				return nil, o.fail(w, plugin.CodeTimeoutBudgetExceeded, nil)
			}
			if err := o.sleep(ctx, delay); err != nil {
				return nil, o.fail(w, plugin.CodeCanceled, err)
			}

			out := o.attempt(ctx, w, m, remaining-delay)
			if out.canceled {
				return nil, o.fail(w, plugin.CodeCanceled, ctx.Err())
			}
			if out.kind == plugin.OutcomeSuccess {
				w.state = StateSucceeded
				return o.succeed(w, m, out), nil
			}

			if o.shouldReplan(w, out) {
				continue
			}
			if out.budgetCut || (out.kind == plugin.OutcomeTimeout && o.budgetSpent(w)) {
				return nil, o.fail(w, plugin.CodeTimeoutBudgetExceeded, nil)
			}

			retryable := out.kind != plugin.OutcomeFatal
			if retryable && w.attempt < o.policy.MaxRetries {
				continue
			}
			w.state = StateAdvancing

		case StateAdvancing:
			prev := w.plan.Methods[w.index].ID
			w.index++
			w.attempt = 0
			if w.index >= len(w.plan.Methods) {
				w.state = StateExhausted
				continue
			}
			next := w.plan.Methods[w.index].ID
			o.logger.Info("advancing to next method",
				zap.String("url", w.url),
				zap.String("from", prev),
				zap.String("method", next))
			if o.recorder != nil {
				o.recorder.IncAdvance(next)
			}
			o.emit(plugin.Event{Type: plugin.EventMethodAdvanced, URL: w.url, Method: next})
			w.state = StateAttempting

		case StateExhausted:
			return nil, o.fail(w, plugin.CodePlanExhausted, nil)

		default:
			return nil, o.fail(w, plugin.CodePlanExhausted, nil)
		}
	}
}

// budgetLeft reports the time left for the next attempt. An attempt only
// starts if the remaining budget covers the backoff plus the longest attempt
// seen so far.
func (o *Orchestrator) budgetLeft(w *walk, delay time.Duration) (time.Duration, bool) {
	if o.policy.Budget <= 0 {
		return delay + o.policy.AttemptTimeout, true
	}
	remaining := o.policy.Budget - o.now().Sub(w.start)
	if remaining <= delay+w.longest {
		return 0, false
	}
	return remaining, true
}

func (o *Orchestrator) budgetSpent(w *walk) bool {
	return o.policy.Budget > 0 && o.now().Sub(w.start) >= o.policy.Budget
}

// shouldReplan handles a challenge page on the very first attempt of a
// STATIC plan: the target is re-estimated as PROTECTED once and the walk
// restarts on a fresh plan without the methods already tried.
func (o *Orchestrator) shouldReplan(w *walk, out outcome) bool {
	if o.replanner == nil || w.replanned || !out.challenge {
		return false
	}
	if w.plan.Class != classifier.Static || w.index != 0 || w.attempt != 1 {
		return false
	}
	w.replanned = true
	next := o.replanner.Replan(classifier.Protected, w.tried)
	if next.Empty() {
		return false
	}
	o.logger.Info("re-estimated target as protected",
		zap.String("url", w.url),
		zap.Strings("plan", next.IDs()))
	w.plan = next
	w.index, w.attempt = 0, 0
	w.state = StateAttempting
	o.emit(plugin.Event{Type: plugin.EventPlanned, URL: w.url, Message: next.String()})
	return true
}

func (o *Orchestrator) succeed(w *walk, m *registry.Method, out outcome) *plugin.Result {
	res := normalize.Normalize(normalize.Input{
		SourceURL: w.url,
		Method:    m.ID,
		Class:     w.plan.Class.String(),
		Attempts:  len(w.history),
		Elapsed:   o.now().Sub(w.start),
		ProxyUsed: out.proxied,
		History:   w.history,
		FetchedAt: o.now(),
	}, out.resp)
	o.logger.Info("scrape succeeded",
		zap.String("url", w.url),
		zap.String("method", m.ID),
		zap.Int("attempts", res.Attempts),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

func (o *Orchestrator) fail(w *walk, code plugin.ErrorCode, cause error) error {
	err := &plugin.ScrapeError{
		Code:     code,
		URL:      w.url,
		Class:    w.plan.Class.String(),
		Plan:     w.plan.IDs(),
		Attempts: w.history,
		Err:      cause,
	}
	if w.plan.Class == classifier.Unknown {
		err.Class = ""
	}
	if code == plugin.CodeCanceled {
		o.logger.Info("scrape canceled", zap.String("url", w.url), zap.Int("attempts", len(w.history)))
	} else {
		o.logger.Error("scrape failed",
			zap.String("url", w.url),
			zap.String("code", string(code)),
			zap.String("class", err.Class),
			zap.Strings("plan", err.Plan),
			zap.Strings("outcomes", err.Outcomes()))
	}
	return err
}

func (o *Orchestrator) emit(ev plugin.Event) {
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
