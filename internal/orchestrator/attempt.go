package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/internal/identity"
	"github.com/ramkansal/webscout/internal/registry"
	"github.com/ramkansal/webscout/pkg/plugin"
)

type outcome struct {
	kind      plugin.OutcomeKind
	resp      *plugin.Response
	challenge bool
	canceled  bool
	proxied   bool
	// budgetCut is set when a timeout fired on a deadline shortened to the
	// remaining request budget.
	budgetCut bool
}

type fetchResult struct {
	resp *plugin.Response
	err  error
}

// attempt runs one invocation of m and books its outcome: history, identity
// feedback, metrics and events.
func (o *Orchestrator) attempt(ctx context.Context, w *walk, m *registry.Method, remaining time.Duration) outcome {
	timeout, clamped := o.policy.AttemptTimeout, false
	if remaining < timeout {
		timeout, clamped = remaining, true
	}
	started := o.now()
	w.tried[m.ID] = true

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, resp, lease := o.invoke(actx, w, m, timeout)

	canceled := ctx.Err() != nil
	sig := identity.SignalNeutral
	if !canceled {
		switch v.Kind {
		case plugin.OutcomeSuccess:
			sig = identity.SignalPositive
			w.timeoutsRow = 0
		case plugin.OutcomeRateLimited, plugin.OutcomeBlocked:
			sig = identity.SignalNegative
			w.timeoutsRow = 0
		case plugin.OutcomeTimeout:
			w.timeoutsRow++
			if w.timeoutsRow >= 2 {
				sig = identity.SignalNegative
			}
		default:
			w.timeoutsRow = 0
		}
	}
	if lease != nil {
		if sig == identity.SignalNegative {
			w.excluded[lease.Key] = struct{}{}
		}
		o.rotator.Release(lease, sig)
	}

	out := outcome{
		kind:      v.Kind,
		resp:      resp,
		challenge: v.Challenge,
		canceled:  canceled,
		proxied:   m.Caps.OwnProxy || (lease != nil && !lease.Identity.Direct()),
		budgetCut: clamped && v.Kind == plugin.OutcomeTimeout,
	}
	if canceled {
		return out
	}

	dur := o.now().Sub(started)
	if dur > w.longest {
		w.longest = dur
	}
	rec := plugin.AttemptRecord{
		Method:   m.ID,
		Attempt:  w.attempt,
		Identity: lease.Label(),
		Outcome:  v.Kind,
		Status:   v.Status,
		Detail:   v.Detail,
		Started:  started,
		Duration: dur,
	}
	w.history = append(w.history, rec)

	if o.recorder != nil {
		o.recorder.ObserveAttempt(m.ID, v.Kind.Label(), dur)
	}
	if v.Kind != plugin.OutcomeSuccess {
		o.logger.Warn("attempt failed",
			zap.String("url", w.url),
			zap.String("method", m.ID),
			zap.Int("attempt", w.attempt),
			zap.String("outcome", v.Kind.Label()),
			zap.Int("status", v.Status),
			zap.String("identity", rec.Identity),
			zap.String("detail", v.Detail),
			zap.Stringer("signal", sig))
	}
	o.emit(plugin.Event{Type: plugin.EventAttemptDone, URL: w.url, Method: m.ID, Attempt: &rec})
	return out
}

// invoke performs the quota wait, identity lease and the fetch itself. The
// fetch runs in its own goroutine so a method that ignores ctx cannot hold
// the walk past its deadline.
func (o *Orchestrator) invoke(ctx context.Context, w *walk, m *registry.Method, timeout time.Duration) (Verdict, *plugin.Response, *identity.Lease) {
	if err := m.Admit(ctx); err != nil {
		if errors.Is(err, registry.ErrQuotaExceeded) {
			return Verdict{Kind: plugin.OutcomeRateLimited, Detail: err.Error()}, nil, nil
		}
		return Verdict{Kind: plugin.OutcomeTimeout, Detail: "waiting for quota: " + err.Error()}, nil, nil
	}

	f, err := m.Fetcher()
	if err != nil {
		return Verdict{Kind: plugin.OutcomeFatal, Detail: "method unavailable: " + err.Error()}, nil, nil
	}

	var lease *identity.Lease
	if o.rotator != nil && !m.Caps.OwnProxy {
		lease, err = o.rotator.Acquire(ctx, w.excluded)
		if err != nil {
			if errors.Is(err, identity.ErrPoolExhausted) {
				return Verdict{Kind: plugin.OutcomeFatal, Detail: err.Error()}, nil, nil
			}
			return Verdict{Kind: plugin.OutcomeTimeout, Detail: "waiting for identity: " + err.Error()}, nil, nil
		}
	}

	opts := plugin.FetchOptions{Timeout: timeout, RenderWait: o.policy.RenderWait}
	if lease != nil {
		opts.Identity = lease.Identity
	}

	ch := make(chan fetchResult, 1)
	go func() {
		resp, err := f.Fetch(ctx, w.url, opts)
		ch <- fetchResult{resp: resp, err: err}
	}()

	select {
	case r := <-ch:
		return o.detector.Inspect(r.resp, r.err), r.resp, lease
	case <-ctx.Done():
		return Verdict{Kind: plugin.OutcomeTimeout, Detail: "attempt deadline exceeded"}, nil, lease
	}
}
