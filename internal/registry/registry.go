// Package registry holds the capability-tagged set of fetch methods. The
// registry is filled at startup and read-only afterwards.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/pkg/plugin"
)

// Last-resort settings besides a concrete method id.
const (
	LastResortAuto = "auto"
	LastResortNone = "none"
)

// ErrQuotaExceeded is returned by Admit when a method's quota cannot be
// satisfied before the attempt deadline.
var ErrQuotaExceeded = errors.New("method quota exceeded")

var errClosed = errors.New("method closed")

// Caps are the capability flags of a method.
type Caps struct {
	RendersJS     bool
	SolvesCaptcha bool
	OwnProxy      bool
}

// Score ranks capabilities for last-resort selection.
func (c Caps) Score() int {
	n := 0
	for _, b := range []bool{c.RendersJS, c.SolvesCaptcha, c.OwnProxy} {
		if b {
			n++
		}
	}
	return n
}

// Factory builds the fetcher behind a method on first use.
type Factory func() (plugin.Fetcher, error)

// Instance wraps an already built fetcher as a Factory.
func Instance(f plugin.Fetcher) Factory {
	return func() (plugin.Fetcher, error) { return f, nil }
}

// Method describes one registered way of fetching a page.
type Method struct {
	ID     string
	Suited classifier.Set
	Cost   int
	Caps   Caps

	// NeedsCredential marks paid methods; they are only available when
	// Credential is non-empty.
	NeedsCredential bool
	Credential      string

	// Quota, if set, bounds how often the method may be invoked.
	Quota *rate.Limiter

	Factory Factory

	once   sync.Once
	mu     sync.Mutex
	built  plugin.Fetcher
	buildE error
}

// Available reports whether the method has what it needs to run.
func (m *Method) Available() bool {
	return !m.NeedsCredential || strings.TrimSpace(m.Credential) != ""
}

// Paid reports whether the method is a credentialed third-party API.
func (m *Method) Paid() bool { return m.NeedsCredential }

// Fetcher returns the live fetcher, building it on first call.
func (m *Method) Fetcher() (plugin.Fetcher, error) {
	m.once.Do(func() {
		if m.Factory == nil {
			m.buildE = fmt.Errorf("method %s has no factory", m.ID)
			return
		}
		f, err := m.Factory()
		m.mu.Lock()
		m.built, m.buildE = f, err
		m.mu.Unlock()
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.built, m.buildE
}

// Admit waits for quota. A wait that would run past ctx's deadline is
// refused up front without consuming a token.
func (m *Method) Admit(ctx context.Context) error {
	if m.Quota == nil {
		return nil
	}
	r := m.Quota.Reserve()
	if !r.OK() {
		return ErrQuotaExceeded
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < delay {
		r.Cancel()
		return ErrQuotaExceeded
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (m *Method) close() error {
	m.mu.Lock()
	f := m.built
	if f != nil {
		m.built, m.buildE = nil, errClosed
	}
	m.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// Registry is the ordered set of methods.
type Registry struct {
	methods    []*Method
	byID       map[string]*Method
	lastResort string
}

// New creates an empty registry with the given last-resort setting
// ("auto", "none" or a method id).
func New(lastResort string) *Registry {
	if lastResort == "" {
		lastResort = LastResortAuto
	}
	return &Registry{byID: make(map[string]*Method), lastResort: lastResort}
}

// Register adds a method. Registration order breaks cost ties.
func (r *Registry) Register(m *Method) error {
	if m == nil || m.ID == "" {
		return errors.New("method id is required")
	}
	if _, dup := r.byID[m.ID]; dup {
		return fmt.Errorf("method %q already registered", m.ID)
	}
	r.methods = append(r.methods, m)
	r.byID[m.ID] = m
	return nil
}

// Lookup returns an available method by id.
func (r *Registry) Lookup(id string) (*Method, bool) {
	m, ok := r.byID[id]
	if !ok || !m.Available() {
		return nil, false
	}
	return m, true
}

// All returns every registered method in registration order.
func (r *Registry) All() []*Method {
	out := make([]*Method, len(r.methods))
	copy(out, r.methods)
	return out
}

// MethodsFor returns the available methods suited to class, cheapest first.
// Equal costs keep registration order. Nothing suited yields an empty slice.
func (r *Registry) MethodsFor(class classifier.Class) []*Method {
	var out []*Method
	for _, m := range r.methods {
		if m.Available() && m.Suited.Has(class) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost < out[j].Cost })
	return out
}

// LastResort resolves the configured final fallback, or nil when none
// applies.
func (r *Registry) LastResort() *Method {
	switch r.lastResort {
	case LastResortNone:
		return nil
	case LastResortAuto:
		var best *Method
		for _, m := range r.methods {
			if !m.Paid() || !m.Available() {
				continue
			}
			if best == nil || better(m, best) {
				best = m
			}
		}
		return best
	default:
		m, _ := r.Lookup(r.lastResort)
		return m
	}
}

// better ranks capability, then cost; registration order is preserved by
// only replacing on a strict win.
func better(a, b *Method) bool {
	if a.Caps.Score() != b.Caps.Score() {
		return a.Caps.Score() > b.Caps.Score()
	}
	return a.Cost > b.Cost
}

// Close shuts down every fetcher that was built.
func (r *Registry) Close() error {
	var errs []error
	for _, m := range r.methods {
		if err := m.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}
