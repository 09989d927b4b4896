// Package identity owns the shared pool of egress identities (proxy endpoint
// plus user-agent) and the cooldown bookkeeping applied to them.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// ErrPoolExhausted is returned when every identity has been retired.
var ErrPoolExhausted = errors.New("identity pool exhausted")

// DefaultUserAgents is used when the configuration supplies none.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Signal is the feedback an attempt returns for the identity it borrowed.
type Signal int

const (
	SignalNeutral Signal = iota
	SignalPositive
	SignalNegative
)

func (s Signal) String() string {
	switch s {
	case SignalPositive:
		return "positive"
	case SignalNegative:
		return "negative"
	default:
		return "neutral"
	}
}

// Config describes the pool.
type Config struct {
	Proxies      []string
	UserAgents   []string
	UseRotation  bool
	CooldownBase time.Duration
	CooldownMax  time.Duration
	RetireAfter  int
	Logger       *zap.Logger
	OnRetire     func(key string)
}

type entry struct {
	key      string
	id       plugin.Identity
	reusable bool

	inUse         int
	blocks        int
	cooldown      time.Duration
	cooldownUntil time.Time
	retired       bool
}

// Status is a point-in-time view of one identity.
type Status struct {
	Key           string
	Identity      plugin.Identity
	InUse         int
	Blocks        int
	Cooldown      time.Duration
	CooldownUntil time.Time
	Retired       bool
}

// Lease is an identity borrowed for exactly one attempt.
type Lease struct {
	Identity plugin.Identity
	Key      string

	entry    *entry
	released bool
}

// Label returns a log-safe description of the leased identity.
func (l *Lease) Label() string {
	if l == nil {
		return ""
	}
	return Label(l.Key, l.Identity)
}

// Rotator hands out identities round-robin, skipping those that are cooling
// down, retired or (for proxy identities) already in use. All state is
// guarded by a single pool-wide lock.
type Rotator struct {
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	entries []*entry
	next    int
	changed chan struct{}
}

// Option customises a Rotator.
type Option func(*Rotator)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Rotator) { r.now = now }
}

// New builds the pool. With rotation enabled and proxies configured there is
// one exclusive identity per proxy; otherwise identities are direct,
// user-agent only, may be shared by concurrent attempts and are never
// retired.
func New(cfg Config, opts ...Option) *Rotator {
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = 5 * time.Second
	}
	if cfg.CooldownMax < cfg.CooldownBase {
		cfg.CooldownMax = cfg.CooldownBase
	}
	if cfg.RetireAfter <= 0 {
		cfg.RetireAfter = 3
	}
	uas := cfg.UserAgents
	if len(uas) == 0 {
		uas = DefaultUserAgents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Rotator{
		cfg:     cfg,
		logger:  logger.Named("identity"),
		now:     time.Now,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.UseRotation && len(cfg.Proxies) > 0 {
		for i, p := range cfg.Proxies {
			r.entries = append(r.entries, &entry{
				key: fmt.Sprintf("proxy-%d", i),
				id:  plugin.Identity{Proxy: p, UserAgent: uas[i%len(uas)]},
			})
		}
	} else {
		for i, ua := range uas {
			r.entries = append(r.entries, &entry{
				key:      fmt.Sprintf("direct-%d", i),
				id:       plugin.Identity{UserAgent: ua},
				reusable: true,
			})
		}
	}
	return r
}

// Size returns the number of identities, retired ones included.
func (r *Rotator) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Acquire returns an identity for one attempt. Identities whose keys are in
// exclude are skipped unless that would leave nothing alive to choose from.
// When every candidate is cooling down, Acquire waits for the soonest expiry;
// the wait is bounded by ctx.
func (r *Rotator) Acquire(ctx context.Context, exclude map[string]struct{}) (*Lease, error) {
	for {
		r.mu.Lock()
		lease, wait, changed, err := r.pickLocked(exclude)
		r.mu.Unlock()
		if err != nil || lease != nil {
			return lease, err
		}

		var (
			t     *time.Timer
			timer <-chan time.Time
		)
		if wait > 0 {
			t = time.NewTimer(wait)
			timer = t.C
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-changed:
		case <-timer:
		}
		if t != nil {
			t.Stop()
		}
		if err != nil {
			return nil, err
		}
	}
}

func (r *Rotator) pickLocked(exclude map[string]struct{}) (*Lease, time.Duration, <-chan struct{}, error) {
	var alive []int
	for i, e := range r.entries {
		if !e.retired {
			alive = append(alive, i)
		}
	}
	if len(alive) == 0 {
		return nil, 0, nil, ErrPoolExhausted
	}

	var candidates []int
	for _, i := range alive {
		if _, skip := exclude[r.entries[i].key]; !skip {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		candidates = alive
	}

	now := r.now()
	n := len(r.entries)
	for off := 0; off < n; off++ {
		i := (r.next + off) % n
		if !contains(candidates, i) {
			continue
		}
		e := r.entries[i]
		if e.cooldownUntil.After(now) || (!e.reusable && e.inUse > 0) {
			continue
		}
		e.inUse++
		r.next = (i + 1) % n
		return &Lease{Identity: e.id, Key: e.key, entry: e}, 0, nil, nil
	}

	// Nothing eligible: wait for the soonest cooldown among free candidates,
	// or for a release if all of them are busy.
	var wait time.Duration
	for _, i := range candidates {
		e := r.entries[i]
		if !e.reusable && e.inUse > 0 {
			continue
		}
		if d := e.cooldownUntil.Sub(now); d > 0 && (wait == 0 || d < wait) {
			wait = d
		}
	}
	return nil, wait, r.changed, nil
}

// Release returns a leased identity with feedback. Releasing a lease twice
// is a no-op.
func (r *Rotator) Release(l *Lease, sig Signal) {
	if l == nil || l.entry == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	e := l.entry
	if e.inUse > 0 {
		e.inUse--
	}
	switch sig {
	case SignalPositive:
		e.blocks = 0
		e.cooldown = 0
		e.cooldownUntil = time.Time{}
	case SignalNegative:
		e.blocks++
		e.cooldown = r.backoff(e.blocks)
		e.cooldownUntil = r.now().Add(e.cooldown)
		// Direct identities share the host's own address, so retiring one
		// would only shut out healthy targets; they cool down instead.
		if !e.reusable && e.blocks >= r.cfg.RetireAfter && !e.retired {
			e.retired = true
			r.logger.Warn("identity retired",
				zap.String("identity", Label(e.key, e.id)),
				zap.Int("blocks", e.blocks))
			if r.cfg.OnRetire != nil {
				r.cfg.OnRetire(e.key)
			}
		} else {
			r.logger.Debug("identity cooling down",
				zap.String("identity", Label(e.key, e.id)),
				zap.Duration("cooldown", e.cooldown))
		}
	}

	close(r.changed)
	r.changed = make(chan struct{})
}

// Status returns a snapshot of every identity in pool order.
func (r *Rotator) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.entries))
	for i, e := range r.entries {
		out[i] = Status{
			Key:           e.key,
			Identity:      e.id,
			InUse:         e.inUse,
			Blocks:        e.blocks,
			Cooldown:      e.cooldown,
			CooldownUntil: e.cooldownUntil,
			Retired:       e.retired,
		}
	}
	return out
}

// backoff returns base * 2^(n-1), capped.
func (r *Rotator) backoff(n int) time.Duration {
	d := r.cfg.CooldownBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= r.cfg.CooldownMax {
			return r.cfg.CooldownMax
		}
	}
	if d > r.cfg.CooldownMax {
		d = r.cfg.CooldownMax
	}
	return d
}

// Label renders an identity without proxy credentials.
func Label(key string, id plugin.Identity) string {
	if id.Proxy == "" {
		return key + " direct"
	}
	if u, err := url.Parse(id.Proxy); err == nil && u.Host != "" {
		return key + " " + u.Host
	}
	return key
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
