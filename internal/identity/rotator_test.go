package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func TestRoundRobinOverDirectIdentities(t *testing.T) {
	r := New(Config{UserAgents: []string{"ua-a", "ua-b", "ua-c"}})
	ctx := context.Background()

	var got []string
	for i := 0; i < 4; i++ {
		l, err := r.Acquire(ctx, nil)
		require.NoError(t, err)
		got = append(got, l.Identity.UserAgent)
		r.Release(l, SignalNeutral)
	}
	assert.Equal(t, []string{"ua-a", "ua-b", "ua-c", "ua-a"}, got)
}

func TestProxyPoolWhenRotationEnabled(t *testing.T) {
	r := New(Config{
		Proxies:     []string{"http://user:pw@p1:8080", "http://p2:8080"},
		UserAgents:  []string{"ua"},
		UseRotation: true,
	})
	require.Equal(t, 2, r.Size())

	st := r.Status()
	assert.Equal(t, "http://user:pw@p1:8080", st[0].Identity.Proxy)
	assert.Equal(t, "proxy-0 p1:8080", Label(st[0].Key, st[0].Identity))
	assert.NotContains(t, Label(st[0].Key, st[0].Identity), "pw")
}

func TestRotationDisabledIgnoresProxies(t *testing.T) {
	r := New(Config{Proxies: []string{"http://p1:8080"}, UserAgents: []string{"ua"}})
	l, err := r.Acquire(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, l.Identity.Direct())
}

func TestNonReusableIdentityIsExclusive(t *testing.T) {
	r := New(Config{Proxies: []string{"http://p1:1"}, UseRotation: true})
	ctx := context.Background()

	first, err := r.Acquire(ctx, nil)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(waitCtx, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan *Lease, 1)
	go func() {
		l, err := r.Acquire(ctx, nil)
		if err == nil {
			done <- l
		}
	}()
	time.Sleep(10 * time.Millisecond)
	r.Release(first, SignalNeutral)

	select {
	case l := <-done:
		assert.Equal(t, first.Key, l.Key)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestCooldownMonotonicAndResetOnPositive(t *testing.T) {
	clk := newClock()
	r := New(Config{
		UserAgents:   []string{"ua"},
		CooldownBase: time.Second,
		CooldownMax:  time.Minute,
		RetireAfter:  10,
	}, WithClock(clk.Now))
	ctx := context.Background()

	var prev time.Duration
	for i := 0; i < 5; i++ {
		l, err := r.Acquire(ctx, nil)
		require.NoError(t, err)
		r.Release(l, SignalNegative)
		cd := r.Status()[0].Cooldown
		assert.GreaterOrEqual(t, cd, prev)
		prev = cd
		clk.Advance(cd)
	}
	assert.Equal(t, 16*time.Second, prev)

	l, err := r.Acquire(ctx, nil)
	require.NoError(t, err)
	r.Release(l, SignalPositive)
	st := r.Status()[0]
	assert.Zero(t, st.Cooldown)
	assert.Zero(t, st.Blocks)
}

func TestCooldownCapped(t *testing.T) {
	r := New(Config{CooldownBase: time.Second, CooldownMax: 3 * time.Second})
	assert.Equal(t, time.Second, r.backoff(1))
	assert.Equal(t, 2*time.Second, r.backoff(2))
	assert.Equal(t, 3*time.Second, r.backoff(3))
	assert.Equal(t, 3*time.Second, r.backoff(30))
}

func TestRetireAfterThreeNegatives(t *testing.T) {
	clk := newClock()
	var retired []string
	r := New(Config{
		Proxies:      []string{"http://p1:8080"},
		UseRotation:  true,
		CooldownBase: time.Millisecond,
		OnRetire:     func(k string) { retired = append(retired, k) },
	}, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l, err := r.Acquire(ctx, nil)
		require.NoError(t, err)
		r.Release(l, SignalNegative)
		clk.Advance(time.Hour)
	}
	assert.Equal(t, []string{"proxy-0"}, retired)
	assert.True(t, r.Status()[0].Retired)

	_, err := r.Acquire(ctx, nil)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestDirectIdentitiesCoolDownButNeverRetire(t *testing.T) {
	clk := newClock()
	var retired []string
	r := New(Config{
		UserAgents:   []string{"ua-a", "ua-b"},
		CooldownBase: time.Second,
		CooldownMax:  time.Minute,
		OnRetire:     func(k string) { retired = append(retired, k) },
	}, WithClock(clk.Now))
	ctx := context.Background()

	// One hostile target blocks every attempt, spread over both identities.
	for i := 0; i < 10; i++ {
		l, err := r.Acquire(ctx, nil)
		require.NoError(t, err)
		r.Release(l, SignalNegative)
		clk.Advance(time.Hour)
	}
	assert.Empty(t, retired)
	for _, st := range r.Status() {
		assert.False(t, st.Retired, st.Key)
		assert.Equal(t, 5, st.Blocks, st.Key)
		assert.Equal(t, 16*time.Second, st.Cooldown, st.Key)
	}

	// A healthy target afterwards still gets an identity.
	l, err := r.Acquire(ctx, nil)
	require.NoError(t, err)
	r.Release(l, SignalPositive)
	assert.Zero(t, r.Status()[0].Blocks)
}

func TestPositiveBetweenNegativesPreventsRetirement(t *testing.T) {
	clk := newClock()
	r := New(Config{UserAgents: []string{"ua"}}, WithClock(clk.Now))
	ctx := context.Background()

	for _, sig := range []Signal{SignalNegative, SignalNegative, SignalPositive, SignalNegative, SignalNegative} {
		l, err := r.Acquire(ctx, nil)
		require.NoError(t, err)
		r.Release(l, sig)
		clk.Advance(time.Hour)
	}
	st := r.Status()[0]
	assert.False(t, st.Retired)
	assert.Equal(t, 2, st.Blocks)
}

func TestExcludeSkipsIdentityUnlessNothingElse(t *testing.T) {
	r := New(Config{UserAgents: []string{"ua-a", "ua-b"}})
	ctx := context.Background()

	l, err := r.Acquire(ctx, map[string]struct{}{"direct-0": {}})
	require.NoError(t, err)
	assert.Equal(t, "direct-1", l.Key)
	r.Release(l, SignalNeutral)

	l, err = r.Acquire(ctx, map[string]struct{}{"direct-0": {}, "direct-1": {}})
	require.NoError(t, err)
	assert.NotEmpty(t, l.Key)
}

func TestCoolingIdentitySkippedForFreshOne(t *testing.T) {
	clk := newClock()
	r := New(Config{UserAgents: []string{"ua-a", "ua-b"}, CooldownBase: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	a, err := r.Acquire(ctx, nil)
	require.NoError(t, err)
	r.Release(a, SignalNegative)

	for i := 0; i < 3; i++ {
		l, err := r.Acquire(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "direct-1", l.Key)
		r.Release(l, SignalNeutral)
	}
}

func TestAcquireWaitsForSoonestCooldown(t *testing.T) {
	r := New(Config{UserAgents: []string{"ua"}, CooldownBase: 40 * time.Millisecond})
	ctx := context.Background()

	l, err := r.Acquire(ctx, nil)
	require.NoError(t, err)
	r.Release(l, SignalNegative)

	start := time.Now()
	l, err = r.Acquire(ctx, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	r.Release(l, SignalPositive)
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	r := New(Config{UserAgents: []string{"ua"}})
	l, err := r.Acquire(context.Background(), nil)
	require.NoError(t, err)
	r.Release(l, SignalNegative)
	r.Release(l, SignalNegative)
	assert.Equal(t, 1, r.Status()[0].Blocks)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	r := New(Config{
		Proxies:     []string{"http://p1:1", "http://p2:1", "http://p3:1"},
		UseRotation: true,
	})
	ctx := context.Background()

	var (
		mu     sync.Mutex
		active = map[string]bool{}
		wg     sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := r.Acquire(ctx, nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			assert.False(t, active[l.Key], "identity %s leased twice", l.Key)
			active[l.Key] = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active[l.Key] = false
			mu.Unlock()
			r.Release(l, SignalNeutral)
		}()
	}
	wg.Wait()
}
