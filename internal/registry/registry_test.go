package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/pkg/plugin"
)

type nopFetcher struct {
	name   string
	closed int
}

func (f *nopFetcher) Name() string { return f.name }
func (f *nopFetcher) Fetch(context.Context, string, plugin.FetchOptions) (*plugin.Response, error) {
	return &plugin.Response{StatusCode: 200}, nil
}
func (f *nopFetcher) Close() error { f.closed++; return nil }

func ids(ms []*Method) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func sampleRegistry(t *testing.T, lastResort string) *Registry {
	t.Helper()
	r := New(lastResort)
	for _, m := range []*Method{
		{ID: "browser", Suited: classifier.SetOf(classifier.Dynamic, classifier.Structured), Cost: 5, Caps: Caps{RendersJS: true}},
		{ID: "static", Suited: classifier.SetOf(classifier.Static, classifier.Structured), Cost: 1},
		{ID: "crawl", Suited: classifier.SetOf(classifier.Static, classifier.Structured), Cost: 1},
		{ID: "cheap-api", Suited: classifier.AllClasses, Cost: 20, Caps: Caps{RendersJS: true, OwnProxy: true}, NeedsCredential: true, Credential: "k1"},
		{ID: "best-api", Suited: classifier.AllClasses, Cost: 30, Caps: Caps{RendersJS: true, OwnProxy: true, SolvesCaptcha: true}, NeedsCredential: true, Credential: "k2"},
		{ID: "keyless-api", Suited: classifier.AllClasses, Cost: 10, Caps: Caps{RendersJS: true, OwnProxy: true, SolvesCaptcha: true}, NeedsCredential: true},
	} {
		require.NoError(t, r.Register(m))
	}
	return r
}

func TestMethodsForOrdersByCostThenRegistration(t *testing.T) {
	r := sampleRegistry(t, LastResortAuto)

	assert.Equal(t, []string{"static", "crawl", "cheap-api", "best-api"}, ids(r.MethodsFor(classifier.Static)))
	assert.Equal(t, []string{"browser", "cheap-api", "best-api"}, ids(r.MethodsFor(classifier.Dynamic)))
	assert.Equal(t, []string{"static", "crawl", "browser", "cheap-api", "best-api"}, ids(r.MethodsFor(classifier.Structured)))
}

func TestMethodsForFiltersMissingCredentials(t *testing.T) {
	r := sampleRegistry(t, LastResortAuto)
	for _, c := range classifier.All {
		assert.NotContains(t, ids(r.MethodsFor(c)), "keyless-api")
	}
	_, ok := r.Lookup("keyless-api")
	assert.False(t, ok)
}

func TestMethodsForEmptyWhenNothingSuited(t *testing.T) {
	r := New(LastResortNone)
	require.NoError(t, r.Register(&Method{ID: "static", Suited: classifier.SetOf(classifier.Static), Cost: 1}))
	assert.Empty(t, r.MethodsFor(classifier.Protected))
	assert.Nil(t, r.LastResort())
}

func TestLastResortResolution(t *testing.T) {
	assert.Equal(t, "best-api", sampleRegistry(t, LastResortAuto).LastResort().ID)
	assert.Equal(t, "cheap-api", sampleRegistry(t, "cheap-api").LastResort().ID)
	assert.Nil(t, sampleRegistry(t, LastResortNone).LastResort())
	assert.Nil(t, sampleRegistry(t, "keyless-api").LastResort())
	assert.Nil(t, sampleRegistry(t, "missing").LastResort())

	r := New("")
	require.NoError(t, r.Register(&Method{ID: "static", Suited: classifier.AllClasses, Cost: 1}))
	assert.Nil(t, r.LastResort(), "auto only considers paid methods")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New(LastResortAuto)
	require.NoError(t, r.Register(&Method{ID: "static"}))
	assert.Error(t, r.Register(&Method{ID: "static"}))
	assert.Error(t, r.Register(&Method{}))
}

func TestFetcherIsBuiltLazilyOnce(t *testing.T) {
	builds := 0
	f := &nopFetcher{name: "static"}
	m := &Method{ID: "static", Factory: func() (plugin.Fetcher, error) {
		builds++
		return f, nil
	}}
	r := New(LastResortNone)
	require.NoError(t, r.Register(m))
	assert.Zero(t, builds)

	for i := 0; i < 3; i++ {
		got, err := m.Fetcher()
		require.NoError(t, err)
		assert.Same(t, f, got)
	}
	assert.Equal(t, 1, builds)

	require.NoError(t, r.Close())
	assert.Equal(t, 1, f.closed)
	_, err := m.Fetcher()
	assert.Error(t, err)
}

func TestFetcherFactoryError(t *testing.T) {
	m := &Method{ID: "browser", Factory: func() (plugin.Fetcher, error) {
		return nil, errors.New("chrome not found")
	}}
	_, err := m.Fetcher()
	assert.EqualError(t, err, "chrome not found")

	_, err = (&Method{ID: "bare"}).Fetcher()
	assert.Error(t, err)
}

func TestAdmitRefusesWaitPastDeadline(t *testing.T) {
	m := &Method{ID: "api", Quota: rate.NewLimiter(rate.Every(time.Hour), 1)}

	require.NoError(t, m.Admit(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, m.Admit(ctx), ErrQuotaExceeded)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestAdmitWaitsWithinDeadline(t *testing.T) {
	m := &Method{ID: "api", Quota: rate.NewLimiter(rate.Every(30*time.Millisecond), 1)}
	require.NoError(t, m.Admit(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Admit(ctx))
}

func TestCapsScore(t *testing.T) {
	assert.Equal(t, 0, Caps{}.Score())
	assert.Equal(t, 3, Caps{RendersJS: true, SolvesCaptcha: true, OwnProxy: true}.Score())
}
