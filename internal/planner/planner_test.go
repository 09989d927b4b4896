package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/registry"
)

type fixedClass classifier.Class

func (f fixedClass) Estimate(context.Context, classifier.Target) classifier.Verdict {
	return classifier.Verdict{Class: classifier.Class(f), Reason: "fixed", Conclusive: true}
}

func scenarioRegistry(t *testing.T, lastResort string) *registry.Registry {
	t.Helper()
	r := registry.New(lastResort)
	require.NoError(t, r.Register(&registry.Method{ID: "render-free", Suited: classifier.SetOf(classifier.Static), Cost: 1}))
	require.NoError(t, r.Register(&registry.Method{ID: "browser-render", Suited: classifier.SetOf(classifier.Dynamic), Cost: 5, Caps: registry.Caps{RendersJS: true}}))
	require.NoError(t, r.Register(&registry.Method{
		ID: "paid-api", Suited: classifier.AllClasses, Cost: 30,
		Caps:            registry.Caps{RendersJS: true, SolvesCaptcha: true, OwnProxy: true},
		NeedsCredential: true, Credential: "key",
	}))
	return r
}

func TestScenarioADynamicPlan(t *testing.T) {
	p := New(fixedClass(classifier.Dynamic), scenarioRegistry(t, registry.LastResortAuto))
	plan := p.Plan(context.Background(), classifier.Target{URL: "https://spa.test"})

	assert.Equal(t, classifier.Dynamic, plan.Class)
	assert.Equal(t, []string{"browser-render", "paid-api"}, plan.IDs())
	assert.Equal(t, "browser-render -> paid-api", plan.String())
}

func TestStaticPlanStartsWithCheapestStaticMethod(t *testing.T) {
	r := scenarioRegistry(t, registry.LastResortAuto)
	require.NoError(t, r.Register(&registry.Method{ID: "crawl", Suited: classifier.SetOf(classifier.Static), Cost: 2}))

	plan := New(fixedClass(classifier.Static), r).Plan(context.Background(), classifier.Target{})
	require.False(t, plan.Empty())
	assert.Equal(t, "render-free", plan.Methods[0].ID)
	assert.Equal(t, []string{"render-free", "crawl", "paid-api"}, plan.IDs())
}

func TestLastResortAlwaysFinal(t *testing.T) {
	r := scenarioRegistry(t, registry.LastResortAuto)
	require.NoError(t, r.Register(&registry.Method{
		ID: "other-api", Suited: classifier.AllClasses, Cost: 40,
		Caps:            registry.Caps{RendersJS: true},
		NeedsCredential: true, Credential: "k",
	}))

	p := New(nil, r)
	for _, c := range classifier.All {
		plan := p.PlanFor(c)
		require.False(t, plan.Empty(), c.String())
		assert.Equal(t, "paid-api", plan.Methods[len(plan.Methods)-1].ID, c.String())

		seen := map[string]bool{}
		for _, id := range plan.IDs() {
			assert.False(t, seen[id], "duplicate %s in %s plan", id, c)
			seen[id] = true
		}
	}
}

func TestLastResortNotNaturallySuitedIsAppended(t *testing.T) {
	r := registry.New("browser-render")
	require.NoError(t, r.Register(&registry.Method{ID: "render-free", Suited: classifier.SetOf(classifier.Static), Cost: 1}))
	require.NoError(t, r.Register(&registry.Method{ID: "browser-render", Suited: classifier.SetOf(classifier.Dynamic), Cost: 5}))

	plan := New(nil, r).PlanFor(classifier.Protected)
	assert.Equal(t, []string{"browser-render"}, plan.IDs())
}

func TestScenarioCNoMethodForProtected(t *testing.T) {
	r := registry.New(registry.LastResortNone)
	require.NoError(t, r.Register(&registry.Method{ID: "render-free", Suited: classifier.SetOf(classifier.Static), Cost: 1}))

	plan := New(fixedClass(classifier.Protected), r).Plan(context.Background(), classifier.Target{})
	assert.True(t, plan.Empty())
}

func TestManualOverride(t *testing.T) {
	p := New(fixedClass(classifier.Static), scenarioRegistry(t, registry.LastResortAuto))
	ctx := context.Background()

	plan := p.Plan(ctx, classifier.Target{Method: "browser-render"})
	assert.Equal(t, []string{"browser-render", "paid-api"}, plan.IDs())

	plan = p.Plan(ctx, classifier.Target{Method: "paid-api"})
	assert.Equal(t, []string{"paid-api"}, plan.IDs())

	plan = p.Plan(ctx, classifier.Target{Method: "nope"})
	assert.True(t, plan.Empty())
}

func TestReplanSkipsTried(t *testing.T) {
	r := scenarioRegistry(t, registry.LastResortAuto)
	plan := New(nil, r).Replan(classifier.Protected, map[string]bool{"render-free": true})
	assert.Equal(t, classifier.Protected, plan.Class)
	assert.Equal(t, []string{"paid-api"}, plan.IDs())
}

func TestPlanIsDeterministic(t *testing.T) {
	p := New(fixedClass(classifier.Structured), scenarioRegistry(t, registry.LastResortAuto))
	first := p.Plan(context.Background(), classifier.Target{}).IDs()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.Plan(context.Background(), classifier.Target{}).IDs())
	}
}
