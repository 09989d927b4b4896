// Package planner turns a classified target into an ordered execution plan.
package planner

import (
	"context"
	"strings"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/registry"
)

// Plan is the ordered list of methods to try for one target. It is built
// fresh per request and only ever walked by index.
type Plan struct {
	Class   classifier.Class
	Reason  string
	Methods []*registry.Method
}

// IDs returns the method ids in plan order.
func (p Plan) IDs() []string {
	out := make([]string, len(p.Methods))
	for i, m := range p.Methods {
		out[i] = m.ID
	}
	return out
}

func (p Plan) String() string { return strings.Join(p.IDs(), " -> ") }

// Empty reports whether there is nothing to attempt.
func (p Plan) Empty() bool { return len(p.Methods) == 0 }

// Estimator is the part of the classifier the planner needs.
type Estimator interface {
	Estimate(ctx context.Context, t classifier.Target) classifier.Verdict
}

// Planner combines a classifier and a registry.
type Planner struct {
	classifier Estimator
	registry   *registry.Registry
}

// New creates a Planner.
func New(c Estimator, r *registry.Registry) *Planner {
	return &Planner{classifier: c, registry: r}
}

// Plan classifies t and builds its plan. A manual method override yields
// that method followed by the last resort; an unknown or unavailable
// override yields an empty plan.
func (p *Planner) Plan(ctx context.Context, t classifier.Target) Plan {
	v := p.classifier.Estimate(ctx, t)
	if t.Method != "" {
		plan := Plan{Class: v.Class, Reason: "manual method " + t.Method}
		m, ok := p.registry.Lookup(t.Method)
		if !ok {
			return plan
		}
		plan.Methods = p.withLastResort([]*registry.Method{m})
		return plan
	}
	plan := p.PlanFor(v.Class)
	plan.Reason = v.Reason
	return plan
}

// PlanFor builds the plan for an already known class. The result is
// deterministic for a given class and registry.
func (p *Planner) PlanFor(class classifier.Class) Plan {
	return Plan{
		Class:   class,
		Methods: p.withLastResort(p.registry.MethodsFor(class)),
	}
}

// Replan builds the plan for class without the methods in tried.
func (p *Planner) Replan(class classifier.Class, tried map[string]bool) Plan {
	full := p.PlanFor(class)
	var rest []*registry.Method
	for _, m := range full.Methods {
		if !tried[m.ID] {
			rest = append(rest, m)
		}
	}
	full.Methods = rest
	return full
}

// withLastResort moves or appends the last resort to the final position.
func (p *Planner) withLastResort(methods []*registry.Method) []*registry.Method {
	last := p.registry.LastResort()
	if last == nil {
		return methods
	}
	out := make([]*registry.Method, 0, len(methods)+1)
	for _, m := range methods {
		if m.ID != last.ID {
			out = append(out, m)
		}
	}
	return append(out, last)
}
