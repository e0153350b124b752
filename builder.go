package arbor

import (
	"fmt"
	"slices"
	"time"

	"github.com/petrijr/arbor/pkg/api"
)

// Builders describe action trees fluently:
//
//	deploy := arbor.Sequence(
//	    arbor.Leaf("build", build),
//	    arbor.ForEach("host", arbor.Values("a", "b"),
//	        arbor.Retry(3, arbor.Leaf("upload", upload)).Every(time.Second),
//	    ).InParallel(),
//	)
//
//	if err := arbor.Perform(ctx, eng, deploy, nil); err != nil {
//	    log.Fatal(err)
//	}
//
// Builder values are immutable: every method returns a new builder, so a
// partially configured builder can be shared and extended. Nothing is
// validated until Build, which reports misuse as a *api.ArgumentError.

// Must builds s and panics on error. Useful for initialization in main().
func Must(s Step) *Action {
	a, err := build(s)
	if err != nil {
		panic(fmt.Sprintf("arbor: %v", err))
	}
	return a
}

func build(s Step) (*Action, error) {
	if s == nil {
		return nil, nil
	}
	return s.Build()
}

func buildAll(steps []Step) ([]*Action, error) {
	out := make([]*Action, 0, len(steps))
	for _, s := range steps {
		a, err := build(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// stepFunc adapts a constructor closure to Step.
type stepFunc func() (*Action, error)

func (f stepFunc) Build() (*Action, error) { return f() }

// LeafBuilder builds a leaf action.
type LeafBuilder struct {
	label string
	fn    LeafFunc
}

// Do creates a leaf labelled after fn's function name.
func Do(fn LeafFunc) LeafBuilder {
	return LeafBuilder{fn: fn}
}

// Leaf creates a leaf with the given label.
func Leaf(label string, fn LeafFunc) LeafBuilder {
	return LeafBuilder{label: label, fn: fn}
}

// Label returns a copy of b with a new label.
func (b LeafBuilder) Label(label string) LeafBuilder {
	b.label = label
	return b
}

func (b LeafBuilder) Build() (*Action, error) {
	return api.NewLeaf(b.label, b.fn)
}

// Named gives step a description of its own in reports.
func Named(label string, step Step) Step {
	return stepFunc(func() (*Action, error) {
		child, err := build(step)
		if err != nil {
			return nil, err
		}
		return api.NewNamed(label, child)
	})
}

// CompositeBuilder builds a sequential or parallel composite.
type CompositeBuilder struct {
	parallel bool
	steps    []Step
}

// Sequence runs steps one after another, stopping at the first failure.
func Sequence(steps ...Step) CompositeBuilder {
	return CompositeBuilder{steps: slices.Clone(steps)}
}

// Parallel runs steps concurrently and waits for all of them.
func Parallel(steps ...Step) CompositeBuilder {
	return CompositeBuilder{parallel: true, steps: slices.Clone(steps)}
}

// Then returns a copy of b with steps appended.
func (b CompositeBuilder) Then(steps ...Step) CompositeBuilder {
	b.steps = append(slices.Clone(b.steps), steps...)
	return b
}

func (b CompositeBuilder) Build() (*Action, error) {
	children, err := buildAll(b.steps)
	if err != nil {
		return nil, err
	}
	return api.NewComposite(b.parallel, children...)
}

// ForEachBuilder builds a ForEach action.
type ForEachBuilder struct {
	varName  string
	seq      SequenceFunc
	body     Step
	parallel bool
}

// ForEach runs body once per element of seq, binding the element to
// varName in a child scope.
func ForEach(varName string, seq SequenceFunc, body Step) ForEachBuilder {
	return ForEachBuilder{varName: varName, seq: seq, body: body}
}

// InParallel returns a copy of b whose elements run concurrently.
func (b ForEachBuilder) InParallel() ForEachBuilder {
	b.parallel = true
	return b
}

func (b ForEachBuilder) Build() (*Action, error) {
	body, err := build(b.body)
	if err != nil {
		return nil, err
	}
	return api.NewForEach(b.varName, b.seq, body, b.parallel)
}

// AttemptBuilder builds an Attempt action.
type AttemptBuilder struct {
	body     Step
	on       ErrorMatcher
	recovery Step
	ensure   Step
}

// Attempt runs body with optional recovery and ensure clauses. At least one
// of them must be configured before Build.
func Attempt(body Step) AttemptBuilder {
	return AttemptBuilder{body: body}
}

// Recover returns a copy of b recovering from any error with step.
func (b AttemptBuilder) Recover(step Step) AttemptBuilder {
	b.recovery = step
	return b
}

// RecoverOn returns a copy of b recovering from errors matched by m.
func (b AttemptBuilder) RecoverOn(m ErrorMatcher, step Step) AttemptBuilder {
	b.on = m
	b.recovery = step
	return b
}

// Ensure returns a copy of b running step whatever the outcome.
func (b AttemptBuilder) Ensure(step Step) AttemptBuilder {
	b.ensure = step
	return b
}

func (b AttemptBuilder) Build() (*Action, error) {
	body, err := build(b.body)
	if err != nil {
		return nil, err
	}
	recovery, err := build(b.recovery)
	if err != nil {
		return nil, err
	}
	ensure, err := build(b.ensure)
	if err != nil {
		return nil, err
	}
	return api.NewAttempt(api.AttemptSpec{
		Body:     body,
		Recover:  b.on,
		Recovery: recovery,
		Ensure:   ensure,
	})
}

// TimeOut bounds step by d.
func TimeOut(d time.Duration, step Step) Step {
	return stepFunc(func() (*Action, error) {
		body, err := build(step)
		if err != nil {
			return nil, err
		}
		return api.NewTimeOut(d, body)
	})
}

// WhenBuilder builds a conditional action.
type WhenBuilder struct {
	desc      string
	cond      CondFunc
	then      Step
	otherwise Step
}

// When runs then if cond holds. desc describes the condition in reports.
func When(desc string, cond CondFunc, then Step) WhenBuilder {
	return WhenBuilder{desc: desc, cond: cond, then: then}
}

// Otherwise returns a copy of b running step when the condition fails.
func (b WhenBuilder) Otherwise(step Step) WhenBuilder {
	b.otherwise = step
	return b
}

func (b WhenBuilder) Build() (*Action, error) {
	then, err := build(b.then)
	if err != nil {
		return nil, err
	}
	otherwise, err := build(b.otherwise)
	if err != nil {
		return nil, err
	}
	return api.NewWhen(b.desc, b.cond, then, otherwise)
}
