package api

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Run describes one top-level execution of an action tree.
type Run struct {
	ID         string
	Root       *Action
	Status     Status
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run took, or how long it has been running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// PerformFunc performs one action against a scope.
type PerformFunc func(ctx context.Context, a *Action, sc *Scope) error

// Interceptor wraps the perform call of every node, including nested ones.
// Interceptors must call next exactly once and return its error (possibly
// after bookkeeping); they may derive a new ctx for next.
type Interceptor func(next PerformFunc) PerformFunc

// ChainInterceptors composes interceptors so that the first one is the
// outermost.
func ChainInterceptors(interceptors ...Interceptor) Interceptor {
	return func(next PerformFunc) PerformFunc {
		for i := len(interceptors) - 1; i >= 0; i-- {
			if interceptors[i] != nil {
				next = interceptors[i](next)
			}
		}
		return next
	}
}

// Performer executes action trees.
type Performer interface {
	// Perform walks a against sc. A nil sc is replaced by a fresh root scope.
	Perform(ctx context.Context, a *Action, sc *Scope) error
}

// Engine is the high-level engine API.
type Engine interface {
	Performer

	// Run performs root in a fresh root scope seeded with vars and returns
	// the run record. The returned error is the run's error.
	Run(ctx context.Context, root *Action, vars map[string]any) (*Run, error)

	// Shutdown stops accepting parallel work and waits for in-flight units.
	Shutdown(ctx context.Context) error
}

type runKey struct{}

// WithRun returns a context carrying run, so that observers and interceptors
// can correlate node callbacks with the run they belong to.
func WithRun(ctx context.Context, run *Run) context.Context {
	return context.WithValue(ctx, runKey{}, run)
}

// RunFromContext returns the run carried by ctx, or nil when the tree is
// performed outside Engine.Run.
func RunFromContext(ctx context.Context) *Run {
	run, _ := ctx.Value(runKey{}).(*Run)
	return run
}
