package arbor

import (
	"context"

	"github.com/petrijr/arbor/internal/engine"
	"github.com/petrijr/arbor/pkg/api"
	"github.com/petrijr/arbor/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Action       = api.Action
	Kind         = api.Kind
	Step         = api.Step
	Scope        = api.Scope
	LeafFunc     = api.LeafFunc
	CondFunc     = api.CondFunc
	SequenceFunc = api.SequenceFunc
	ErrorMatcher = api.ErrorMatcher
	RetryPolicy  = api.RetryPolicy

	Engine      = api.Engine
	Run         = api.Run
	Status      = api.Status
	Interceptor = api.Interceptor
	PerformFunc = api.PerformFunc

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Command           = api.Command
	CommandRunner     = api.CommandRunner
	CommandRunnerFunc = api.CommandRunnerFunc

	FailurePolicy = worker.FailurePolicy

	// EngineConfig configures NewEngineWithConfig.
	EngineConfig = engine.Config
)

// Re-export constructors and helpers.

var (
	NewScope     = api.NewScope
	NewScopeWith = api.NewScopeWith
	CaughtError  = api.CaughtError

	MatchAny     = api.MatchAny
	MatchIs      = api.MatchIs
	MatchTimeout = api.MatchTimeout
	MatchFunc    = api.MatchFunc

	Values   = api.Values
	Range    = api.Range
	Count    = api.Count
	FromSeq  = api.FromSeq
	FromSeq2 = api.FromSeq2
	FromVar  = api.FromVar
	Lines    = api.Lines

	Fail               = api.Fail
	Assert             = api.Assert
	IsAssertion        = api.IsAssertion
	IsProgrammingError = api.IsProgrammingError

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	ChainInterceptors = api.ChainInterceptors

	ErrTimeout = api.ErrTimeout
)

// Re-export constant values for convenience.

const (
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed

	RetryForever = api.RetryForever
	ErrorVar     = api.ErrorVar

	WaitAll         = worker.WaitAll
	CancelOnFailure = worker.CancelOnFailure
)

// Var returns variable name from sc as a T.
func Var[T any](sc *Scope, name string) (T, error) {
	return api.Var[T](sc, name)
}

// Slice iterates over the elements of xs.
func Slice[T any](xs []T) SequenceFunc {
	return api.Slice(xs)
}

// MatchAs matches errors that errors.As can convert to E.
func MatchAs[E error]() ErrorMatcher {
	return api.MatchAs[E]()
}

// Engine constructors.
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewEngine returns an Engine backed by an unbounded worker pool.
func NewEngine() Engine {
	return engine.New(engine.Config{})
}

// NewEngineWithObserver returns an Engine notifying obs.
func NewEngineWithObserver(obs Observer) Engine {
	return engine.New(engine.Config{Observer: obs})
}

// NewEngineWithConfig returns an Engine built from cfg.
func NewEngineWithConfig(cfg EngineConfig) Engine {
	return engine.New(cfg)
}

// Convenience helpers that just forward to the underlying Engine.

// Perform builds step and walks it against sc.
func Perform(ctx context.Context, eng Engine, step Step, sc *Scope) error {
	a, err := build(step)
	if err != nil {
		return err
	}
	return eng.Perform(ctx, a, sc)
}

// Execute builds step and runs it in a fresh scope seeded with vars.
func Execute(ctx context.Context, eng Engine, step Step, vars map[string]any) (*Run, error) {
	a, err := build(step)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx, a, vars)
}
