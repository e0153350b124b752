package engine

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/arbor/internal/ctxlog"
	"github.com/petrijr/arbor/pkg/api"
	"github.com/petrijr/arbor/pkg/worker"
)

// ErrNilAction is returned when Perform or Run is handed a nil tree.
var ErrNilAction = errors.New("arbor: nil action")

// Config describes how to construct an Engine.
type Config struct {
	// Pool runs parallel Composite/ForEach units and TimeOut bodies. When nil
	// the engine creates an unbounded pool and shuts it down in Shutdown.
	Pool *worker.Pool

	// FailurePolicy applies to every parallel node. Defaults to WaitAll.
	FailurePolicy worker.FailurePolicy

	Observer api.Observer

	// Interceptors wrap every node dispatch; the first one is outermost.
	Interceptors []api.Interceptor

	Logger *slog.Logger
}

// Engine is the action-tree interpreter. It is safe for concurrent use; the
// trees it walks are immutable and all per-run state lives in the Scope and
// the context.
type Engine struct {
	pool     *worker.Pool
	ownsPool bool
	policy   worker.FailurePolicy
	observer api.Observer
	logger   *slog.Logger

	perform api.PerformFunc
}

var _ api.Engine = (*Engine)(nil)

// New creates an Engine from cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		pool:     cfg.Pool,
		policy:   cfg.FailurePolicy,
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.pool == nil {
		e.pool = worker.NewPool(0, worker.WithLogger(e.logger))
		e.ownsPool = true
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}

	chain := append([]api.Interceptor(nil), cfg.Interceptors...)
	if _, noop := e.observer.(api.NoopObserver); !noop {
		chain = append(chain, e.observe)
	}
	e.perform = api.ChainInterceptors(chain...)(e.dispatch)
	return e
}

// Perform walks a against sc. A nil sc is replaced by a fresh root scope.
func (e *Engine) Perform(ctx context.Context, a *api.Action, sc *api.Scope) error {
	if a == nil {
		return ErrNilAction
	}
	if sc == nil {
		sc = api.NewScope()
	}
	ctx = ctxlog.WithLogger(ctx, e.logger)
	return e.perform(ctx, a, sc)
}

// Run performs root in a fresh root scope seeded with vars, notifying the
// observer of the run lifecycle.
func (e *Engine) Run(ctx context.Context, root *api.Action, vars map[string]any) (*api.Run, error) {
	if root == nil {
		return nil, ErrNilAction
	}
	run := &api.Run{
		ID:        uuid.NewString(),
		Root:      root,
		Status:    api.StatusRunning,
		StartedAt: time.Now(),
	}
	ctx = api.WithRun(ctx, run)
	ctx = ctxlog.WithLogger(ctx, e.logger.With(slog.String("run_id", run.ID)))

	e.observer.OnRunStart(ctx, run)

	err := e.perform(ctx, root, api.NewScopeWith(vars))
	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = api.StatusFailed
		run.Err = err
		e.observer.OnRunFailed(ctx, run, err)
		return run, err
	}

	run.Status = api.StatusCompleted
	e.observer.OnRunCompleted(ctx, run)
	return run, nil
}

// Shutdown waits for in-flight parallel work. A pool passed in through
// Config belongs to the caller and is left running.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.ownsPool {
		return nil
	}
	return e.pool.Shutdown(ctx)
}

func (e *Engine) observe(next api.PerformFunc) api.PerformFunc {
	return func(ctx context.Context, a *api.Action, sc *api.Scope) error {
		run := api.RunFromContext(ctx)
		start := time.Now()
		e.observer.OnNodeStart(ctx, run, a)
		err := next(ctx, a, sc)
		e.observer.OnNodeCompleted(ctx, run, a, err, time.Since(start))
		return err
	}
}

func (e *Engine) dispatch(ctx context.Context, a *api.Action, sc *api.Scope) error {
	switch a.Kind() {
	case api.KindLeaf:
		return protect(func() error { return a.Leaf()(ctx, sc) })
	case api.KindNamed:
		return e.perform(ctx, a.Body(), sc)
	case api.KindComposite:
		if a.Parallel() {
			return e.performParallel(ctx, a, sc)
		}
		return e.performSequence(ctx, a, sc)
	case api.KindForEach:
		return e.performForEach(ctx, a, sc)
	case api.KindAttempt:
		return e.performAttempt(ctx, a, sc)
	case api.KindRetry:
		return e.performRetry(ctx, a, sc)
	case api.KindTimeOut:
		return e.performTimeOut(ctx, a, sc)
	case api.KindWhen:
		return e.performWhen(ctx, a, sc)
	default:
		return &api.ArgumentError{Kind: a.Kind(), Field: "kind", Message: "is not supported"}
	}
}

func (e *Engine) performSequence(ctx context.Context, a *api.Action, sc *api.Scope) error {
	for _, child := range a.Children() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.perform(ctx, child, sc); err != nil {
			return err
		}
	}
	return nil
}

// performParallel gives every child its own scope. Writes inside one branch
// stay invisible to its siblings; reads fall through to sc.
func (e *Engine) performParallel(ctx context.Context, a *api.Action, sc *api.Scope) error {
	children := a.Children()
	units := make([]worker.Unit, len(children))
	for i, child := range children {
		branch := sc.Child()
		units[i] = func(ctx context.Context) error {
			return e.perform(ctx, child, branch)
		}
	}
	return e.pool.FanOut(ctx, e.policy, units)
}

func (e *Engine) performForEach(ctx context.Context, a *api.Action, sc *api.Scope) error {
	var seq iter.Seq2[any, error]
	err := protect(func() error {
		var err error
		seq, err = a.Sequence()(ctx, sc)
		return err
	})
	if err != nil {
		return err
	}
	if seq == nil {
		return nil
	}

	body := a.Body()
	bind := func(v any) *api.Scope {
		elem := sc.Child()
		elem.Set(a.Var(), v)
		return elem
	}

	if a.Parallel() {
		// A sequence error becomes a failing unit so that the pool records
		// it like any other branch failure.
		units := func(yield func(worker.Unit) bool) {
			for v, err := range seq {
				if err != nil {
					yield(func(context.Context) error { return err })
					return
				}
				elem := bind(v)
				if !yield(func(ctx context.Context) error { return e.perform(ctx, body, elem) }) {
					return
				}
			}
		}
		return e.pool.FanOutSeq(ctx, e.policy, units)
	}

	// Returning from the range stops the producer, which releases whatever
	// the sequence holds. The sequence itself is user code and may panic.
	return protect(func() error {
		for v, err := range seq {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.perform(ctx, body, bind(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) performAttempt(ctx context.Context, a *api.Action, sc *api.Scope) error {
	err := e.perform(ctx, a.Body(), sc)

	if err != nil && a.Recovery() != nil && ctx.Err() == nil && a.Matcher().Matches(err) {
		ctxlog.FromContext(ctx).DebugContext(ctx, "recovering from error",
			slog.String("node", a.Description()),
			slog.Any("err", err),
		)
		rsc := sc.Child()
		rsc.Set(api.ErrorVar, err)
		err = e.perform(ctx, a.Recovery(), rsc)
	}

	if a.Ensure() == nil {
		return err
	}

	// The ensure clause runs even when the surrounding work was cancelled.
	ensureErr := e.perform(context.WithoutCancel(ctx), a.Ensure(), sc)
	switch {
	case ensureErr == nil:
		return err
	case err == nil:
		return ensureErr
	default:
		return &api.SuppressedError{Err: err, Suppressed: ensureErr}
	}
}

func (e *Engine) performRetry(ctx context.Context, a *api.Action, sc *api.Scope) error {
	policy := a.RetryPolicy()
	for retries := 0; ; retries++ {
		err := e.perform(ctx, a.Body(), sc)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !policy.On.Matches(err) || policy.Exhausted(retries) {
			return err
		}

		delay := policy.Delay(retries + 1)
		ctxlog.FromContext(ctx).DebugContext(ctx, "retrying action",
			slog.String("node", a.Description()),
			slog.Int("retry", retries+1),
			slog.Duration("delay", delay),
			slog.Any("err", err),
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// performTimeOut runs the body on its own goroutine so that control comes
// back once d elapses, whether or not the body honours cancellation.
func (e *Engine) performTimeOut(ctx context.Context, a *api.Action, sc *api.Scope) error {
	d := a.Timeout()
	timeout := &api.TimeoutError{After: d}
	tctx, cancel := context.WithTimeoutCause(ctx, d, timeout)
	defer cancel()

	done, err := e.pool.Spawn(tctx, func(ctx context.Context) error {
		return e.perform(ctx, a.Body(), sc)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		// A body that gave up because of our deadline reports the timeout,
		// not a bare context error.
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && context.Cause(tctx) == timeout {
			return timeout
		}
		return err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		ctxlog.FromContext(ctx).WarnContext(ctx, "action timed out",
			slog.String("node", a.Description()),
			slog.Duration("after", d),
		)
		return context.Cause(tctx)
	}
}

func (e *Engine) performWhen(ctx context.Context, a *api.Action, sc *api.Scope) error {
	var ok bool
	err := protect(func() error {
		var err error
		ok, err = a.Condition()(ctx, sc)
		return err
	})
	if err != nil {
		return err
	}
	if ok {
		return e.perform(ctx, a.Then(), sc)
	}
	if other := a.Otherwise(); other != nil {
		return e.perform(ctx, other, sc)
	}
	return nil
}

// protect runs a user callback, turning a panic into an *api.PanicError.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
