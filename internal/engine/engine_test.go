package engine

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/arbor/internal/ctxlog"
	"github.com/petrijr/arbor/internal/testutil"
	"github.com/petrijr/arbor/pkg/api"
	"github.com/petrijr/arbor/pkg/worker"
)

var must = testutil.Must

var loggerFrom = ctxlog.FromContext

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := New(cfg)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

func TestSequenceStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	tree := must(api.NewComposite(false,
		rec.Leaf("a"),
		rec.Fail("b", testutil.ErrBoom),
		rec.Leaf("c"),
	))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

	require.ErrorIs(t, err, testutil.ErrBoom)
	assert.Equal(t, []string{"a", "b"}, rec.Entries())
}

func TestSequenceSharesScope(t *testing.T) {
	t.Parallel()
	set := must(api.NewLeaf("set", func(ctx context.Context, sc *api.Scope) error {
		sc.Set("x", 1)
		return nil
	}))
	var rec testutil.Recorder
	tree := must(api.NewComposite(false, set, rec.Var("x")))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, nil))
	assert.Equal(t, []string{"x=1"}, rec.Entries())
}

func TestParallelWaitsForAllFailures(t *testing.T) {
	t.Parallel()
	var finished atomic.Int32
	slowFail := func(d time.Duration, err error) *api.Action {
		return must(api.NewLeaf("", func(ctx context.Context, sc *api.Scope) error {
			time.Sleep(d)
			finished.Add(1)
			return err
		}))
	}
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	tree := must(api.NewComposite(true, slowFail(time.Millisecond, errA), slowFail(20*time.Millisecond, errB)))

	err := newEngine(t, Config{Pool: worker.NewPool(4)}).Perform(context.Background(), tree, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errA) || errors.Is(err, errB))
	assert.EqualValues(t, 2, finished.Load(), "both branches must run to completion")
}

func TestParallelCancelOnFailureCancelsSiblings(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	tree := must(api.NewComposite(true,
		rec.Fail("fail", testutil.ErrBoom),
		testutil.Blocking(),
	))

	e := newEngine(t, Config{FailurePolicy: worker.CancelOnFailure})
	done := make(chan error, 1)
	go func() { done <- e.Perform(context.Background(), tree, nil) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, testutil.ErrBoom)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel-on-failure did not cancel the blocking sibling")
	}
}

func TestParallelBranchesAreIsolated(t *testing.T) {
	t.Parallel()
	write := func(v int) *api.Action {
		return must(api.NewLeaf("", func(ctx context.Context, sc *api.Scope) error {
			sc.Set("x", v)
			return nil
		}))
	}
	var seen atomic.Int32
	read := must(api.NewLeaf("read", func(ctx context.Context, sc *api.Scope) error {
		v, err := api.Var[int](sc, "x")
		if err != nil {
			return err
		}
		seen.Store(int32(v))
		return nil
	}))

	root := api.NewScopeWith(map[string]any{"x": 0})
	tree := must(api.NewComposite(true, write(1), write(2), read))
	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, root))

	x, err := api.Var[int](root, "x")
	require.NoError(t, err)
	assert.Equal(t, 0, x, "branch writes must not leak into the parent")
	assert.EqualValues(t, 0, seen.Load(), "siblings must not see each other's writes")
}

func TestNestedParallelOnSaturatedPoolCompletes(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	inner := func(p string) *api.Action {
		return must(api.NewComposite(true, rec.Leaf(p+"1"), rec.Leaf(p+"2"), rec.Leaf(p+"3")))
	}
	tree := must(api.NewComposite(true, inner("a"), inner("b"), inner("c")))

	err := newEngine(t, Config{Pool: worker.NewPool(1)}).Perform(context.Background(), tree, nil)

	require.NoError(t, err)
	assert.Len(t, rec.Entries(), 9)
}

func TestForEachSequentialOrder(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	tree := must(api.NewForEach("i", api.Values(1, 2, 3), rec.Var("i"), false))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, nil))
	assert.Equal(t, []string{"i=1", "i=2", "i=3"}, rec.Entries())
}

func TestForEachStopsAndReleasesSequence(t *testing.T) {
	t.Parallel()
	var (
		pulled   atomic.Int32
		released atomic.Bool
	)
	factory := api.SequenceFunc(func(ctx context.Context, sc *api.Scope) (iter.Seq2[any, error], error) {
		return func(yield func(any, error) bool) {
			defer released.Store(true)
			for i := 0; ; i++ {
				pulled.Add(1)
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	})
	body := must(api.NewLeaf("fail at 2", func(ctx context.Context, sc *api.Scope) error {
		i, err := api.Var[int](sc, "i")
		if err != nil {
			return err
		}
		if i == 2 {
			return testutil.ErrBoom
		}
		return nil
	}))
	tree := must(api.NewForEach("i", factory, body, false))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

	require.ErrorIs(t, err, testutil.ErrBoom)
	assert.EqualValues(t, 3, pulled.Load(), "the sequence must be consumed lazily")
	assert.True(t, released.Load(), "the sequence must be released on failure")
}

func failingLines(t *testing.T, input string, err error) api.SequenceFunc {
	t.Helper()
	return api.FromSeq2(func(yield func(any, error) bool) {
		for _, line := range strings.Fields(input) {
			if !yield(line, nil) {
				return
			}
		}
		yield(nil, err)
	})
}

func TestForEachPropagatesSequenceError(t *testing.T) {
	t.Parallel()
	readErr := errors.New("disk read failed")
	for _, parallel := range []bool{false, true} {
		var rec testutil.Recorder
		tree := must(api.NewForEach("line", failingLines(t, "a b", readErr), rec.Var("line"), parallel))

		err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

		require.ErrorIs(t, err, readErr, "parallel=%v", parallel)
		assert.Equal(t, []string{"line=a", "line=b"}, rec.Sorted(), "parallel=%v", parallel)
	}
}

func panickingSequence(ctx context.Context, sc *api.Scope) (iter.Seq2[any, error], error) {
	return func(yield func(any, error) bool) {
		if !yield(1, nil) {
			return
		}
		panic("iterator broke")
	}, nil
}

func TestForEachSequencePanicStillRunsEnsure(t *testing.T) {
	t.Parallel()
	for _, parallel := range []bool{false, true} {
		var ensured atomic.Int32
		tree := must(api.NewAttempt(api.AttemptSpec{
			Body: must(api.NewForEach("i", panickingSequence,
				must(api.NewLeaf("nop", func(ctx context.Context, sc *api.Scope) error { return nil })), parallel)),
			Ensure: must(api.NewLeaf("ensure", func(ctx context.Context, sc *api.Scope) error {
				ensured.Add(1)
				return nil
			})),
		}))

		err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

		var pe *api.PanicError
		require.ErrorAs(t, err, &pe, "parallel=%v", parallel)
		assert.Equal(t, "iterator broke", pe.Value)
		assert.EqualValues(t, 1, ensured.Load(), "parallel=%v", parallel)
	}
}

func TestForEachParallelRunsEveryElement(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	tree := must(api.NewForEach("i", api.Range(0, 5), rec.Var("i"), true))

	require.NoError(t, newEngine(t, Config{Pool: worker.NewPool(2)}).Perform(context.Background(), tree, nil))
	assert.Equal(t, []string{"i=0", "i=1", "i=2", "i=3", "i=4"}, rec.Sorted())
}

func TestForEachLoopVariableDoesNotLeak(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	root := api.NewScope()
	tree := must(api.NewForEach("i", api.Values("x"), rec.Var("i"), false))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, root))
	assert.False(t, root.IsDefined("i"))
}

func TestAttemptRecoversAndEnsures(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	tree := must(api.NewAttempt(api.AttemptSpec{
		Body:     must(api.NewLeaf("raise", func(ctx context.Context, sc *api.Scope) error { return testutil.ErrBoom })),
		Recover:  api.MatchIs(testutil.ErrBoom),
		Recovery: rec.Leaf("caught"),
		Ensure:   rec.Leaf("done"),
	}))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, nil))
	assert.Equal(t, []string{"caught", "done"}, rec.Entries())
}

func TestAttemptEnsureRunsExactlyOnce(t *testing.T) {
	t.Parallel()
	other := errors.New("unrelated")
	cases := []struct {
		name    string
		body    error
		wantErr error
	}{
		{name: "success", body: nil},
		{name: "matched", body: testutil.ErrBoom},
		{name: "unmatched", body: other, wantErr: other},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var ensured atomic.Int32
			tree := must(api.NewAttempt(api.AttemptSpec{
				Body:     must(api.NewLeaf("body", func(ctx context.Context, sc *api.Scope) error { return tc.body })),
				Recover:  api.MatchIs(testutil.ErrBoom),
				Recovery: must(api.NewLeaf("recover", func(ctx context.Context, sc *api.Scope) error { return nil })),
				Ensure: must(api.NewLeaf("ensure", func(ctx context.Context, sc *api.Scope) error {
					ensured.Add(1)
					return nil
				})),
			}))

			err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.EqualValues(t, 1, ensured.Load())
		})
	}
}

func TestAttemptRecoveryScopeBindsCaughtError(t *testing.T) {
	t.Parallel()
	root := api.NewScope()
	var caught error
	tree := must(api.NewAttempt(api.AttemptSpec{
		Body: must(api.NewLeaf("raise", func(ctx context.Context, sc *api.Scope) error { return testutil.ErrBoom })),
		Recovery: must(api.NewLeaf("inspect", func(ctx context.Context, sc *api.Scope) error {
			caught, _ = api.CaughtError(sc)
			return nil
		})),
	}))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, root))
	assert.ErrorIs(t, caught, testutil.ErrBoom)
	assert.False(t, root.IsDefined(api.ErrorVar), "the caught error lives in the recovery scope only")
}

func TestAttemptOriginalErrorWinsOverEnsureError(t *testing.T) {
	t.Parallel()
	ensureErr := errors.New("cleanup failed")
	tree := must(api.NewAttempt(api.AttemptSpec{
		Body:   must(api.NewLeaf("raise", func(ctx context.Context, sc *api.Scope) error { return testutil.ErrBoom })),
		Ensure: must(api.NewLeaf("cleanup", func(ctx context.Context, sc *api.Scope) error { return ensureErr })),
	}))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

	var suppressed *api.SuppressedError
	require.ErrorAs(t, err, &suppressed)
	assert.ErrorIs(t, err, testutil.ErrBoom)
	assert.NotErrorIs(t, err, ensureErr)
	assert.Equal(t, ensureErr, suppressed.Suppressed)
}

func TestAttemptEnsureErrorAloneIsReturned(t *testing.T) {
	t.Parallel()
	ensureErr := errors.New("cleanup failed")
	tree := must(api.NewAttempt(api.AttemptSpec{
		Body:   must(api.NewLeaf("ok", func(ctx context.Context, sc *api.Scope) error { return nil })),
		Ensure: must(api.NewLeaf("cleanup", func(ctx context.Context, sc *api.Scope) error { return ensureErr })),
	}))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)
	assert.Equal(t, ensureErr, err)
}

func TestAttemptNeverRecoversProgrammingErrors(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	tree := must(api.NewAttempt(api.AttemptSpec{
		Body:     rec.Var("missing"),
		Recovery: rec.Leaf("recovered"),
	}))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

	var undefined *api.UndefinedVariableError
	require.ErrorAs(t, err, &undefined)
	assert.Empty(t, rec.Entries())
}

func TestRetryBudgetBoundary(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 3} {
		body, calls := testutil.Flaky(1000, testutil.ErrBoom)
		tree := must(api.NewRetry(body, api.RetryPolicy{Times: n}))

		err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

		require.ErrorIs(t, err, testutil.ErrBoom)
		assert.EqualValues(t, n+1, calls.Load(), "budget %d", n)
	}
}

func TestRetryFailTwiceThenSucceed(t *testing.T) {
	t.Parallel()
	body, calls := testutil.Flaky(2, testutil.ErrBoom)
	tree := must(api.NewRetry(body, api.RetryPolicy{Times: 2, Interval: time.Millisecond}))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, nil))
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetryFailOnceThenSucceed(t *testing.T) {
	t.Parallel()
	body, calls := testutil.Flaky(1, testutil.ErrBoom)
	tree := must(api.NewRetry(body, api.RetryPolicy{Times: 5}))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, nil))
	assert.EqualValues(t, 2, calls.Load())
}

func TestRetryForeverUntilSuccess(t *testing.T) {
	t.Parallel()
	body, calls := testutil.Flaky(10, testutil.ErrBoom)
	tree := must(api.NewRetry(body, api.RetryPolicy{Times: api.RetryForever}))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, nil))
	assert.EqualValues(t, 11, calls.Load())
}

func TestRetryNonMatchingErrorPropagatesImmediately(t *testing.T) {
	t.Parallel()
	other := errors.New("other")
	body, calls := testutil.Flaky(5, other)
	tree := must(api.NewRetry(body, api.RetryPolicy{Times: api.RetryForever, On: api.MatchIs(testutil.ErrBoom)}))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

	require.ErrorIs(t, err, other)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetryWaitObservesCancellation(t *testing.T) {
	t.Parallel()
	body, calls := testutil.Flaky(1000, testutil.ErrBoom)
	tree := must(api.NewRetry(body, api.RetryPolicy{Times: api.RetryForever, Interval: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := newEngine(t, Config{}).Perform(ctx, tree, nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetryOnTimeout(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	body := must(api.NewLeaf("slow first", func(ctx context.Context, sc *api.Scope) error {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}))
	tree := must(api.NewRetry(
		must(api.NewTimeOut(5*time.Millisecond, body)),
		api.RetryPolicy{Times: 1, On: api.MatchTimeout()},
	))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, nil))
	assert.EqualValues(t, 2, calls.Load())
}

func TestTimeOutReturnsBodyOutcome(t *testing.T) {
	t.Parallel()
	quick := must(api.NewLeaf("quick", func(ctx context.Context, sc *api.Scope) error {
		time.Sleep(time.Millisecond)
		return testutil.ErrBoom
	}))
	tree := must(api.NewTimeOut(10*time.Second, quick))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)
	require.ErrorIs(t, err, testutil.ErrBoom)
	assert.NotErrorIs(t, err, api.ErrTimeout)
}

func TestTimeOutFiresForStubbornBody(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	tree := must(api.NewTimeOut(5*time.Millisecond, testutil.Stubborn(release)))

	start := time.Now()
	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, api.ErrTimeout)
	var te *api.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 5*time.Millisecond, te.After)
	assert.Less(t, elapsed, time.Second)
}

func TestTimeOutCooperativeBody(t *testing.T) {
	t.Parallel()
	tree := must(api.NewTimeOut(5*time.Millisecond, testutil.Blocking()))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)
	require.ErrorIs(t, err, api.ErrTimeout)
}

func TestTimeOutParentCancellationIsNotTimeout(t *testing.T) {
	t.Parallel()
	tree := must(api.NewTimeOut(time.Hour, testutil.Blocking()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)
	err := newEngine(t, Config{}).Perform(ctx, tree, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, api.ErrTimeout)
}

func TestWhenBranches(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	never := func(ctx context.Context, sc *api.Scope) (bool, error) { return false, nil }
	tree := must(api.NewWhen("never", never, rec.Leaf("yes"), rec.Leaf("no")))

	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), tree, nil))
	assert.Equal(t, []string{"no"}, rec.Entries())

	noOtherwise := must(api.NewWhen("never", never, rec.Leaf("yes"), nil))
	require.NoError(t, newEngine(t, Config{}).Perform(context.Background(), noOtherwise, nil))
	assert.Equal(t, []string{"no"}, rec.Entries())
}

func TestWhenConditionError(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	broken := func(ctx context.Context, sc *api.Scope) (bool, error) { return false, testutil.ErrBoom }
	tree := must(api.NewWhen("broken", broken, rec.Leaf("yes"), rec.Leaf("no")))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)
	require.ErrorIs(t, err, testutil.ErrBoom)
	assert.Empty(t, rec.Entries())
}

func TestNamedIsTransparent(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	tree := must(api.NewNamed("deploy", rec.Fail("push", testutil.ErrBoom)))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)
	require.ErrorIs(t, err, testutil.ErrBoom)
	assert.Equal(t, []string{"push"}, rec.Entries())
}

func TestLeafPanicBecomesError(t *testing.T) {
	t.Parallel()
	tree := must(api.NewLeaf("panics", func(ctx context.Context, sc *api.Scope) error {
		panic("kaboom")
	}))

	err := newEngine(t, Config{}).Perform(context.Background(), tree, nil)

	var pe *api.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestSequenceObservesCancellation(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	ctx, cancel := context.WithCancel(context.Background())
	stop := must(api.NewLeaf("stop", func(context.Context, *api.Scope) error {
		cancel()
		return nil
	}))
	tree := must(api.NewComposite(false, stop, rec.Leaf("after")))

	err := newEngine(t, Config{}).Perform(ctx, tree, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Entries())
}

func TestPerformNilAction(t *testing.T) {
	t.Parallel()
	err := newEngine(t, Config{}).Perform(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilAction)
}

func TestInterceptorsSeeEveryNode(t *testing.T) {
	t.Parallel()
	var (
		rec  testutil.Recorder
		seen testutil.Recorder
	)
	trace := func(next api.PerformFunc) api.PerformFunc {
		return func(ctx context.Context, a *api.Action, sc *api.Scope) error {
			seen.Add(a.Kind().String())
			return next(ctx, a, sc)
		}
	}
	tree := must(api.NewNamed("job", must(api.NewComposite(false, rec.Leaf("a"), rec.Leaf("b")))))

	e := newEngine(t, Config{Interceptors: []api.Interceptor{trace}})
	require.NoError(t, e.Perform(context.Background(), tree, nil))
	assert.Equal(t, []string{"named", "composite", "leaf", "leaf"}, seen.Entries())
}

func TestRunRecordsStatus(t *testing.T) {
	t.Parallel()
	var rec testutil.Recorder
	e := newEngine(t, Config{})

	run, err := e.Run(context.Background(), rec.Var("who"), map[string]any{"who": "me"})
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, run.Status)
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.FinishedAt.IsZero())
	assert.Equal(t, []string{"who=me"}, rec.Entries())

	run, err = e.Run(context.Background(), rec.Fail("bad", testutil.ErrBoom), nil)
	require.ErrorIs(t, err, testutil.ErrBoom)
	assert.Equal(t, api.StatusFailed, run.Status)
	assert.ErrorIs(t, run.Err, testutil.ErrBoom)
}

func TestLeafLoggerFromContext(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	logger := newTestLogger(&buf)
	tree := must(api.NewLeaf("log", func(ctx context.Context, sc *api.Scope) error {
		loggerFrom(ctx).Info("inside leaf")
		return nil
	}))

	_, err := newEngine(t, Config{Logger: logger}).Run(context.Background(), tree, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "inside leaf")
	assert.Contains(t, buf.String(), "run_id=")
}
