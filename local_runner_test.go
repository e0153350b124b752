package arbor_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petrijr/arbor"
	"github.com/petrijr/arbor/internal/testutil"
	"github.com/petrijr/arbor/pkg/api"
	"github.com/petrijr/arbor/pkg/report"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRunner(t *testing.T, cfg arbor.Config, opts ...arbor.RunnerOption) *arbor.LocalRunner {
	t.Helper()
	opts = append([]arbor.RunnerOption{arbor.WithLogger(discard())}, opts...)
	runner, err := arbor.NewLocalRunner(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close(context.Background()) })
	return runner
}

func failing(name string) arbor.LeafBuilder {
	return arbor.Leaf(name, func(context.Context, *arbor.Scope) error { return testutil.ErrBoom })
}

func TestLocalRunnerReportsAndCounts(t *testing.T) {
	t.Parallel()
	runner := newRunner(t, arbor.DefaultConfig())
	tree := arbor.Sequence(arbor.Leaf("a", nop), arbor.Leaf("b", nop))

	res, err := runner.Run(context.Background(), tree, nil)
	require.NoError(t, err)

	assert.Equal(t, arbor.StatusCompleted, res.Run.Status)
	assert.Equal(t, 1, res.Report.Result("0/1").Runs)
	assert.True(t, res.Report.Summary().OK())

	snap := runner.Metrics.Snapshot()
	assert.EqualValues(t, 1, snap.RunsCompleted)
	assert.EqualValues(t, 2, snap.LeavesCompleted)
}

func TestLocalRunnerFailedRunStillReports(t *testing.T) {
	t.Parallel()
	runner := newRunner(t, arbor.DefaultConfig())

	res, err := runner.Run(context.Background(), arbor.Sequence(failing("bad"), arbor.Leaf("never", nop)), nil)
	require.ErrorIs(t, err, testutil.ErrBoom)
	require.NotNil(t, res)

	assert.Equal(t, arbor.StatusFailed, res.Run.Status)
	assert.Equal(t, report.Errored, res.Report.Result("0/0").Last)
	assert.Equal(t, report.NeverRun, res.Report.Result("0/1").Last)
}

func TestLocalRunnerBuildError(t *testing.T) {
	t.Parallel()
	runner := newRunner(t, arbor.DefaultConfig())

	res, err := runner.Run(context.Background(), arbor.Leaf("x", nil), nil)
	assert.Nil(t, res)
	assert.True(t, arbor.IsProgrammingError(err))
}

func TestLocalRunnerHistory(t *testing.T) {
	t.Parallel()
	_, client := testutil.StartRedis(t)

	configs := map[string]arbor.HistoryConfig{
		"memory": {Driver: "memory"},
		"sqlite": {Driver: "sqlite", DSN: ":memory:"},
		"redis":  {Driver: "redis", RedisAddr: client.Options().Addr, Prefix: "test:"},
	}
	for name, hc := range configs {
		t.Run(name, func(t *testing.T) {
			cfg := arbor.DefaultConfig()
			cfg.History = hc
			runner := newRunner(t, cfg)

			res, err := runner.Run(context.Background(), arbor.Named("job", arbor.Leaf("a", nop)), nil)
			require.NoError(t, err)

			ctx := context.Background()
			runs, err := runner.History().ListRuns(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{res.Run.ID}, runs)

			events, err := runner.History().ListEvents(ctx, res.Run.ID)
			require.NoError(t, err)
			require.Len(t, events, 6)
			assert.Equal(t, api.EventRunStarted, events[0].Type)
			assert.Equal(t, api.EventRunCompleted, events[5].Type)
		})
	}
}

func TestLocalRunnerUnreachableRedis(t *testing.T) {
	t.Parallel()
	cfg := arbor.DefaultConfig()
	cfg.History = arbor.HistoryConfig{Driver: "redis", RedisAddr: "127.0.0.1:1"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := arbor.NewLocalRunner(ctx, cfg, arbor.WithLogger(discard()))
	assert.Error(t, err)
}

func TestLocalRunnerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := arbor.DefaultConfig()
	cfg.FailurePolicy = "sometimes"

	_, err := arbor.NewLocalRunner(context.Background(), cfg)
	assert.ErrorContains(t, err, "FailurePolicy")
}

func TestLocalRunnerPrometheusMetrics(t *testing.T) {
	t.Parallel()
	cfg := arbor.DefaultConfig()
	cfg.Metrics = arbor.MetricsConfig{Enabled: true, Namespace: "test"}
	reg := prometheus.NewRegistry()
	runner := newRunner(t, cfg, arbor.WithRegisterer(reg))

	_, err := runner.Run(context.Background(), arbor.Leaf("a", nop), nil)
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), failing("b"), nil)
	require.Error(t, err)

	m := runner.PrometheusMetrics()
	require.NotNil(t, m)
	assert.Same(t, reg, runner.Registerer())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Runs.WithLabelValues(string(arbor.StatusCompleted))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Runs.WithLabelValues(string(arbor.StatusFailed))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Nodes.WithLabelValues("leaf", "errored")))
}

func TestLocalRunnerMetricsDisabledByDefault(t *testing.T) {
	t.Parallel()
	runner := newRunner(t, arbor.DefaultConfig())
	assert.Nil(t, runner.PrometheusMetrics())
	assert.Nil(t, runner.Registerer())
}

func TestLocalRunnerTracing(t *testing.T) {
	t.Parallel()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	cfg := arbor.DefaultConfig()
	cfg.Tracing.Enabled = true
	runner := newRunner(t, cfg, arbor.WithTracerProvider(tp))

	_, err := runner.Run(context.Background(), arbor.Parallel(arbor.Leaf("a", nop), arbor.Leaf("b", nop)), nil)
	require.NoError(t, err)
	assert.Len(t, sr.Ended(), 3)
}

func TestLocalRunnerIdentityByName(t *testing.T) {
	t.Parallel()
	cfg := arbor.DefaultConfig()
	cfg.Identity = "name"
	runner := newRunner(t, cfg)

	_, err := runner.Run(context.Background(), arbor.Sequence(arbor.Leaf("same", nop), arbor.Leaf("same", nop)), nil)

	var amb *report.AmbiguousNodeError
	assert.ErrorAs(t, err, &amb)
}

func TestLocalRunnerCancelOnFailure(t *testing.T) {
	t.Parallel()
	cfg := arbor.DefaultConfig()
	cfg.FailurePolicy = "cancel-on-failure"
	runner := newRunner(t, cfg)

	blocked := arbor.Leaf("blocked", func(ctx context.Context, _ *arbor.Scope) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	_, err := runner.Run(context.Background(), arbor.Parallel(blocked, failing("bad")), nil)
	require.ErrorIs(t, err, testutil.ErrBoom)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// countingObserver counts completed runs.
type countingObserver struct {
	arbor.NoopObserver

	mu   sync.Mutex
	runs int
}

func (c *countingObserver) OnRunCompleted(ctx context.Context, run *arbor.Run) {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
}

func TestLocalRunnerExtraObserverAndInterceptor(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	var seen []string
	var mu sync.Mutex
	icpt := func(next arbor.PerformFunc) arbor.PerformFunc {
		return func(ctx context.Context, a *arbor.Action, sc *arbor.Scope) error {
			mu.Lock()
			seen = append(seen, a.Description())
			mu.Unlock()
			return next(ctx, a, sc)
		}
	}
	runner := newRunner(t, arbor.DefaultConfig(), arbor.WithObserver(obs), arbor.WithInterceptor(icpt))

	_, err := runner.Run(context.Background(), arbor.Named("job", arbor.Leaf("a", nop)), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, obs.runs)
	assert.Equal(t, []string{"job", "a"}, seen)
}

func TestLocalRunnerLeafLoggerCarriesRunID(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	runner := newRunner(t, arbor.DefaultConfig(), arbor.WithLogger(arbor.NewLoggerTo(&buf, slog.LevelInfo)))

	leaf := arbor.Leaf("hello", func(ctx context.Context, _ *arbor.Scope) error {
		arbor.Logger(ctx).Info("inside leaf", "error", errors.New("nothing"))
		return nil
	})
	res, err := runner.Run(context.Background(), leaf, nil)
	require.NoError(t, err)

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "inside leaf") {
			line = l
		}
	}
	require.NotEmpty(t, line)
	assert.Contains(t, line, "run_id="+res.Run.ID)
	assert.Contains(t, line, "err=nothing")
}

func TestLocalRunnerClose(t *testing.T) {
	t.Parallel()
	runner, err := arbor.NewLocalRunner(context.Background(), arbor.DefaultConfig(), arbor.WithLogger(discard()))
	require.NoError(t, err)

	require.NoError(t, runner.Close(context.Background()))
	require.NoError(t, runner.Close(context.Background()))

	_, err = runner.Run(context.Background(), arbor.Leaf("a", nop), nil)
	assert.ErrorIs(t, err, arbor.ErrRunnerClosed)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := arbor.ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := arbor.ParseLevel("loud")
	assert.Error(t, err)
}
