package arbor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/arbor/internal/engine"
	"github.com/petrijr/arbor/internal/persistence"
	"github.com/petrijr/arbor/pkg/api"
	"github.com/petrijr/arbor/pkg/observability"
	"github.com/petrijr/arbor/pkg/report"
	"github.com/petrijr/arbor/pkg/worker"
)

// ErrRunnerClosed is returned by Run after Close.
var ErrRunnerClosed = errors.New("arbor: LocalRunner closed")

type (
	Event      = api.Event
	EventStore = persistence.EventStore
	Reporter   = report.Reporter
)

// LocalRunner bundles a worker pool, observers, run history and a
// per-run reporter to provide a ready-made engine for a single process.
//
// Typical usage:
//
//	runner, err := arbor.NewLocalRunner(ctx, arbor.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer runner.Close(ctx)
//
//	res, err := runner.Run(ctx, tree, nil)
//	fmt.Print(res.Report)
type LocalRunner struct {
	// Pool runs parallel units and TimeOut bodies for every run.
	Pool *worker.Pool

	// Metrics counts runs and nodes in process.
	Metrics *BasicMetrics

	cfg          Config
	policy       worker.FailurePolicy
	identity     report.IdentityPolicy
	logger       *slog.Logger
	observer     Observer
	interceptors []Interceptor

	history      EventStore
	closeHistory func() error

	prom     *observability.Metrics
	registry prometheus.Registerer

	mu     sync.Mutex
	closed bool
}

// RunnerOption customises a LocalRunner beyond what Config expresses.
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	logger         *slog.Logger
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	observers      []Observer
	interceptors   []Interceptor
}

// WithLogger replaces the logger built from Config.LogLevel.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(o *runnerOptions) { o.logger = l }
}

// WithRegisterer registers Prometheus metrics with reg instead of a
// private registry. Only used when metrics are enabled.
func WithRegisterer(reg prometheus.Registerer) RunnerOption {
	return func(o *runnerOptions) { o.registerer = reg }
}

// WithTracerProvider replaces the global tracer provider. Only used when
// tracing is enabled.
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(o *runnerOptions) { o.tracerProvider = tp }
}

// WithObserver adds obs to the observers notified of every run.
func WithObserver(obs Observer) RunnerOption {
	return func(o *runnerOptions) { o.observers = append(o.observers, obs) }
}

// WithInterceptor adds i to the interceptor chain of every run, inside
// tracing and outside the reporter.
func WithInterceptor(i Interceptor) RunnerOption {
	return func(o *runnerOptions) { o.interceptors = append(o.interceptors, i) }
}

// NewLocalRunner validates cfg and assembles a LocalRunner. ctx bounds
// connecting to the history backend.
func NewLocalRunner(ctx context.Context, cfg Config, opts ...RunnerOption) (*LocalRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o runnerOptions
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := cfg.failurePolicy()
	if err != nil {
		return nil, err
	}
	identity, err := cfg.identity()
	if err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		level, err := ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger = NewLogger(level)
	}

	history, closeHistory, err := persistence.Open(ctx, cfg.historyOptions())
	if err != nil {
		return nil, err
	}

	r := &LocalRunner{
		Pool:         worker.NewPool(cfg.Workers, worker.WithLogger(logger)),
		Metrics:      &BasicMetrics{},
		cfg:          cfg,
		policy:       policy,
		identity:     identity,
		logger:       logger,
		history:      history,
		closeHistory: closeHistory,
	}

	observers := []Observer{api.NewLoggingObserver(logger), r.Metrics}
	if cfg.History.Driver != "" && cfg.History.Driver != persistence.DriverNone {
		observers = append(observers, persistence.NewEventObserver(history))
	}
	if cfg.Metrics.Enabled {
		r.registry = o.registerer
		if r.registry == nil {
			r.registry = prometheus.NewRegistry()
		}
		r.prom = observability.NewMetrics(r.registry, cfg.Metrics.Namespace)
		observers = append(observers, r.prom)
	}
	observers = append(observers, o.observers...)
	r.observer = api.NewCompositeObserver(observers...)

	if cfg.Tracing.Enabled {
		r.interceptors = append(r.interceptors, observability.Tracing(o.tracerProvider))
	}
	r.interceptors = append(r.interceptors, o.interceptors...)

	logger.Debug("local runner ready",
		slog.Int("workers", cfg.Workers),
		slog.String("failure_policy", policy.String()),
		slog.String("history", cfg.History.Driver),
	)
	return r, nil
}

// Result is the outcome of LocalRunner.Run.
type Result struct {
	Run    *Run
	Report *Reporter
}

// Run performs step in a fresh scope seeded with vars. The returned Result
// is non-nil whenever the tree was built, even if the run failed, so the
// report can be rendered.
func (r *LocalRunner) Run(ctx context.Context, step Step, vars map[string]any) (*Result, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRunnerClosed
	}

	root, err := build(step)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, engine.ErrNilAction
	}

	rep := report.New(root, report.WithIdentity(r.identity))
	eng := engine.New(engine.Config{
		Pool:          r.Pool,
		FailurePolicy: r.policy,
		Observer:      r.observer,
		Interceptors:  append(slices.Clone(r.interceptors), rep.Interceptor()),
		Logger:        r.logger,
	})

	run, err := eng.Run(ctx, root, vars)
	return &Result{Run: run, Report: rep}, err
}

// History returns the run history store. It is a no-op store unless
// Config.History selects a driver.
func (r *LocalRunner) History() EventStore {
	return r.history
}

// PrometheusMetrics returns the Prometheus collectors, or nil when metrics
// are disabled.
func (r *LocalRunner) PrometheusMetrics() *observability.Metrics {
	return r.prom
}

// Registerer returns the registry the Prometheus collectors live in, or nil
// when metrics are disabled.
func (r *LocalRunner) Registerer() prometheus.Registerer {
	return r.registry
}

// Config returns the configuration the runner was built from.
func (r *LocalRunner) Config() Config {
	return r.cfg
}

// Close waits for in-flight parallel work, bounded by ctx, and releases the
// history backend. Close is idempotent.
func (r *LocalRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs []error
	if err := r.Pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown pool: %w", err))
	}
	if err := r.closeHistory(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	return errors.Join(errs...)
}
