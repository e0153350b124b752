package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay execution. Node callbacks may arrive
// concurrently from parallel branches.
type Observer interface {
	// OnRunStart is called once when a run begins, before the root node.
	OnRunStart(ctx context.Context, run *Run)

	// OnRunCompleted is called when the root node finished without error.
	OnRunCompleted(ctx context.Context, run *Run)

	// OnRunFailed is called when the root node propagated an error.
	OnRunFailed(ctx context.Context, run *Run, err error)

	// OnNodeStart is called before a node is performed.
	OnNodeStart(ctx context.Context, run *Run, a *Action)

	// OnNodeCompleted is called after a node returns, for both successes
	// and failures (err != nil).
	OnNodeCompleted(ctx context.Context, run *Run, a *Action, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *Run)             {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *Run)         {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *Run, err error) {}
func (NoopObserver) OnNodeStart(ctx context.Context, run *Run, a *Action) {}
func (NoopObserver) OnNodeCompleted(ctx context.Context, run *Run, a *Action, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, run *Run, a *Action) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, run, a)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, run *Run, a *Action, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, run, a, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / node lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("run_id", run.ID),
		slog.String("root", run.Root.Description()),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("run_id", run.ID),
		slog.Duration("duration", run.Duration()),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("run_id", run.ID),
		slog.Duration("duration", run.Duration()),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, run *Run, a *Action) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("run_id", runID(run)),
		slog.Uint64("action_id", a.ID()),
		slog.String("kind", a.Kind().String()),
		slog.String("node", a.Description()),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, run *Run, a *Action, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("run_id", runID(run)),
		slog.Uint64("action_id", a.ID()),
		slog.String("kind", a.Kind().String()),
		slog.String("node", a.Description()),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func runID(run *Run) string {
	if run == nil {
		return ""
	}
	return run.ID
}

// BasicMetrics collects simple counters and aggregate leaf durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted   atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64
	nodesFailed   atomic.Int64
	leavesRun     atomic.Int64
	totalLeafTime atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsInFlight  int64

	NodesFailed     int64
	LeavesCompleted int64
	AvgLeafDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *Run) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *Run) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *Run, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, run *Run, a *Action, err error, d time.Duration) {
	if err != nil {
		m.nodesFailed.Add(1)
		return
	}
	// Only successful leaves count towards the average duration.
	if a.Kind() == KindLeaf {
		m.leavesRun.Add(1)
		m.totalLeafTime.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	leaves := m.leavesRun.Load()
	totalNs := m.totalLeafTime.Load()

	var avg time.Duration
	if leaves > 0 {
		avg = time.Duration(totalNs / leaves)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		RunsInFlight:    started - completed - failed,
		NodesFailed:     m.nodesFailed.Load(),
		LeavesCompleted: leaves,
		AvgLeafDuration: avg,
	}
}
