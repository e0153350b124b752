package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/arbor/pkg/api"
	"github.com/petrijr/arbor/pkg/report"
)

// DefaultNamespace prefixes every metric name unless overridden.
const DefaultNamespace = "arbor"

// Metrics records run and node activity as Prometheus metrics.
type Metrics struct {
	Runs         *prometheus.CounterVec
	RunsInFlight prometheus.Gauge
	RunDuration  prometheus.Histogram

	Nodes        *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec
}

var _ api.Observer = (*Metrics)(nil)

// NewMetrics registers the engine metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer; an empty namespace uses DefaultNamespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "total",
				Help:      "Total number of finished runs by status",
			},
			[]string{"status"},
		),
		RunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "in_flight",
				Help:      "Number of runs currently executing",
			},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "Run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
			},
		),
		Nodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "total",
				Help:      "Total number of node executions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		NodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "duration_seconds",
				Help:      "Node execution duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) OnRunStart(ctx context.Context, run *api.Run) {
	m.RunsInFlight.Inc()
}

func (m *Metrics) OnRunCompleted(ctx context.Context, run *api.Run) {
	m.finishRun(run)
}

func (m *Metrics) OnRunFailed(ctx context.Context, run *api.Run, err error) {
	m.finishRun(run)
}

func (m *Metrics) finishRun(run *api.Run) {
	m.RunsInFlight.Dec()
	m.Runs.WithLabelValues(string(run.Status)).Inc()
	m.RunDuration.Observe(run.Duration().Seconds())
}

func (m *Metrics) OnNodeStart(ctx context.Context, run *api.Run, a *api.Action) {}

func (m *Metrics) OnNodeCompleted(ctx context.Context, run *api.Run, a *api.Action, err error, d time.Duration) {
	kind := a.Kind().String()
	m.Nodes.WithLabelValues(kind, report.Classify(err).String()).Inc()
	m.NodeDuration.WithLabelValues(kind).Observe(d.Seconds())
}
