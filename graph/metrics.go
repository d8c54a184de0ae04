package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects run, step, node and checkpoint metrics.
// Attach one to a compiled graph with WithMetrics. All metrics live
// under the "stategraph" namespace.
type PrometheusMetrics struct {
	runsTotal       *prometheus.CounterVec
	superSteps      prometheus.Counter
	nodesInflight   prometheus.Gauge
	nodeLatencyMS   *prometheus.HistogramVec
	interruptsTotal *prometheus.CounterVec
	checkpointSave  prometheus.Histogram
}

// NewPrometheusMetrics registers the collectors with reg. A nil reg
// uses the default registry. Register a given registry at most once;
// duplicate registration panics, per Prometheus convention.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stategraph",
			Name:      "runs_total",
			Help:      "Run outcomes by status (completed, failed, interrupted, limit_exceeded).",
		}, []string{"status"}),
		superSteps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stategraph",
			Name:      "super_steps_total",
			Help:      "Completed super-steps across all runs.",
		}),
		nodesInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stategraph",
			Name:      "nodes_inflight",
			Help:      "Nodes currently executing.",
		}),
		nodeLatencyMS: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stategraph",
			Name:      "node_duration_milliseconds",
			Help:      "Node execution time by node and status.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node", "status"}),
		interruptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stategraph",
			Name:      "interrupts_total",
			Help:      "Pauses by kind (before, after, dynamic).",
		}, []string{"kind"}),
		checkpointSave: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stategraph",
			Name:      "checkpoint_save_seconds",
			Help:      "Checkpoint persistence latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// IncRunOutcome counts a finished run by outcome status.
func (m *PrometheusMetrics) IncRunOutcome(status string) {
	m.runsTotal.WithLabelValues(status).Inc()
}

// IncSuperSteps counts one completed super-step.
func (m *PrometheusMetrics) IncSuperSteps() {
	m.superSteps.Inc()
}

// AddInflight records n nodes entering execution.
func (m *PrometheusMetrics) AddInflight(n int) {
	m.nodesInflight.Add(float64(n))
}

// SubInflight records n nodes leaving execution.
func (m *PrometheusMetrics) SubInflight(n int) {
	m.nodesInflight.Sub(float64(n))
}

// ObserveNodeLatency records one node execution.
func (m *PrometheusMetrics) ObserveNodeLatency(node, status string, ms float64) {
	m.nodeLatencyMS.WithLabelValues(node, status).Observe(ms)
}

// IncInterrupt counts one pause by kind.
func (m *PrometheusMetrics) IncInterrupt(kind string) {
	m.interruptsTotal.WithLabelValues(kind).Inc()
}

// ObserveCheckpointSave records one checkpoint write.
func (m *PrometheusMetrics) ObserveCheckpointSave(seconds float64) {
	m.checkpointSave.Observe(seconds)
}
