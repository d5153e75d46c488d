package report

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskmon"

// Metrics are boring counters and a few duration histograms, registered on a
// private registry. Every value is explainable from a single Result.
type Metrics struct {
	registry *prometheus.Registry

	invocations     *prometheus.CounterVec
	taskFailures    *prometheus.CounterVec
	snapshots       prometheus.Counter
	declFailures    prometheus.Counter
	unmonitored     prometheus.Counter
	taskDuration    prometheus.Histogram
	publishDuration prometheus.Histogram
	releaseDuration prometheus.Histogram
}

// NewMetrics creates and registers the invocation metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Invocations by outcome",
		}, []string{"status"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed tasks by error type",
		}, []string{"error_type"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_collected_total",
			Help:      "Monitoring snapshots read back after release",
		}),
		declFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "header_declaration_failures_total",
			Help:      "Headers written but not declared",
		}),
		unmonitored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmonitored_invocations_total",
			Help:      "Invocations with monitoring enabled whose sampler did not start",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution time",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Result encode and upload time",
			Buckets:   prometheus.DefBuckets,
		}),
		releaseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_release_duration_seconds",
			Help:      "Time to kill and reap the sampler",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.invocations,
		m.taskFailures,
		m.snapshots,
		m.declFailures,
		m.unmonitored,
		m.taskDuration,
		m.publishDuration,
		m.releaseDuration,
	)
	return m
}

// Registry exposes the private registry for HTTP export
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordResult updates every metric from one Result.
// This is the only way invocation metrics change.
func (m *Metrics) RecordResult(r *Result) {
	m.invocations.WithLabelValues(r.Status()).Inc()
	if !r.Succeeded() && r.ErrorType != "" {
		m.taskFailures.WithLabelValues(r.ErrorType).Inc()
	}

	m.snapshots.Add(float64(r.Snapshots))

	m.taskDuration.Observe(r.TaskDuration.Seconds())
	if r.PublishDuration > 0 {
		m.publishDuration.Observe(r.PublishDuration.Seconds())
	}
	if r.ReleaseDuration > 0 {
		m.releaseDuration.Observe(r.ReleaseDuration.Seconds())
	}
}

// AddDeclarationFailures counts headers that could not be declared
func (m *Metrics) AddDeclarationFailures(n int) {
	m.declFailures.Add(float64(n))
}

// IncrUnmonitored counts an invocation that ran without its sampler
func (m *Metrics) IncrUnmonitored() {
	m.unmonitored.Inc()
}
