package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/esrepo-go/core/es"
	"github.com/codewandler/esrepo-go/core/metrics"
)

// ESMetrics implements es.Metrics using Prometheus.
type ESMetrics struct {
	// Repository metrics
	readDuration         *prometheus.HistogramVec
	writeDuration        *prometheus.HistogramVec
	eventsWritten        *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	pagesFetched         *prometheus.HistogramVec

	// Snapshot metrics
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotFallbacks    *prometheus.CounterVec
	snapshotFailures     *prometheus.CounterVec
	snapshotsPruned      *prometheus.CounterVec
}

// NewESMetrics creates the collectors and registers them with reg.
func NewESMetrics(reg prometheus.Registerer) *ESMetrics {
	labels := []string{"aggregate_type"}
	m := &ESMetrics{
		readDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_read_duration_seconds",
			Help:      "Repository read latency in seconds",
			Buckets:   defaultBuckets,
		}, labels),

		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_write_duration_seconds",
			Help:      "Repository write latency in seconds",
			Buckets:   defaultBuckets,
		}, labels),

		eventsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_written_total",
			Help:      "Total number of events written",
		}, labels),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of optimistic concurrency conflicts",
		}, labels),

		pagesFetched: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_pages",
			Help:      "Store pages fetched per event read",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, labels),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_load_duration_seconds",
			Help:      "Snapshot load latency in seconds",
			Buckets:   defaultBuckets,
		}, labels),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_save_duration_seconds",
			Help:      "Snapshot save latency in seconds",
			Buckets:   defaultBuckets,
		}, labels),

		snapshotFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fallbacks_total",
			Help:      "Reads that fell back to a full replay after a snapshot failure",
		}, labels),

		snapshotFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Failed snapshot operations",
		}, []string{"aggregate_type", "op"}),

		snapshotsPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pruned_total",
			Help:      "Snapshots deleted by retention",
		}, labels),
	}

	reg.MustRegister(
		m.readDuration,
		m.writeDuration,
		m.eventsWritten,
		m.concurrencyConflicts,
		m.pagesFetched,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.snapshotFallbacks,
		m.snapshotFailures,
		m.snapshotsPruned,
	)

	return m
}

func (m *ESMetrics) ReadDuration(aggType string) metrics.Timer {
	return newTimer(m.readDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) WriteDuration(aggType string) metrics.Timer {
	return newTimer(m.writeDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) EventsWritten(aggType string, count int) {
	m.eventsWritten.WithLabelValues(aggType).Add(float64(count))
}

func (m *ESMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *ESMetrics) PagesFetched(aggType string, pages int) {
	m.pagesFetched.WithLabelValues(aggType).Observe(float64(pages))
}

func (m *ESMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) SnapshotFallback(aggType string) {
	m.snapshotFallbacks.WithLabelValues(aggType).Inc()
}

func (m *ESMetrics) SnapshotFailed(aggType string, op string) {
	m.snapshotFailures.WithLabelValues(aggType, op).Inc()
}

func (m *ESMetrics) SnapshotsPruned(aggType string, count int) {
	m.snapshotsPruned.WithLabelValues(aggType).Add(float64(count))
}

var _ es.Metrics = (*ESMetrics)(nil)
