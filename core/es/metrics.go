package es

import "github.com/codewandler/esrepo-go/core/metrics"

// Metrics receives repository measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ReadDuration(aggType string) metrics.Timer
	WriteDuration(aggType string) metrics.Timer
	EventsWritten(aggType string, count int)
	ConcurrencyConflict(aggType string)
	PagesFetched(aggType string, pages int)

	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer
	SnapshotFallback(aggType string)
	SnapshotFailed(aggType string, op string)
	SnapshotsPruned(aggType string, count int)
}

type nopMetrics struct{}

func (nopMetrics) ReadDuration(string) metrics.Timer  { return metrics.NopTimer() }
func (nopMetrics) WriteDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsWritten(string, int)          {}
func (nopMetrics) ConcurrencyConflict(string)         {}
func (nopMetrics) PagesFetched(string, int)           {}

func (nopMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotFallback(string)                   {}
func (nopMetrics) SnapshotFailed(string, string)             {}
func (nopMetrics) SnapshotsPruned(string, int)               {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
