package estests

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esrepo-go/core/es"
	"github.com/codewandler/esrepo-go/core/metrics"
	"github.com/codewandler/esrepo-go/ports/table"
)

const encryptionKey = "test-encryption-key-32-bytes!!"

// rows returns the decoded rows of pk in r, in key order.
func rows(t *testing.T, s table.Store, pk string, r table.KeyRange) []map[string]any {
	t.Helper()
	items, err := table.QueryAll(t.Context(), s, "events", table.Query{PartitionKey: pk, Range: r})
	require.NoError(t, err)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(it.Value, &doc))
		out = append(out, doc)
	}
	return out
}

func snapshotKeys(t *testing.T, s table.Store, pk string) []int64 {
	t.Helper()
	items, err := table.QueryAll(t.Context(), s, "events", table.Query{PartitionKey: pk, Range: table.Below(0)})
	require.NoError(t, err)
	keys := make([]int64, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key.SortKey)
	}
	return keys
}

// === store ===

// faultyStore fails snapshot writes and deletes on demand and passes
// everything else to the wrapped store.
type faultyStore struct {
	table.Store

	mu          sync.Mutex
	snapshotErr error
	deleteErr   error
}

func (s *faultyStore) failSnapshots(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotErr = err
}

func (s *faultyStore) failDeletes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
}

func (s *faultyStore) TransactPut(ctx context.Context, tbl string, items []table.Item) error {
	s.mu.Lock()
	err := s.snapshotErr
	s.mu.Unlock()
	if err != nil && len(items) > 0 && items[0].Key.SortKey < 0 {
		return err
	}
	return s.Store.TransactPut(ctx, tbl, items)
}

func (s *faultyStore) Delete(ctx context.Context, tbl string, key table.Key) error {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Delete(ctx, tbl, key)
}

// === metrics ===

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingMetrics() *countingMetrics { return &countingMetrics{counts: map[string]int{}} }

func (m *countingMetrics) add(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name] += n
}

func (m *countingMetrics) get(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *countingMetrics) timer(name string) metrics.Timer {
	return metrics.NewTimer(func(time.Duration) { m.add(name, 1) })
}

func (m *countingMetrics) ReadDuration(string) metrics.Timer  { return m.timer("read") }
func (m *countingMetrics) WriteDuration(string) metrics.Timer { return m.timer("write") }
func (m *countingMetrics) EventsWritten(_ string, n int)      { m.add("events_written", n) }
func (m *countingMetrics) ConcurrencyConflict(string)         { m.add("conflicts", 1) }
func (m *countingMetrics) PagesFetched(_ string, n int)       { m.add("pages", n) }

func (m *countingMetrics) SnapshotLoadDuration(string) metrics.Timer { return m.timer("snapshot_load") }
func (m *countingMetrics) SnapshotSaveDuration(string) metrics.Timer { return m.timer("snapshot_save") }
func (m *countingMetrics) SnapshotFallback(string)                   { m.add("snapshot_fallbacks", 1) }
func (m *countingMetrics) SnapshotFailed(_ string, op string)        { m.add("snapshot_failed_"+op, 1) }
func (m *countingMetrics) SnapshotsPruned(_ string, n int)           { m.add("snapshots_pruned", n) }

var _ es.Metrics = (*countingMetrics)(nil)

// === publisher ===

type recordingPublisher struct {
	mu     sync.Mutex
	events []es.PersistedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, events []es.PersistedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}
