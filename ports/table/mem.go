package table

import (
	"context"
	"slices"
	"sync"
)

const defaultMemPageSize = 100

type MemOption func(*MemStore)

// WithPageSize bounds how many items a single Query page may return.
func WithPageSize(n int) MemOption {
	return func(m *MemStore) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// MemStore is an in-memory Store for tests and development. Partitions keep
// their rows sorted by sort key.
type MemStore struct {
	mu       sync.RWMutex
	pageSize int
	tables   map[string]map[string][]Item
}

func NewMemStore(opts ...MemOption) *MemStore {
	m := &MemStore{
		pageSize: defaultMemPageSize,
		tables:   map[string]map[string][]Item{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemStore) TransactPut(_ context.Context, table string, items []Item) error {
	if table == "" {
		return ErrTableRequired
	}
	if err := ValidateItems(items); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		t = map[string][]Item{}
		m.tables[table] = t
	}

	// check every condition before touching anything
	for _, it := range items {
		if _, found := findRow(t[it.Key.PartitionKey], it.Key.SortKey); found {
			return ErrConditionFailed
		}
	}

	for _, it := range items {
		rows := t[it.Key.PartitionKey]
		idx, _ := findRow(rows, it.Key.SortKey)
		t[it.Key.PartitionKey] = slices.Insert(rows, idx, Item{
			Key:   it.Key,
			Value: slices.Clone(it.Value),
		})
	}
	return nil
}

func (m *MemStore) Query(_ context.Context, table string, q Query) (Page, error) {
	if table == "" {
		return Page{}, ErrTableRequired
	}
	if err := q.Validate(); err != nil {
		return Page{}, err
	}
	r, ok, err := Resume(q)
	if err != nil || !ok {
		return Page{}, err
	}

	limit := m.pageSize
	if q.Limit > 0 && q.Limit < limit {
		limit = q.Limit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.tables[table][q.PartitionKey]
	lo, _ := findRow(rows, r.Min)
	hi := lo
	for hi < len(rows) && rows[hi].Key.SortKey <= r.Max {
		hi++
	}
	matched := rows[lo:hi]

	var page Page
	if q.Descending {
		for i := len(matched) - 1; i >= 0 && len(page.Items) < limit; i-- {
			page.Items = append(page.Items, cloneItem(matched[i]))
		}
	} else {
		for i := 0; i < len(matched) && len(page.Items) < limit; i++ {
			page.Items = append(page.Items, cloneItem(matched[i]))
		}
	}

	if len(page.Items) > 0 && len(page.Items) < len(matched) {
		page.Cursor = EncodeCursor(page.Items[len(page.Items)-1].Key.SortKey)
	}
	return page, nil
}

func (m *MemStore) Delete(_ context.Context, table string, key Key) error {
	if table == "" {
		return ErrTableRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tables[table]
	rows := t[key.PartitionKey]
	if idx, found := findRow(rows, key.SortKey); found {
		t[key.PartitionKey] = slices.Delete(rows, idx, idx+1)
	}
	return nil
}

// Len returns the number of rows stored in a partition.
func (m *MemStore) Len(table, partitionKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table][partitionKey])
}

func findRow(rows []Item, sk int64) (int, bool) {
	return slices.BinarySearchFunc(rows, sk, func(it Item, target int64) int {
		switch {
		case it.Key.SortKey < target:
			return -1
		case it.Key.SortKey > target:
			return 1
		}
		return 0
	})
}

func cloneItem(it Item) Item { return Item{Key: it.Key, Value: slices.Clone(it.Value)} }

var _ Store = (*MemStore)(nil)
