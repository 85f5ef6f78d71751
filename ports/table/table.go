// Package table defines the key-range store the event repository persists into.
//
// A table holds rows addressed by a composite key: a string partition key
// (the aggregate id) and a signed integer sort key (the aggregate version).
// Event rows use sort keys >= 0, snapshot rows use sort keys < 0, so a single
// range query can tell them apart by sign.
//
// Any backend that wants to serve as a [Store] must provide:
//   - an atomic, all-or-nothing multi-item write where every item is only
//     inserted if its key does not exist yet ([Store.TransactPut]),
//   - a strongly consistent, ordered, paginated range query ([Store.Query]),
//   - delete by exact key ([Store.Delete]).
package table

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// MaxTransactItems is the item ceiling of a single TransactPut call.
// The in-memory event recorder of an aggregate uses the same ceiling.
const MaxTransactItems = 100

var (
	ErrConditionFailed = errors.New("conditional write failed: key already exists")
	ErrTooManyItems    = fmt.Errorf("transaction exceeds %d items", MaxTransactItems)
	ErrInvalidQuery    = errors.New("invalid query")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrTableRequired   = errors.New("table name is required")
	ErrCrossPartition  = errors.New("transaction spans more than one partition")
)

type (
	// Key is the composite primary key of a row.
	Key struct {
		PartitionKey string `json:"pk"`
		SortKey      int64  `json:"sk"`
	}

	// Item is a single row. Value is the opaque (JSON) document stored under Key.
	Item struct {
		Key   Key
		Value []byte
	}

	// KeyRange is an inclusive sort key range.
	KeyRange struct {
		Min int64
		Max int64
	}

	Query struct {
		PartitionKey string
		Range        KeyRange
		Descending   bool
		// Limit caps the number of items in the returned page. Zero means
		// "store default page size".
		Limit int
		// Cursor continues a previous query. Empty starts from the beginning.
		Cursor string
	}

	Page struct {
		Items []Item
		// Cursor is empty once the range is exhausted.
		Cursor string
	}

	Store interface {
		TransactPut(ctx context.Context, table string, items []Item) error
		Query(ctx context.Context, table string, q Query) (Page, error)
		Delete(ctx context.Context, table string, key Key) error
	}
)

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.PartitionKey, k.SortKey) }

// All covers every sort key.
func All() KeyRange { return KeyRange{Min: math.MinInt64, Max: math.MaxInt64} }

// AtLeast covers sort keys >= v.
func AtLeast(v int64) KeyRange { return KeyRange{Min: v, Max: math.MaxInt64} }

// Below covers sort keys < v.
func Below(v int64) KeyRange { return KeyRange{Min: math.MinInt64, Max: v - 1} }

func (r KeyRange) Contains(v int64) bool { return v >= r.Min && v <= r.Max }

func (q Query) Validate() error {
	if q.PartitionKey == "" {
		return fmt.Errorf("%w: partition key is empty", ErrInvalidQuery)
	}
	if q.Range.Min > q.Range.Max {
		return fmt.Errorf("%w: range min %d > max %d", ErrInvalidQuery, q.Range.Min, q.Range.Max)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

// ValidateItems checks the shape of a TransactPut batch.
func ValidateItems(items []Item) error {
	if len(items) > MaxTransactItems {
		return ErrTooManyItems
	}
	seen := make(map[Key]struct{}, len(items))
	for _, it := range items {
		if it.Key.PartitionKey == "" {
			return fmt.Errorf("%w: item with empty partition key", ErrInvalidQuery)
		}
		if _, dup := seen[it.Key]; dup {
			return fmt.Errorf("%w: duplicate key %s in transaction", ErrInvalidQuery, it.Key)
		}
		seen[it.Key] = struct{}{}
	}
	return nil
}

// SinglePartition returns the partition key shared by all items. Backends
// whose transactions are scoped to one partition reject anything else.
func SinglePartition(items []Item) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	pk := items[0].Key.PartitionKey
	for _, it := range items[1:] {
		if it.Key.PartitionKey != pk {
			return "", fmt.Errorf("%w: %s and %s", ErrCrossPartition, pk, it.Key.PartitionKey)
		}
	}
	return pk, nil
}

// QueryAll follows cursors until the range is exhausted and returns every item
// in query order. Pages are fetched one after another.
func QueryAll(ctx context.Context, s Store, table string, q Query) ([]Item, error) {
	var out []Item
	for {
		page, err := s.Query(ctx, table, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.Cursor == "" {
			return out, nil
		}
		q.Cursor = page.Cursor
	}
}
