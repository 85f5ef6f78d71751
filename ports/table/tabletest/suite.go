// Package tabletest is a conformance suite for table.Store implementations.
package tabletest

import (
	"fmt"
	"sync"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esrepo-go/ports/table"
)

// Factory returns a store and the table name to run against. The table
// must exist and may be shared across subtests; partitions are unique per test.
type Factory func(t *testing.T) (table.Store, string)

func item(pk string, sk int64) table.Item {
	return table.Item{
		Key:   table.Key{PartitionKey: pk, SortKey: sk},
		Value: []byte(fmt.Sprintf(`{"pk":%q,"sk":%d}`, pk, sk)),
	}
}

func items(pk string, from, to int64) []table.Item {
	out := make([]table.Item, 0, to-from+1)
	for sk := from; sk <= to; sk++ {
		out = append(out, item(pk, sk))
	}
	return out
}

func sortKeys(items []table.Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key.SortKey)
	}
	return out
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("put and query", func(t *testing.T) {
		s, tbl := newStore(t)
		pk := gonanoid.Must()

		require.NoError(t, s.TransactPut(t.Context(), tbl, items(pk, 0, 4)))

		got, err := table.QueryAll(t.Context(), s, tbl, table.Query{PartitionKey: pk, Range: table.All()})
		require.NoError(t, err)
		require.Equal(t, []int64{0, 1, 2, 3, 4}, sortKeys(got))
		require.JSONEq(t, fmt.Sprintf(`{"pk":%q,"sk":3}`, pk), string(got[3].Value))

		empty, err := s.Query(t.Context(), tbl, table.Query{PartitionKey: gonanoid.Must(), Range: table.All()})
		require.NoError(t, err)
		require.Empty(t, empty.Items)
		require.Empty(t, empty.Cursor)
	})

	t.Run("conditional batch is all or nothing", func(t *testing.T) {
		s, tbl := newStore(t)
		pk := gonanoid.Must()

		require.NoError(t, s.TransactPut(t.Context(), tbl, items(pk, 0, 2)))

		// 2 collides, 3..5 must not become visible
		err := s.TransactPut(t.Context(), tbl, items(pk, 2, 5))
		require.ErrorIs(t, err, table.ErrConditionFailed)

		got, err := table.QueryAll(t.Context(), s, tbl, table.Query{PartitionKey: pk, Range: table.All()})
		require.NoError(t, err)
		require.Equal(t, []int64{0, 1, 2}, sortKeys(got))
	})

	t.Run("too many items", func(t *testing.T) {
		s, tbl := newStore(t)
		pk := gonanoid.Must()
		err := s.TransactPut(t.Context(), tbl, items(pk, 0, table.MaxTransactItems))
		require.ErrorIs(t, err, table.ErrTooManyItems)

		require.NoError(t, s.TransactPut(t.Context(), tbl, items(pk, 0, table.MaxTransactItems-1)))
	})

	t.Run("ranges split by sign", func(t *testing.T) {
		s, tbl := newStore(t)
		pk := gonanoid.Must()

		require.NoError(t, s.TransactPut(t.Context(), tbl, items(pk, 0, 3)))
		require.NoError(t, s.TransactPut(t.Context(), tbl, []table.Item{item(pk, -1)}))
		require.NoError(t, s.TransactPut(t.Context(), tbl, []table.Item{item(pk, -2)}))

		events, err := table.QueryAll(t.Context(), s, tbl, table.Query{PartitionKey: pk, Range: table.AtLeast(0)})
		require.NoError(t, err)
		require.Equal(t, []int64{0, 1, 2, 3}, sortKeys(events))

		snaps, err := table.QueryAll(t.Context(), s, tbl, table.Query{PartitionKey: pk, Range: table.Below(0)})
		require.NoError(t, err)
		require.Equal(t, []int64{-2, -1}, sortKeys(snaps))

		tail, err := table.QueryAll(t.Context(), s, tbl, table.Query{PartitionKey: pk, Range: table.AtLeast(2)})
		require.NoError(t, err)
		require.Equal(t, []int64{2, 3}, sortKeys(tail))
	})

	t.Run("descending with limit", func(t *testing.T) {
		s, tbl := newStore(t)
		pk := gonanoid.Must()
		require.NoError(t, s.TransactPut(t.Context(), tbl, items(pk, 0, 9)))

		page, err := s.Query(t.Context(), tbl, table.Query{
			PartitionKey: pk,
			Range:        table.AtLeast(0),
			Descending:   true,
			Limit:        1,
		})
		require.NoError(t, err)
		require.Equal(t, []int64{9}, sortKeys(page.Items))

		all, err := table.QueryAll(t.Context(), s, tbl, table.Query{
			PartitionKey: pk,
			Range:        table.AtLeast(0),
			Descending:   true,
			Limit:        3,
		})
		require.NoError(t, err)
		require.Equal(t, []int64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, sortKeys(all))
	})

	t.Run("pagination", func(t *testing.T) {
		s, tbl := newStore(t)
		pk := gonanoid.Must()
		require.NoError(t, s.TransactPut(t.Context(), tbl, items(pk, 0, 99)))
		require.NoError(t, s.TransactPut(t.Context(), tbl, items(pk, 100, 149)))

		var (
			q     = table.Query{PartitionKey: pk, Range: table.AtLeast(0), Limit: 40}
			pages int
			got   []table.Item
		)
		for {
			page, err := s.Query(t.Context(), tbl, q)
			require.NoError(t, err)
			require.LessOrEqual(t, len(page.Items), 40)
			got = append(got, page.Items...)
			pages++
			if page.Cursor == "" {
				break
			}
			q.Cursor = page.Cursor
		}
		require.GreaterOrEqual(t, pages, 4)
		require.Len(t, got, 150)
		for i, it := range got {
			require.EqualValues(t, i, it.Key.SortKey)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s, tbl := newStore(t)
		pk := gonanoid.Must()
		require.NoError(t, s.TransactPut(t.Context(), tbl, []table.Item{item(pk, -1), item(pk, -2), item(pk, 0)}))

		require.NoError(t, s.Delete(t.Context(), tbl, table.Key{PartitionKey: pk, SortKey: -1}))
		// missing keys are not an error
		require.NoError(t, s.Delete(t.Context(), tbl, table.Key{PartitionKey: pk, SortKey: -1}))

		got, err := table.QueryAll(t.Context(), s, tbl, table.Query{PartitionKey: pk, Range: table.All()})
		require.NoError(t, err)
		require.Equal(t, []int64{-2, 0}, sortKeys(got))

		// a deleted key can be written again
		require.NoError(t, s.TransactPut(t.Context(), tbl, []table.Item{item(pk, -1)}))
	})

	t.Run("racing writers", func(t *testing.T) {
		s, tbl := newStore(t)
		pk := gonanoid.Must()

		const N = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		wg.Add(N)
		for i := 0; i < N; i++ {
			go func() {
				defer wg.Done()
				err := s.TransactPut(t.Context(), tbl, items(pk, 0, 4))
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, table.ErrConditionFailed)
			}()
		}
		wg.Wait()
		require.Equal(t, 1, succeeded)
	})
}
