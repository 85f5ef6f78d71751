package table_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esrepo-go/ports/table"
	"github.com/codewandler/esrepo-go/ports/table/tabletest"
)

func TestMemStore(t *testing.T) {
	tabletest.Run(t, func(t *testing.T) (table.Store, string) {
		return table.NewMemStore(table.WithPageSize(25)), "events"
	})
}

func TestMemStore_tablesAreIsolated(t *testing.T) {
	s := table.NewMemStore()
	it := table.Item{Key: table.Key{PartitionKey: "a", SortKey: 0}, Value: []byte(`{}`)}

	require.NoError(t, s.TransactPut(t.Context(), "t1", []table.Item{it}))
	require.NoError(t, s.TransactPut(t.Context(), "t2", []table.Item{it}))
	require.ErrorIs(t, s.TransactPut(t.Context(), "t1", []table.Item{it}), table.ErrConditionFailed)
	require.Equal(t, 1, s.Len("t1", "a"))

	require.ErrorIs(t, s.TransactPut(t.Context(), "", []table.Item{it}), table.ErrTableRequired)
}

func TestMemStore_pageSize(t *testing.T) {
	s := table.NewMemStore(table.WithPageSize(3))
	var items []table.Item
	for i := int64(0); i < 7; i++ {
		items = append(items, table.Item{Key: table.Key{PartitionKey: "a", SortKey: i}, Value: []byte(`{}`)})
	}
	require.NoError(t, s.TransactPut(t.Context(), "t", items))

	page, err := s.Query(t.Context(), "t", table.Query{PartitionKey: "a", Range: table.All(), Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	require.NotEmpty(t, page.Cursor)

	all, err := table.QueryAll(t.Context(), s, "t", table.Query{PartitionKey: "a", Range: table.All()})
	require.NoError(t, err)
	require.Len(t, all, 7)
}

func TestQuery_Validate(t *testing.T) {
	require.ErrorIs(t, table.Query{}.Validate(), table.ErrInvalidQuery)
	require.ErrorIs(t, table.Query{PartitionKey: "a", Range: table.KeyRange{Min: 2, Max: 1}}.Validate(), table.ErrInvalidQuery)
	require.NoError(t, table.Query{PartitionKey: "a", Range: table.Below(0)}.Validate())
}

func TestCursor(t *testing.T) {
	c := table.EncodeCursor(-42)
	sk, err := table.DecodeCursor(c)
	require.NoError(t, err)
	require.EqualValues(t, -42, sk)

	_, err = table.DecodeCursor("not base64 !!")
	require.ErrorIs(t, err, table.ErrInvalidCursor)

	r, ok, err := table.Resume(table.Query{Range: table.KeyRange{Min: 0, Max: 10}, Cursor: table.EncodeCursor(10)})
	require.NoError(t, err)
	require.False(t, ok)

	r, ok, err = table.Resume(table.Query{Range: table.KeyRange{Min: 0, Max: 10}, Cursor: table.EncodeCursor(4), Descending: true})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, table.KeyRange{Min: 0, Max: 3}, r)
}

func TestSinglePartition(t *testing.T) {
	pk, err := table.SinglePartition(nil)
	require.NoError(t, err)
	require.Empty(t, pk)

	a := table.Item{Key: table.Key{PartitionKey: "a", SortKey: 0}}
	b := table.Item{Key: table.Key{PartitionKey: "b", SortKey: 0}}

	pk, err = table.SinglePartition([]table.Item{a, a})
	require.NoError(t, err)
	require.Equal(t, "a", pk)

	_, err = table.SinglePartition([]table.Item{a, b})
	require.ErrorIs(t, err, table.ErrCrossPartition)
}
