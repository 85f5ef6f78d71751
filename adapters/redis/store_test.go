package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esrepo-go/ports/table"
	"github.com/codewandler/esrepo-go/ports/table/tabletest"
)

func TestStore(t *testing.T) {
	tabletest.Run(t, func(t *testing.T) (table.Store, string) {
		return NewTestStore(t, WithPageSize(25)), "events"
	})
}

func TestStore_layout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewStore(client, WithKeyPrefix("app"))

	require.NoError(t, s.TransactPut(t.Context(), "events", []table.Item{
		{Key: table.Key{PartitionKey: "acc-1", SortKey: 0}, Value: []byte(`{"v":0}`)},
		{Key: table.Key{PartitionKey: "acc-1", SortKey: -1}, Value: []byte(`{"v":-1}`)},
	}))

	require.True(t, mr.Exists("app:events:{acc-1}:idx"))
	require.Equal(t, `{"v":-1}`, mr.HGet("app:events:{acc-1}:items", "-1"))

	members, err := mr.ZMembers("app:events:{acc-1}:idx")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"-1", "0"}, members)

	require.NoError(t, s.Delete(t.Context(), "events", table.Key{PartitionKey: "acc-1", SortKey: -1}))
	require.Empty(t, mr.HGet("app:events:{acc-1}:items", "-1"))
}

func TestStore_crossPartition(t *testing.T) {
	s := NewTestStore(t)
	err := s.TransactPut(t.Context(), "events", []table.Item{
		{Key: table.Key{PartitionKey: "a", SortKey: 0}, Value: []byte(`{}`)},
		{Key: table.Key{PartitionKey: "b", SortKey: 0}, Value: []byte(`{}`)},
	})
	require.ErrorIs(t, err, table.ErrCrossPartition)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, addr := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		client, err := Connect(t.Context(), addr)
		require.NoError(t, err)
		require.NoError(t, client.Close())
	}

	mr.Close()
	_, err := Connect(t.Context(), mr.Addr())
	require.Error(t, err)
}
