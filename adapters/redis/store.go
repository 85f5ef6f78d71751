// Package redis implements table.Store on Redis.
//
// Each partition is a sorted set indexing the sort keys and a hash holding
// the row values:
//
//	<prefix>:<table>:{<pk>}:idx    ZSET  member = score = sort key
//	<prefix>:<table>:{<pk>}:items  HASH  field = sort key, value = row
//
// The partition key is a hash tag so both keys live in the same cluster
// slot. Sort keys are scores, so they are exact up to 2^53.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/codewandler/esrepo-go/ports/table"
)

const defaultPageSize = 100

// putScript inserts every row of one partition, or none if any exists.
var putScript = goredis.NewScript(`
for i = 1, #ARGV, 2 do
	if redis.call('HEXISTS', KEYS[2], ARGV[i]) == 1 then
		return 0
	end
end
for i = 1, #ARGV, 2 do
	redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i])
	redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 1])
end
return 1
`)

type (
	Option func(*Store)

	Store struct {
		client   goredis.UniversalClient
		prefix   string
		pageSize int
	}
)

// WithKeyPrefix sets the prefix of every key. Defaults to "es".
func WithKeyPrefix(prefix string) Option { return func(s *Store) { s.prefix = prefix } }

// WithPageSize caps the items returned per query page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func NewStore(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "es", pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a client from a redis:// URL or a bare host:port address.
func Connect(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		opts = &goredis.Options{Addr: redisURL}
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

func (s *Store) keys(tbl, pk string) (idx, items string) {
	base := fmt.Sprintf("%s:%s:{%s}", s.prefix, tbl, pk)
	return base + ":idx", base + ":items"
}

func (s *Store) TransactPut(ctx context.Context, tbl string, items []table.Item) error {
	if tbl == "" {
		return table.ErrTableRequired
	}
	if err := table.ValidateItems(items); err != nil {
		return err
	}
	pk, err := table.SinglePartition(items)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	idx, rows := s.keys(tbl, pk)
	args := make([]any, 0, 2*len(items))
	for _, it := range items {
		args = append(args, strconv.FormatInt(it.Key.SortKey, 10), it.Value)
	}

	ok, err := putScript.Run(ctx, s.client, []string{idx, rows}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis transact put: %w", err)
	}
	if ok == 0 {
		return table.ErrConditionFailed
	}
	return nil
}

func (s *Store) Query(ctx context.Context, tbl string, q table.Query) (table.Page, error) {
	if tbl == "" {
		return table.Page{}, table.ErrTableRequired
	}
	if err := q.Validate(); err != nil {
		return table.Page{}, err
	}
	r, ok, err := table.Resume(q)
	if err != nil || !ok {
		return table.Page{}, err
	}

	limit := s.pageSize
	if q.Limit > 0 && q.Limit < limit {
		limit = q.Limit
	}

	idx, rows := s.keys(tbl, q.PartitionKey)
	by := &goredis.ZRangeBy{Min: score(r.Min), Max: score(r.Max), Count: int64(limit + 1)}

	var members []string
	if q.Descending {
		members, err = s.client.ZRevRangeByScore(ctx, idx, by).Result()
	} else {
		members, err = s.client.ZRangeByScore(ctx, idx, by).Result()
	}
	if err != nil {
		return table.Page{}, fmt.Errorf("redis query %s: %w", idx, err)
	}

	var page table.Page
	if len(members) > limit {
		members = members[:limit]
		last, err := strconv.ParseInt(members[limit-1], 10, 64)
		if err != nil {
			return table.Page{}, fmt.Errorf("corrupt index member %q: %w", members[limit-1], err)
		}
		page.Cursor = table.EncodeCursor(last)
	}
	if len(members) == 0 {
		return page, nil
	}

	values, err := s.client.HMGet(ctx, rows, members...).Result()
	if err != nil {
		return table.Page{}, fmt.Errorf("redis fetch %s: %w", rows, err)
	}

	page.Items = make([]table.Item, 0, len(members))
	for i, m := range members {
		sk, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return table.Page{}, fmt.Errorf("corrupt index member %q: %w", m, err)
		}
		v, ok := values[i].(string)
		if !ok {
			// deleted between the two round trips
			continue
		}
		page.Items = append(page.Items, table.Item{
			Key:   table.Key{PartitionKey: q.PartitionKey, SortKey: sk},
			Value: []byte(v),
		})
	}
	return page, nil
}

func (s *Store) Delete(ctx context.Context, tbl string, key table.Key) error {
	if tbl == "" {
		return table.ErrTableRequired
	}
	idx, rows := s.keys(tbl, key.PartitionKey)
	member := strconv.FormatInt(key.SortKey, 10)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZRem(ctx, idx, member)
		p.HDel(ctx, rows, member)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func score(v int64) string {
	switch v {
	case table.All().Min:
		return "-inf"
	case table.All().Max:
		return "+inf"
	}
	return strconv.FormatInt(v, 10)
}

var _ table.Store = (*Store)(nil)
