// Package aztables implements table.Store on Azure Table Storage.
//
// Rows map to entities with PartitionKey = partition key and RowKey = the
// sort key in a fixed width, order preserving decimal form. The row value is
// kept in the string property "Value", so a row is limited to the service's
// 64 KiB property size. TransactPut submits one entity group transaction of
// Add actions, which the service applies all or nothing.
package aztables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/codewandler/esrepo-go/ports/table"
)

type (
	Store struct {
		svc     *aztables.ServiceClient
		mu      sync.Mutex
		clients map[string]*aztables.Client
	}

	entity struct {
		PartitionKey string `json:"PartitionKey"`
		RowKey       string `json:"RowKey"`
		Value        string `json:"Value"`
	}
)

// DefaultClientOptions retries throttling and transient server errors.
func DefaultClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewStoreFromConnectionString creates a store for the storage account in
// connStr. Nil options use DefaultClientOptions.
func NewStoreFromConnectionString(connStr string, options *aztables.ClientOptions) (*Store, error) {
	if options == nil {
		options = DefaultClientOptions()
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, options)
	if err != nil {
		return nil, err
	}
	return NewStore(svc), nil
}

func NewStore(svc *aztables.ServiceClient) *Store {
	return &Store{svc: svc, clients: map[string]*aztables.Client{}}
}

func (s *Store) client(tbl string) *aztables.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[tbl]
	if !ok {
		c = s.svc.NewClient(tbl)
		s.clients[tbl] = c
	}
	return c
}

// EnsureTable creates tbl unless it exists.
func (s *Store) EnsureTable(ctx context.Context, tbl string) error {
	if tbl == "" {
		return table.ErrTableRequired
	}
	_, err := s.client(tbl).CreateTable(ctx, nil)
	if err != nil && !hasCode(err, aztables.TableAlreadyExists) {
		return fmt.Errorf("failed to create table %s: %w", tbl, err)
	}
	return nil
}

func (s *Store) TransactPut(ctx context.Context, tbl string, items []table.Item) error {
	if tbl == "" {
		return table.ErrTableRequired
	}
	if err := table.ValidateItems(items); err != nil {
		return err
	}
	if _, err := table.SinglePartition(items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	actions := make([]aztables.TransactionAction, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(entity{
			PartitionKey: it.Key.PartitionKey,
			RowKey:       encodeRowKey(it.Key.SortKey),
			Value:        string(it.Value),
		})
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: data})
	}

	if _, err := s.client(tbl).SubmitTransaction(ctx, actions, nil); err != nil {
		if hasCode(err, aztables.EntityAlreadyExists) || hasStatus(err, http.StatusConflict) {
			return table.ErrConditionFailed
		}
		return fmt.Errorf("azure tables transaction on %s: %w", tbl, err)
	}
	return nil
}

// Query reads the range in ascending order. Descending queries read the
// whole range and reverse it, so they are meant for short ranges or small
// partitions.
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

	want := -1
	if q.Limit > 0 && !q.Descending {
		want = q.Limit + 1
	}

	items, err := s.list(ctx, tbl, q.PartitionKey, r, want)
	if err != nil {
		return table.Page{}, err
	}
	if q.Descending {
		slices.Reverse(items)
	}

	var page table.Page
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
		page.Cursor = table.EncodeCursor(items[len(items)-1].Key.SortKey)
	}
	page.Items = items
	return page, nil
}

// list returns up to want items of the range in ascending order, all of
// them if want < 0.
func (s *Store) list(ctx context.Context, tbl, pk string, r table.KeyRange, want int) ([]table.Item, error) {
	filter := fmt.Sprintf(
		"PartitionKey eq '%s' and RowKey ge '%s' and RowKey le '%s'",
		escape(pk), encodeRowKey(r.Min), encodeRowKey(r.Max),
	)
	opts := &aztables.ListEntitiesOptions{Filter: &filter}
	if want > 0 {
		top := int32(want)
		opts.Top = &top
	}

	var out []table.Item
	pager := s.client(tbl).NewListEntitiesPager(opts)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			if hasStatus(err, http.StatusNotFound) {
				return nil, fmt.Errorf("table %s does not exist: %w", tbl, err)
			}
			return nil, fmt.Errorf("azure tables query on %s: %w", tbl, err)
		}
		for _, raw := range resp.Entities {
			var e entity
			if err := json.Unmarshal(raw, &e); err != nil {
				return nil, err
			}
			sk, err := decodeRowKey(e.RowKey)
			if err != nil {
				return nil, err
			}
			out = append(out, table.Item{
				Key:   table.Key{PartitionKey: e.PartitionKey, SortKey: sk},
				Value: []byte(e.Value),
			})
		}
		if want > 0 && len(out) >= want {
			return out[:want], nil
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, tbl string, key table.Key) error {
	if tbl == "" {
		return table.ErrTableRequired
	}
	_, err := s.client(tbl).DeleteEntity(ctx, key.PartitionKey, encodeRowKey(key.SortKey), nil)
	if err != nil && !hasStatus(err, http.StatusNotFound) {
		return fmt.Errorf("azure tables delete %s: %w", key, err)
	}
	return nil
}

// === keys ===

// encodeRowKey maps int64 to a 20 digit string whose lexical order matches
// the numeric order.
func encodeRowKey(v int64) string {
	return fmt.Sprintf("%020d", uint64(v)^(1<<63))
}

func decodeRowKey(s string) (int64, error) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid row key %q: %w", s, err)
	}
	return int64(u ^ (1 << 63)), nil
}

func escape(s string) string { return strings.ReplaceAll(s, "'", "''") }

// === errors ===

func hasCode(err error, code aztables.TableErrorCode) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == string(code)
}

func hasStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

var _ table.Store = (*Store)(nil)
