package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/codewandler/esrepo-go/core/sf"
	"github.com/codewandler/esrepo-go/ports/table"
)

// Repository reads and writes aggregates of one type in a [table.Store].
// Events are rows at versions 0..N-1 of the aggregate's partition; snapshots
// share the partition at negative versions.
//
// A Repository holds no per-call state and is safe for concurrent use.
// Concurrent writers of the same aggregate are fenced by the conditional
// batch write: exactly one of two writers starting at the same expected
// version succeeds, the other gets [ErrConcurrencyConflict] and should read
// again before retrying.
type Repository[T Aggregate] struct {
	log       *slog.Logger
	store     table.Store
	factory   func() T
	cfg       Config
	aggType   string
	fields    fieldCipher
	metrics   Metrics
	publisher Publisher
	reads     *sf.Singleflight[[]table.Item]
	now       func() time.Time
	newID     IDGenerator
}

// NewRepository creates a repository. factory must return a fresh aggregate
// with its routes registered.
func NewRepository[T Aggregate](
	store table.Store,
	factory func() T,
	cfg Config,
	opts ...RepositoryOption,
) (*Repository[T], error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if factory == nil {
		return nil, errors.New("aggregate factory is required")
	}

	options := newRepoOpts(cfg, opts...)
	if options.key != nil {
		cfg.EncryptionKey = *options.key
	}
	if options.debug != nil {
		cfg.Debug = *options.debug
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid repository config: %w", err)
	}

	aggType := factory().GetAggType()
	log := options.log.With(slog.String("repo", aggType), slog.String("table", cfg.TableName))

	r := &Repository[T]{
		log:       log,
		store:     store,
		factory:   factory,
		cfg:       cfg,
		aggType:   aggType,
		fields:    fieldCipher{log: log, cipher: options.cipher},
		metrics:   options.metrics,
		publisher: options.publisher,
		now:       options.clock,
		newID:     options.idGenerator,
	}
	if options.coalesce {
		r.reads = sf.New[[]table.Item]()
	}

	log.Debug(
		"repository created",
		slog.Group("snapshot",
			slog.Bool("enabled", cfg.Snapshot.Enabled),
			slog.Bool("auto", cfg.Snapshot.auto()),
			slog.Int("frequency", cfg.Snapshot.Frequency),
			slog.Int("retention", cfg.Snapshot.Retention),
		),
		slog.Bool("encryption_key", cfg.EncryptionKey != ""),
	)
	return r, nil
}

// NewRepositoryForTable is the table-name-first constructor kept for older
// callers. Debug and the default key are passed as WithDebug and
// WithEncryptionKey. Snapshots are disabled.
func NewRepositoryForTable[T Aggregate](
	tableName string,
	factory func() T,
	store table.Store,
	opts ...RepositoryOption,
) (*Repository[T], error) {
	return NewRepository(store, factory, Config{TableName: tableName}, opts...)
}

func (r *Repository[T]) Config() Config { return r.cfg }

func (r *Repository[T]) key(co callOpts) string {
	if co.key != nil {
		return *co.key
	}
	return r.cfg.EncryptionKey
}

func (r *Repository[T]) aggAttrs(id string) slog.Attr {
	return slog.Group("agg", slog.String("type", r.aggType), slog.String("id", id))
}

// === read ===

// Read rehydrates the aggregate with the given id. ok is false when no
// events exist for it.
//
// With snapshots enabled the newest snapshot is restored and only the events
// written after it are replayed. A snapshot that cannot be loaded is logged
// and the aggregate is rebuilt from all of its events instead.
func (r *Repository[T]) Read(ctx context.Context, id string, opts ...CallOption) (agg T, ok bool, err error) {
	if id == "" {
		return agg, false, ErrAggregateIDRequired
	}
	defer r.metrics.ReadDuration(r.aggType).ObserveDuration()

	var (
		key = r.key(newCallOpts(opts...))
		log = r.log.With(r.aggAttrs(id))
	)

	if r.cfg.Snapshot.Enabled {
		agg, err = r.readFromSnapshot(ctx, id, key)
		switch {
		case err == nil:
			return agg, true, nil
		case ctx.Err() != nil:
			var zero T
			return zero, false, ctx.Err()
		case errors.Is(err, errNoSnapshot):
			log.Debug("no snapshot, replaying all events")
		default:
			r.metrics.SnapshotFallback(r.aggType)
			log.Warn("snapshot unavailable, replaying all events", slog.Any("error", err))
		}
	}

	agg = r.factory()
	n, err := r.replay(ctx, agg, id, 0, key)
	if err != nil {
		var zero T
		return zero, false, err
	}
	if n == 0 {
		var zero T
		return zero, false, nil
	}

	log.Debug("read", agg.GetExpectedVersion().SlogAttr(), slog.Int("events", n))
	return agg, true, nil
}

func (r *Repository[T]) readFromSnapshot(ctx context.Context, id, key string) (agg T, err error) {
	agg, err = r.loadSnapshot(ctx, id, key)
	if err != nil {
		return agg, err
	}
	from := agg.GetExpectedVersion()
	n, err := r.replay(ctx, agg, id, from, key)
	if err != nil {
		return agg, fmt.Errorf("%w: failed to replay events after snapshot at %d: %w", ErrSnapshotUnavailable, from, err)
	}
	r.log.Debug("read from snapshot", r.aggAttrs(id), from.SlogAttrWithKey("snapshot_version"), slog.Int("events", n))
	return agg, nil
}

// replay loads the events of id starting at version from and applies them
// to agg. It returns the number of events replayed.
func (r *Repository[T]) replay(ctx context.Context, agg T, id string, from Version, key string) (int, error) {
	items, err := r.fetchEvents(ctx, id, from)
	if err != nil {
		return 0, err
	}

	router := &agg.root().router
	events := make([]Event, 0, len(items))
	for i, it := range items {
		var pe PersistedEvent
		if err := decodeInto(it.Value, &pe); err != nil {
			return 0, fmt.Errorf("failed to decode event row %s: %w", it.Key, err)
		}
		if want := from + Version(i); pe.AggregateVersion != want {
			return 0, fmt.Errorf("%w: %s expected version %d, got %d", ErrCorruptHistory, id, want, pe.AggregateVersion)
		}
		if pe.Data == nil {
			pe.Data = map[string]any{}
		}
		if err := r.fields.decrypt(pe.Data, pe.EncryptedProps, pe.FieldEncoding, key); err != nil {
			return 0, fmt.Errorf("event %s at version %d: %w", pe.EventType, pe.AggregateVersion, err)
		}
		newEvent, err := router.decoder(pe.EventType)
		if err != nil {
			return 0, err
		}
		ev, err := decodeEvent(pe, newEvent)
		if err != nil {
			return 0, err
		}
		events = append(events, ev)
	}

	if err := agg.Initialize(events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// fetchEvents returns the raw event rows of id at versions >= from. With read
// coalescing, concurrent callers share one result and must not modify it.
func (r *Repository[T]) fetchEvents(ctx context.Context, id string, from Version) ([]table.Item, error) {
	if r.reads == nil {
		return r.queryEvents(ctx, id, from)
	}
	rows, shared, err := r.reads.DoContext(ctx, id+"@"+strconv.FormatInt(int64(from), 10), func(ctx context.Context) ([]table.Item, error) {
		return r.queryEvents(ctx, id, from)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.log.Debug("read coalesced", r.aggAttrs(id), from.SlogAttrWithKey("from"))
	}
	return rows, nil
}

func (r *Repository[T]) queryEvents(ctx context.Context, id string, from Version) ([]table.Item, error) {
	var (
		q     = table.Query{PartitionKey: id, Range: table.AtLeast(int64(from))}
		out   []table.Item
		pages int
	)
	defer func() { r.metrics.PagesFetched(r.aggType, pages) }()

	for {
		page, err := r.store.Query(ctx, r.cfg.TableName, q)
		if err != nil {
			return nil, fmt.Errorf("failed to query events of %s: %w", id, err)
		}
		pages++
		out = append(out, page.Items...)
		if page.Cursor == "" {
			return out, nil
		}
		q.Cursor = page.Cursor
	}
}

// Version returns the number of committed events of id, 0 if there are none.
func (r *Repository[T]) Version(ctx context.Context, id string) (Version, error) {
	if id == "" {
		return 0, ErrAggregateIDRequired
	}
	page, err := r.store.Query(ctx, r.cfg.TableName, table.Query{
		PartitionKey: id,
		Range:        table.AtLeast(0),
		Descending:   true,
		Limit:        1,
	})
	if err != nil {
		return 0, err
	}
	if len(page.Items) == 0 {
		return 0, nil
	}
	return Version(page.Items[0].Key.SortKey + 1), nil
}

// === write ===

// Write persists the uncommitted events of agg as one conditional batch at
// versions GetExpectedVersion()+i. On success the events are committed on
// agg and, if due, a snapshot is taken. A batch colliding with events
// written by someone else fails as a whole with [ErrConcurrencyConflict].
func (r *Repository[T]) Write(ctx context.Context, agg T, opts ...CallOption) error {
	// freeze before any I/O
	var (
		changes  = agg.GetChanges()
		expected = agg.GetExpectedVersion()
	)
	if len(changes) == 0 {
		return nil
	}
	id := agg.GetID()
	if id == "" {
		return ErrAggregateIDRequired
	}
	if len(changes) > table.MaxTransactItems {
		return ErrRecorderCapacityExceeded
	}
	defer r.metrics.WriteDuration(r.aggType).ObserveDuration()

	var (
		key   = r.key(newCallOpts(opts...))
		log   = r.log.With(r.aggAttrs(id))
		rows  = make([]PersistedEvent, 0, len(changes))
		items = make([]table.Item, 0, len(changes))
	)

	for i, e := range changes {
		data, err := payloadOf(e)
		if err != nil {
			return err
		}
		encrypted, err := r.fields.encrypt(data, e.EncryptedProps(), key)
		if err != nil {
			return fmt.Errorf("event %s: %w", e.EventType(), err)
		}
		ts := e.OccurredAt()
		if ts.IsZero() {
			ts = r.now()
		}
		pe := PersistedEvent{
			AggregateID:      id,
			AggregateVersion: expected + Version(i),
			EventType:        e.EventType(),
			Timestamp:        ts.UTC(),
			EncryptedProps:   encrypted,
			Data:             data,
		}
		if len(encrypted) > 0 {
			pe.FieldEncoding = FieldEncodingJSON
		}
		value, err := json.Marshal(pe)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", e.EventType(), err)
		}
		rows = append(rows, pe)
		items = append(items, table.Item{
			Key:   table.Key{PartitionKey: id, SortKey: int64(pe.AggregateVersion)},
			Value: value,
		})
	}

	if err := r.store.TransactPut(ctx, r.cfg.TableName, items); err != nil {
		if errors.Is(err, table.ErrConditionFailed) {
			r.metrics.ConcurrencyConflict(r.aggType)
			log.Debug("concurrency conflict", expected.SlogAttrWithKey("expected_version"), slog.Int("events", len(items)))
			return fmt.Errorf("%w: %s %s at version %d", ErrConcurrencyConflict, r.aggType, id, expected)
		}
		return fmt.Errorf("failed to write %s %s: %w", r.aggType, id, err)
	}

	agg.root().commit(len(changes))
	r.metrics.EventsWritten(r.aggType, len(changes))
	log.Debug("written", agg.GetExpectedVersion().SlogAttr(), slog.Int("events", len(changes)))

	if err := r.publisher.Publish(ctx, r.aggType, rows); err != nil {
		log.Warn("failed to publish written events", slog.Any("error", err))
	}

	r.autoSnapshot(ctx, agg, expected+Version(len(changes)), key, changes[len(changes)-1].EncryptedProps())
	return nil
}

// autoSnapshot snapshots agg when version is a multiple of the snapshot
// frequency. Failures are logged only.
func (r *Repository[T]) autoSnapshot(ctx context.Context, agg T, version Version, key string, sensitive []string) {
	snap := r.cfg.Snapshot
	if !snap.Enabled || !snap.auto() || version%Version(snap.Frequency) != 0 {
		return
	}
	if agg.GetExpectedVersion() != version || agg.HasChanges() {
		// changed while writing, the state no longer matches version
		return
	}
	if err := r.saveSnapshot(ctx, agg, key, sensitive); err != nil {
		r.metrics.SnapshotFailed(r.aggType, "auto")
		r.log.Warn("failed to create snapshot", r.aggAttrs(agg.GetID()), version.SlogAttr(), slog.Any("error", err))
	}
}
