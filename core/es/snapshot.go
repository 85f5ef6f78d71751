package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/codewandler/esrepo-go/ports/table"
)

// LibraryVersion is stamped on snapshots this package writes.
const LibraryVersion = "1.3.0"

type (
	// PersistedSnapshot is the stored form of a snapshot. Snapshot rows share
	// the aggregate's partition with its events under negative versions: the
	// first snapshot is -1, the next -2 and so on, so the most negative
	// version is the newest.
	PersistedSnapshot struct {
		AggregateID       string            `json:"aggregateId"`
		AggregateVersion  int64             `json:"aggregateVersion"`
		SnapshotAtVersion Version           `json:"snapshotAtVersion"`
		AggregateType     string            `json:"aggregateType"`
		Timestamp         time.Time         `json:"timestamp"`
		Data              State             `json:"data"`
		EncryptedProps    []string          `json:"encryptedProps,omitempty"`
		FieldEncoding     string            `json:"fieldEncoding,omitempty"`
		Metadata          *SnapshotMetadata `json:"metadata,omitempty"`
	}

	SnapshotMetadata struct {
		SnapshotID     string `json:"snapshotId,omitempty"`
		LibraryVersion string `json:"libraryVersion"`
		GoVersion      string `json:"goVersion"`
		SchemaVersion  int    `json:"schemaVersion,omitempty"`
	}

	// SensitiveFielder is implemented by aggregates that name the snapshot
	// fields to encrypt. Without it the fields of the last written event
	// marked encrypted are used.
	SensitiveFielder interface {
		SensitiveFields() []string
	}
)

func (s *PersistedSnapshot) logAttrs() slog.Attr {
	attrs := []any{
		slog.Int64("key", s.AggregateVersion),
		s.SnapshotAtVersion.SlogAttrWithKey("at_version"),
		slog.Time("created_at", s.Timestamp),
		slog.Int("fields", len(s.Data)),
	}
	if s.Metadata != nil {
		attrs = append(attrs, slog.String("id", s.Metadata.SnapshotID))
	}
	return slog.Group("snapshot", attrs...)
}

var errNoSnapshot = fmt.Errorf("%w: no snapshot stored", ErrSnapshotUnavailable)

// latestSnapshot returns the newest snapshot row of id.
func (r *Repository[T]) latestSnapshot(ctx context.Context, id string) (*PersistedSnapshot, error) {
	page, err := r.store.Query(ctx, r.cfg.TableName, table.Query{
		PartitionKey: id,
		Range:        table.Below(0),
		Limit:        1,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	var s PersistedSnapshot
	if err := decodeInto(page.Items[0].Value, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", page.Items[0].Key, err)
	}
	return &s, nil
}

// loadSnapshot restores the newest snapshot of id into a fresh aggregate.
// Any failure is reported as ErrSnapshotUnavailable.
func (r *Repository[T]) loadSnapshot(ctx context.Context, id, key string) (agg T, err error) {
	defer r.metrics.SnapshotLoadDuration(r.aggType).ObserveDuration()

	s, err := r.latestSnapshot(ctx, id)
	if err != nil {
		return agg, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	if s == nil {
		return agg, errNoSnapshot
	}
	if s.AggregateType != "" && s.AggregateType != r.aggType {
		return agg, fmt.Errorf("%w: snapshot is of type %s", ErrSnapshotUnavailable, s.AggregateType)
	}
	if want := r.cfg.Snapshot.SchemaVersion; want != 0 && (s.Metadata == nil || s.Metadata.SchemaVersion != want) {
		return agg, fmt.Errorf("%w: schema version mismatch, want %d", ErrSnapshotUnavailable, want)
	}

	data := map[string]any(s.Data)
	if data == nil {
		data = map[string]any{}
	}
	if err := r.fields.decrypt(data, s.EncryptedProps, s.FieldEncoding, key); err != nil {
		return agg, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}

	agg = r.factory()
	if err := r.cfg.Snapshot.Serializer.Deserialize(data, agg); err != nil {
		return agg, fmt.Errorf("%w: failed to restore state: %w", ErrSnapshotUnavailable, err)
	}
	agg.root().setExpectedVersion(s.SnapshotAtVersion)

	r.log.Debug("snapshot restored", r.aggAttrs(id), s.logAttrs())
	return agg, nil
}

// saveSnapshot writes a snapshot of agg at its expected version and prunes
// old snapshots. fallbackFields names the sensitive fields when agg does not.
func (r *Repository[T]) saveSnapshot(ctx context.Context, agg T, key string, fallbackFields []string) (err error) {
	defer r.metrics.SnapshotSaveDuration(r.aggType).ObserveDuration()

	id := agg.GetID()
	if agg.HasChanges() {
		return fmt.Errorf("cannot snapshot %s with uncommitted changes", id)
	}

	state, err := r.cfg.Snapshot.Serializer.Serialize(agg)
	if err != nil {
		return err
	}

	sensitive := fallbackFields
	if sf, ok := any(agg).(SensitiveFielder); ok {
		sensitive = sf.SensitiveFields()
	}
	encrypted, err := r.fields.encrypt(state, sensitive, key)
	if err != nil {
		return err
	}

	latest, err := r.latestSnapshot(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to find latest snapshot: %w", err)
	}
	next := int64(-1)
	if latest != nil {
		next = latest.AggregateVersion - 1
	}

	s := PersistedSnapshot{
		AggregateID:       id,
		AggregateVersion:  next,
		SnapshotAtVersion: agg.GetExpectedVersion(),
		AggregateType:     r.aggType,
		Timestamp:         r.now().UTC(),
		Data:              state,
		EncryptedProps:    encrypted,
		Metadata: &SnapshotMetadata{
			SnapshotID:     r.newID(),
			LibraryVersion: LibraryVersion,
			GoVersion:      runtime.Version(),
			SchemaVersion:  r.cfg.Snapshot.SchemaVersion,
		},
	}
	if len(encrypted) > 0 {
		s.FieldEncoding = FieldEncodingJSON
	}
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	err = r.store.TransactPut(ctx, r.cfg.TableName, []table.Item{{
		Key:   table.Key{PartitionKey: id, SortKey: next},
		Value: value,
	}})
	if err != nil {
		if errors.Is(err, table.ErrConditionFailed) {
			return fmt.Errorf("snapshot %d of %s was written concurrently: %w", next, id, err)
		}
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	r.log.Debug("snapshot saved", r.aggAttrs(id), s.logAttrs())

	r.pruneSnapshots(ctx, id)
	return nil
}

// pruneSnapshots keeps the newest Retention snapshots of id. Failures are
// logged only.
func (r *Repository[T]) pruneSnapshots(ctx context.Context, id string) {
	log := r.log.With(r.aggAttrs(id))

	keys, err := r.snapshotKeys(ctx, id)
	if err != nil {
		r.metrics.SnapshotFailed(r.aggType, "prune")
		log.Warn("failed to list snapshots for retention", slog.Any("error", err))
		return
	}
	if len(keys) <= r.cfg.Snapshot.Retention {
		return
	}

	pruned := 0
	for _, k := range keys[r.cfg.Snapshot.Retention:] {
		if err := r.store.Delete(ctx, r.cfg.TableName, k); err != nil {
			r.metrics.SnapshotFailed(r.aggType, "prune")
			log.Warn("failed to delete snapshot", slog.Int64("key", k.SortKey), slog.Any("error", err))
			continue
		}
		pruned++
	}
	r.metrics.SnapshotsPruned(r.aggType, pruned)
	log.Debug("snapshots pruned", slog.Int("pruned", pruned), slog.Int("retention", r.cfg.Snapshot.Retention))
}

// snapshotKeys lists the snapshot keys of id, newest first.
func (r *Repository[T]) snapshotKeys(ctx context.Context, id string) ([]table.Key, error) {
	items, err := table.QueryAll(ctx, r.store, r.cfg.TableName, table.Query{PartitionKey: id, Range: table.Below(0)})
	if err != nil {
		return nil, err
	}
	keys := make([]table.Key, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	return keys, nil
}

// CreateManualSnapshot reads the aggregate and snapshots it at its current
// version, regardless of the snapshot frequency.
func (r *Repository[T]) CreateManualSnapshot(ctx context.Context, id string, opts ...CallOption) error {
	if !r.cfg.Snapshot.Enabled {
		return ErrSnapshotsDisabled
	}
	agg, ok, err := r.Read(ctx, id, opts...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAggregateNotFound, id)
	}
	if err := r.saveSnapshot(ctx, agg, r.key(newCallOpts(opts...)), r.lastEncryptedProps(ctx, id)); err != nil {
		r.metrics.SnapshotFailed(r.aggType, "create")
		return err
	}
	return nil
}

// DeleteSnapshots removes every snapshot of id. Events are untouched.
func (r *Repository[T]) DeleteSnapshots(ctx context.Context, id string) error {
	if id == "" {
		return ErrAggregateIDRequired
	}
	keys, err := r.snapshotKeys(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, k := range keys {
		if err := r.store.Delete(ctx, r.cfg.TableName, k); err != nil {
			return fmt.Errorf("failed to delete snapshot %d: %w", k.SortKey, err)
		}
	}
	r.log.Debug("snapshots deleted", r.aggAttrs(id), slog.Int("count", len(keys)))
	return nil
}

// lastEncryptedProps returns the encrypted fields of the newest event of id.
func (r *Repository[T]) lastEncryptedProps(ctx context.Context, id string) []string {
	page, err := r.store.Query(ctx, r.cfg.TableName, table.Query{
		PartitionKey: id,
		Range:        table.AtLeast(0),
		Descending:   true,
		Limit:        1,
	})
	if err != nil || len(page.Items) == 0 {
		return nil
	}
	var pe PersistedEvent
	if err := decodeInto(page.Items[0].Value, &pe); err != nil {
		return nil
	}
	return pe.EncryptedProps
}
