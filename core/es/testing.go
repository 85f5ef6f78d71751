package es

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/esrepo-go/ports/table"
)

// === Helpers ===

type slogTestWriter struct{ t testing.TB }

func (w slogTestWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// NewTestRepository builds a repository over a fresh in-memory store that
// logs through t. An empty table name defaults to "events".
func NewTestRepository[T Aggregate](
	t testing.TB,
	factory func() T,
	cfg Config,
	opts ...RepositoryOption,
) (*Repository[T], *table.MemStore) {
	t.Helper()
	if cfg.TableName == "" {
		cfg.TableName = "events"
	}
	store := table.NewMemStore()
	log := slog.New(slog.NewTextHandler(slogTestWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	repo, err := NewRepository(store, factory, cfg, append([]RepositoryOption{WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	return repo, store
}
