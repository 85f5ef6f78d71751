package estests

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esrepo-go/core/crypt"
	"github.com/codewandler/esrepo-go/core/es"
	"github.com/codewandler/esrepo-go/core/es/estests/domain"
	"github.com/codewandler/esrepo-go/ports/table"
)

func TestRepository_notFound(t *testing.T) {
	repo, _ := es.NewTestRepository(t, domain.New, es.Config{})
	a, ok, err := repo.Read(t.Context(), "foobar")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, a)

	_, _, err = repo.Read(t.Context(), "")
	require.ErrorIs(t, err, es.ErrAggregateIDRequired)
}

func TestRepository(t *testing.T) {
	repo, store := es.NewTestRepository(t, domain.New, es.Config{})
	aggID := gonanoid.Must()

	a := domain.New()
	require.NoError(t, a.Create(aggID, "Test Aggregate"))
	require.NoError(t, a.IncBy(7))
	require.NoError(t, a.AddEntity("e1", "first"))
	require.NoError(t, a.Entities["e1"].ChangeName("renamed"))
	require.Equal(t, 4, a.ChangeCount())

	require.NoError(t, repo.Write(t.Context(), a))
	require.False(t, a.HasChanges())
	require.EqualValues(t, 4, a.GetExpectedVersion())

	stored := rows(t, store, aggID, table.All())
	require.Len(t, stored, 4)
	for i, row := range stored {
		require.EqualValues(t, i, row["aggregateVersion"])
		require.Equal(t, aggID, row["aggregateId"])
	}
	require.Equal(t, "TestAggCreated", stored[0]["eventType"])
	require.Equal(t, map[string]any{"id": aggID, "name": "Test Aggregate"}, stored[0]["data"])
	require.Equal(t, "TestEntityNameChanged", stored[3]["eventType"])

	t.Run("read", func(t *testing.T) {
		loaded, ok, err := repo.Read(t.Context(), aggID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, aggID, loaded.ID)
		require.Equal(t, "Test Aggregate", loaded.Name)
		require.Equal(t, 7, loaded.Counter)
		require.Equal(t, "renamed", loaded.Entities["e1"].Name)
		require.True(t, a.CreatedAt.Equal(loaded.CreatedAt))
		require.EqualValues(t, 4, loaded.GetExpectedVersion())
		require.False(t, loaded.HasChanges())
	})

	t.Run("write after read continues the version", func(t *testing.T) {
		loaded, _, err := repo.Read(t.Context(), aggID)
		require.NoError(t, err)
		require.NoError(t, loaded.Inc())
		require.NoError(t, repo.Write(t.Context(), loaded))
		require.EqualValues(t, 5, loaded.GetExpectedVersion())

		v, err := repo.Version(t.Context(), aggID)
		require.NoError(t, err)
		require.EqualValues(t, 5, v)
	})

	t.Run("write without changes is a no-op", func(t *testing.T) {
		loaded, _, err := repo.Read(t.Context(), aggID)
		require.NoError(t, err)
		require.NoError(t, repo.Write(t.Context(), loaded))
		require.Len(t, rows(t, store, aggID, table.All()), 5)
	})

	t.Run("version of unknown aggregate", func(t *testing.T) {
		v, err := repo.Version(t.Context(), "unknown")
		require.NoError(t, err)
		require.Zero(t, v)
	})
}

func TestRepository_concurrencyConflict(t *testing.T) {
	m := newCountingMetrics()
	repo, store := es.NewTestRepository(t, domain.New, es.Config{}, es.WithMetrics(m))
	aggID := gonanoid.Must()

	a := domain.New()
	require.NoError(t, a.Create(aggID, "x"))
	require.NoError(t, repo.Write(t.Context(), a))

	first, _, err := repo.Read(t.Context(), aggID)
	require.NoError(t, err)
	second, _, err := repo.Read(t.Context(), aggID)
	require.NoError(t, err)

	require.NoError(t, first.IncBy(1))
	require.NoError(t, second.IncBy(2))
	require.NoError(t, second.IncBy(3))

	require.NoError(t, repo.Write(t.Context(), first))

	err = repo.Write(t.Context(), second)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.Equal(t, 1, m.get("conflicts"))

	// the losing batch left nothing behind and stays buffered
	require.Len(t, rows(t, store, aggID, table.All()), 2)
	require.Equal(t, 2, second.ChangeCount())
	require.EqualValues(t, 1, second.GetExpectedVersion())

	fresh, _, err := repo.Read(t.Context(), aggID)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.Counter)
}

func TestRepository_racingWriters(t *testing.T) {
	repo, _ := es.NewTestRepository(t, domain.New, es.Config{}, es.WithReadCoalescing(true))
	aggID := gonanoid.Must()

	a := domain.New()
	require.NoError(t, a.Create(aggID, "x"))
	require.NoError(t, repo.Write(t.Context(), a))

	const writers = 10
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			// retry is the caller's job
			for {
				agg, ok, err := repo.Read(t.Context(), aggID)
				if !assert.NoError(t, err) || !assert.True(t, ok) {
					return
				}
				if !assert.NoError(t, agg.Inc()) {
					return
				}
				err = repo.Write(t.Context(), agg)
				if errors.Is(err, es.ErrConcurrencyConflict) {
					continue
				}
				assert.NoError(t, err)
				return
			}
		}()
	}
	wg.Wait()

	final, _, err := repo.Read(t.Context(), aggID)
	require.NoError(t, err)
	require.Equal(t, writers, final.Counter)
	require.EqualValues(t, writers+1, final.GetExpectedVersion())
}

func TestRepository_pagination(t *testing.T) {
	store := table.NewMemStore(table.WithPageSize(7))
	m := newCountingMetrics()
	repo, err := es.NewRepository(store, domain.New, es.Config{TableName: "events"}, es.WithMetrics(m))
	require.NoError(t, err)
	aggID := gonanoid.Must()

	a := domain.New()
	require.NoError(t, a.Create(aggID, "paged"))
	for i := 1; i < 250; i++ {
		require.NoError(t, a.Inc())
		if a.ChangeCount() == es.MaxUncommittedEvents {
			require.NoError(t, repo.Write(t.Context(), a))
		}
	}
	require.NoError(t, repo.Write(t.Context(), a))

	loaded, ok, err := repo.Read(t.Context(), aggID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 249, loaded.Counter)
	require.EqualValues(t, 250, loaded.GetExpectedVersion())
	require.GreaterOrEqual(t, m.get("pages"), 250/7)
}

func TestRepository_encryption(t *testing.T) {
	repo, store := es.NewTestRepository(t, domain.New, es.Config{EncryptionKey: encryptionKey})
	aggID := gonanoid.Must()

	a := domain.New()
	require.NoError(t, a.Create(aggID, "Test Aggregate"))
	require.NoError(t, a.ChangeName("Changed Name"))
	require.NoError(t, repo.Write(t.Context(), a))

	stored := rows(t, store, aggID, table.All())
	require.Equal(t, []any{"name"}, stored[0]["encryptedProps"])
	data := stored[0]["data"].(map[string]any)
	require.Equal(t, aggID, data["id"])
	require.NotEqual(t, "Test Aggregate", data["name"])

	pt, err := crypt.NewAESCBC().Decrypt(data["name"].(string), encryptionKey)
	require.NoError(t, err)
	require.Equal(t, `"Test Aggregate"`, pt)

	loaded, _, err := repo.Read(t.Context(), aggID)
	require.NoError(t, err)
	require.Equal(t, "Changed Name", loaded.Name)

	t.Run("read without key keeps ciphertext", func(t *testing.T) {
		noKey, err := es.NewRepository(store, domain.New, es.Config{TableName: "events"})
		require.NoError(t, err)
		loaded, _, err := noKey.Read(t.Context(), aggID)
		require.NoError(t, err)
		require.NotEqual(t, "Changed Name", loaded.Name)
		require.Equal(t, stored[1]["data"].(map[string]any)["name"], loaded.Name)
	})

	t.Run("per call key overrides the default", func(t *testing.T) {
		b := domain.New()
		id := gonanoid.Must()
		require.NoError(t, b.Create(id, "secret name"))
		require.NoError(t, repo.Write(t.Context(), b, es.WithEncryptionKey("other key")))

		loaded, _, err := repo.Read(t.Context(), id, es.WithEncryptionKey("other key"))
		require.NoError(t, err)
		require.Equal(t, "secret name", loaded.Name)

		data := rows(t, store, id, table.All())[0]["data"].(map[string]any)
		pt, err := crypt.NewAESCBC().Decrypt(data["name"].(string), "other key")
		require.NoError(t, err)
		require.Equal(t, `"secret name"`, pt)
	})

	t.Run("no key stores plaintext", func(t *testing.T) {
		b := domain.New()
		id := gonanoid.Must()
		require.NoError(t, b.Create(id, "open name"))
		require.NoError(t, repo.Write(t.Context(), b, es.WithEncryptionKey("")))

		row := rows(t, store, id, table.All())[0]
		require.NotContains(t, row, "encryptedProps")
		require.Equal(t, "open name", row["data"].(map[string]any)["name"])

		loaded, _, err := repo.Read(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, "open name", loaded.Name)
	})
}

func TestRepository_legacyConstructor(t *testing.T) {
	store := table.NewMemStore()
	repo, err := es.NewRepositoryForTable("legacy", domain.New, store, es.WithDebug(true), es.WithEncryptionKey(encryptionKey))
	require.NoError(t, err)

	a := domain.New()
	require.NoError(t, a.Create("legacy-1", "Legacy"))
	require.NoError(t, repo.Write(t.Context(), a))

	items, err := table.QueryAll(t.Context(), store, "legacy", table.Query{PartitionKey: "legacy-1", Range: table.All()})
	require.NoError(t, err)
	require.Len(t, items, 1)

	loaded, ok, err := repo.Read(t.Context(), "legacy-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Legacy", loaded.Name)

	require.ErrorIs(t, repo.CreateManualSnapshot(t.Context(), "legacy-1"), es.ErrSnapshotsDisabled)

	_, err = es.NewRepositoryForTable("", domain.New, store)
	require.ErrorIs(t, err, es.ErrTableNameRequired)
}

func TestRepository_corruptHistory(t *testing.T) {
	repo, store := es.NewTestRepository(t, domain.New, es.Config{})

	put := func(pk string, v int64, doc string) {
		require.NoError(t, store.TransactPut(t.Context(), "events", []table.Item{{
			Key:   table.Key{PartitionKey: pk, SortKey: v},
			Value: []byte(doc),
		}}))
	}

	t.Run("missing handler", func(t *testing.T) {
		put("m", 0, `{"aggregateId":"m","aggregateVersion":0,"eventType":"Unknown","timestamp":"2024-01-01T00:00:00Z","data":{}}`)
		_, _, err := repo.Read(t.Context(), "m")
		require.ErrorIs(t, err, es.ErrMissingEventHandler)
		var mh *es.MissingHandlerError
		require.ErrorAs(t, err, &mh)
		require.Equal(t, "Unknown", mh.EventType)
	})

	t.Run("gap", func(t *testing.T) {
		put("g", 0, `{"aggregateId":"g","aggregateVersion":0,"eventType":"TestAggCreated","timestamp":"2024-01-01T00:00:00Z","data":{"id":"g","name":"x"}}`)
		put("g", 1, `{"aggregateId":"g","aggregateVersion":2,"eventType":"TestAggIncremented","timestamp":"2024-01-01T00:00:00Z","data":{"inc":1}}`)
		_, _, err := repo.Read(t.Context(), "g")
		require.ErrorIs(t, err, es.ErrCorruptHistory)
	})
}

func TestRepository_legacyEncryptedRows(t *testing.T) {
	repo, store := es.NewTestRepository(t, domain.New, es.Config{EncryptionKey: encryptionKey})
	c := crypt.NewAESCBC()

	for _, name := range []string{"Alice", "123", "true", "null"} {
		t.Run(name, func(t *testing.T) {
			id := gonanoid.Must()
			ct, err := c.Encrypt(name, encryptionKey)
			require.NoError(t, err)

			// rows of older writers: raw string plaintext, no field encoding
			doc, err := json.Marshal(map[string]any{
				"aggregateId":      id,
				"aggregateVersion": 0,
				"eventType":        "TestAggCreated",
				"timestamp":        "2024-01-01T00:00:00Z",
				"encryptedProps":   []string{"name"},
				"data":             map[string]any{"id": id, "name": ct},
			})
			require.NoError(t, err)
			require.NoError(t, store.TransactPut(t.Context(), "events", []table.Item{{
				Key:   table.Key{PartitionKey: id, SortKey: 0},
				Value: doc,
			}}))

			loaded, ok, err := repo.Read(t.Context(), id)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, name, loaded.Name)
		})
	}

	t.Run("new rows are marked", func(t *testing.T) {
		id := gonanoid.Must()
		a := domain.New()
		require.NoError(t, a.Create(id, "123"))
		require.NoError(t, repo.Write(t.Context(), a))

		row := rows(t, store, id, table.All())[0]
		require.Equal(t, es.FieldEncodingJSON, row["fieldEncoding"])

		loaded, _, err := repo.Read(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, "123", loaded.Name)
	})
}

func TestRepository_publisher(t *testing.T) {
	pub := &recordingPublisher{}
	repo, _ := es.NewTestRepository(t, domain.New, es.Config{EncryptionKey: encryptionKey}, es.WithPublisher(pub))
	aggID := gonanoid.Must()

	a := domain.New()
	require.NoError(t, a.Create(aggID, "published"))
	require.NoError(t, a.Inc())
	require.NoError(t, repo.Write(t.Context(), a))

	require.Len(t, pub.events, 2)
	require.EqualValues(t, 0, pub.events[0].AggregateVersion)
	require.EqualValues(t, 1, pub.events[1].AggregateVersion)
	require.Equal(t, "TestAggIncremented", pub.events[1].EventType)
	// published in stored form
	require.NotEqual(t, "published", pub.events[0].Data["name"])

	pub.err = errors.New("broker down")
	require.NoError(t, a.Inc())
	require.NoError(t, repo.Write(t.Context(), a))
	require.EqualValues(t, 3, a.GetExpectedVersion())
}

func TestRepository_readCoalescing(t *testing.T) {
	repo, _ := es.NewTestRepository(t, domain.New, es.Config{}, es.WithReadCoalescing(true))
	aggID := gonanoid.Must()

	a := domain.New()
	require.NoError(t, a.Create(aggID, "shared"))
	require.NoError(t, a.IncBy(5))
	require.NoError(t, repo.Write(t.Context(), a))

	const readers = 16
	var (
		wg     sync.WaitGroup
		loaded = make([]*domain.TestAgg, readers)
	)
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			agg, ok, err := repo.Read(t.Context(), aggID)
			assert.NoError(t, err)
			assert.True(t, ok)
			loaded[i] = agg
		}()
	}
	wg.Wait()

	for i := 1; i < readers; i++ {
		require.NotSame(t, loaded[0], loaded[i])
		require.Equal(t, 5, loaded[i].Counter)
	}
}

func TestRepository_metrics(t *testing.T) {
	m := newCountingMetrics()
	repo, _ := es.NewTestRepository(t, domain.New, es.Config{}, es.WithMetrics(m))

	a := domain.New()
	require.NoError(t, a.Create("m-1", "x"))
	require.NoError(t, a.Inc())
	require.NoError(t, repo.Write(t.Context(), a))
	_, _, err := repo.Read(t.Context(), "m-1")
	require.NoError(t, err)

	require.Equal(t, 1, m.get("write"))
	require.Equal(t, 1, m.get("read"))
	require.Equal(t, 2, m.get("events_written"))
	require.Equal(t, 1, m.get("pages"))
}
