package integration

import (
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/esrepo-go/adapters/nats"
	"github.com/codewandler/esrepo-go/adapters/prometheus"
	"github.com/codewandler/esrepo-go/adapters/redis"
	"github.com/codewandler/esrepo-go/core/es"
	"github.com/codewandler/esrepo-go/core/es/estests/domain"
)

// TestIntegration runs the repository against a real Redis server, publishes
// to a NATS JetStream stream and records Prometheus metrics.
func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	client, err := redis.Connect(t.Context(), redis.NewTestContainer(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	pub, err := nats.NewPublisher(nats.PublisherConfig{Connect: nats.NewTestContainer(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	reg := promclient.NewRegistry()
	m := prometheus.NewESMetrics(reg)

	repo, err := es.NewRepository(redis.NewStore(client, redis.WithPageSize(16)), domain.New, es.Config{
		TableName:     "integration",
		EncryptionKey: "integration-secret",
		Snapshot:      es.SnapshotConfig{Enabled: true, Frequency: 10, Retention: 2},
	}, es.WithMetrics(m), es.WithPublisher(pub), es.WithReadCoalescing(true))
	require.NoError(t, err)

	ex := es.NewExecutor(repo)
	defer ex.Close()

	aggID := gonanoid.Must()
	_, err = ex.Execute(t.Context(), aggID, func(a *domain.TestAgg) error {
		return a.Create(aggID, "integration")
	}, es.WithCreate(true))
	require.NoError(t, err)

	const N = 49
	var wg sync.WaitGroup
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ex.Execute(t.Context(), aggID, (*domain.TestAgg).Inc)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, ok, err := repo.Read(t.Context(), aggID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, N, a.Counter)
	require.Equal(t, "integration", a.Name)
	require.EqualValues(t, N+1, a.GetExpectedVersion())

	require.Equal(t, float64(N+1), counterValue(t, reg, "esrepo_events_written_total"))

	require.Eventually(t, func() bool {
		info, err := pub.Stream().Info(t.Context())
		return err == nil && info.State.Msgs == uint64(N+1)
	}, 5*time.Second, 50*time.Millisecond)
}

func counterValue(t *testing.T, reg *promclient.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
