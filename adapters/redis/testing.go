package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestStore returns a store backed by an in-process miniredis server that
// is shut down with the test.
func NewTestStore(t testing.TB, opts ...Option) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, opts...)
}

// NewTestContainer starts a real Redis server and returns its URL.
func NewTestContainer(t testing.TB) string {
	t.Helper()
	ctx := t.Context()
	c, err := testcontainers.Run(
		ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	ip, err := c.ContainerIP(ctx)
	require.NoError(t, err)
	t.Logf("redis ip: %s", ip)
	return "redis://" + ip + ":6379/0"
}
