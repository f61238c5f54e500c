//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewRedisIdempotencyStoreWithClient(newRedisClient(t), "test:")

	isNew, err := store.MarkProcessed(ctx, "evt:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "evt:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, isNew)

	seen, err := store.IsProcessed(ctx, "evt:1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.IsProcessed(ctx, "evt:2")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Ping(ctx))
}

func TestRedisIdempotencyStore_TTL(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)
	store := NewRedisIdempotencyStoreWithClient(client, "")

	_, err := store.MarkProcessed(ctx, "evt:ttl", 30*time.Second)
	require.NoError(t, err)

	ttl, err := client.TTL(ctx, DefaultKeyPrefix+"evt:ttl").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 30*time.Second)
}
