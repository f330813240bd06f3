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

// setupRedis starts a Redis container. Skipped when no container provider
// is available.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

type overall struct {
	TotalTrips int64    `json:"total_trips"`
	AvgSpeed   *float64 `json:"avg_speed"`
}

func TestStatsCache_GetSet(t *testing.T) {
	client := setupRedis(t)
	c := NewStatsCache(client, time.Minute)
	ctx := context.Background()

	var got overall
	hit, err := c.Get(ctx, KeyOverall, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	speed := 14.21
	require.NoError(t, c.Set(ctx, KeyOverall, overall{TotalTrips: 42, AvgSpeed: &speed}))

	hit, err = c.Get(ctx, KeyOverall, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(42), got.TotalTrips)
	require.NotNil(t, got.AvgSpeed)
	assert.Equal(t, 14.21, *got.AvgSpeed)

	ttl, err := client.TTL(ctx, keyPrefix+KeyOverall).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestStatsCache_Invalidate(t *testing.T) {
	client := setupRedis(t)
	c := NewStatsCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, KeyOverall, overall{TotalTrips: 1}))
	require.NoError(t, c.Set(ctx, KeyHourly, []int{1, 2, 3}))
	require.NoError(t, client.Set(ctx, "unrelated", "keep", 0).Err())

	require.NoError(t, c.Invalidate(ctx))

	var got overall
	hit, err := c.Get(ctx, KeyOverall, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	val, err := client.Get(ctx, "unrelated").Result()
	require.NoError(t, err)
	assert.Equal(t, "keep", val)

	// nothing left to delete
	require.NoError(t, c.Invalidate(ctx))
}

func TestNewStatsCache_DefaultTTL(t *testing.T) {
	c := NewStatsCache(nil, 0)
	assert.Equal(t, 5*time.Minute, c.ttl)
}
