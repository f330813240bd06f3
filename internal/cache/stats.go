// Package cache keeps computed query results in Redis so repeated API calls
// do not rerun the aggregate queries.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mobility:stats:"

// Keys of the cached results
const (
	KeyOverall = "overall"
	KeyHourly  = "hourly"
)

// StatsCache stores JSON-encoded stats in Redis with a fixed TTL
type StatsCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStatsCache creates a new stats cache
func NewStatsCache(redisClient *redis.Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StatsCache{redis: redisClient, ttl: ttl}
}

// Get decodes the cached value for key into dst. It reports false on a miss.
func (c *StatsCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key until the TTL expires
func (c *StatsCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	if err := c.redis.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	return nil
}

// Invalidate removes every cached result. Called after new trips are
// written or the hourly summary is refreshed.
func (c *StatsCache) Invalidate(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached stats: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cached stats: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (c *StatsCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}
