// Package cache wraps the shared Redis cache used for throttle counters,
// heartbeats, quota usage, and other TTL'd cross-worker state.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a thin prefix-scoped wrapper over a Redis client.
type Cache struct {
	client *redis.Client
	prefix string
}

// New builds a cache with an optional key prefix.
func New(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get returns the raw value for key. The second return is false when the
// key does not exist.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

// GetTime reads a key holding an RFC3339 timestamp.
func (c *Cache) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	val, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cache parse time %s: %w", key, err)
	}
	return t, true, nil
}

// Set writes a value with a TTL. A zero TTL stores the key without expiry.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// SetTime stores an RFC3339 timestamp.
func (c *Cache) SetTime(ctx context.Context, key string, t time.Time, ttl time.Duration) error {
	return c.Set(ctx, key, t.UTC().Format(time.RFC3339Nano), ttl)
}

// Increment bumps a counter and refreshes its TTL, returning the new value.
func (c *Cache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, c.key(key))
	if ttl > 0 {
		pipe.Expire(ctx, c.key(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cache increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

// IncrementBy bumps a counter by delta and refreshes its TTL, returning
// the new value.
func (c *Cache) IncrementBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, c.key(key), delta)
	if ttl > 0 {
		pipe.Expire(ctx, c.key(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cache increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

// GetInt reads a counter, returning zero when the key is absent.
func (c *Cache) GetInt(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache get int %s: %w", key, err)
	}
	return val, true, nil
}

// Remove deletes the given keys.
func (c *Cache) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache remove: %w", err)
	}
	return nil
}
