// Package cache holds the hub's shared Redis connection and a TTL'd JSON
// cache over it. The connection is shared with outcome deduplication; the
// JSON cache fronts remote entity registry lookups so evaluation passes do
// not hammer the registry.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "deployhub:cache:"

// Cache is a Redis-backed JSON cache.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(redisURL string, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Cache{
		client: client,
		logger: logger,
	}, nil
}

// Client exposes the underlying Redis client so other subsystems (outcome
// dedup) can share one connection.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetJSON unmarshals a cached value into v. The second return is false on a
// miss or after expiry.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores a value with the given TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
