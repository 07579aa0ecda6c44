// Package cache wraps the shared Redis connection used by the search
// cache (spec.md §4.4) and is reused by internal/reservation and
// internal/eventbus for their own key spaces on the same connection pool,
// adapted from the teacher's internal/database/redis.go.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Client wraps *redis.Client with JSON convenience helpers. It returns the
// raw go-redis errors; it does not map them to apperr kinds, and callers
// decide how to degrade.
type Client struct {
	*redis.Client
	log zerolog.Logger
}

// Options configures the underlying pool. Defaults mirror the teacher's
// PoolSize/MinIdleConns choices.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// New creates a Client and verifies connectivity with a bounded Ping,
// exactly as the teacher's NewRedisClient does.
func New(ctx context.Context, opts Options, log zerolog.Logger) (*Client, error) {
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = 5
	}

	rc := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("cache: failed to ping redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return &Client{Client: rc, log: log}, nil
}

// SetJSON marshals value and sets it with the given expiration.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl).Err()
}

// GetJSON decodes the value stored at key into dest. Returns redis.Nil
// (unwrapped via errors.Is by callers) on a cache miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// DeletePrefix scans and deletes every key matching pattern. Used by the
// optional prefix-invalidation path spec.md §4.4 permits but does not
// require.
func (c *Client) DeletePrefix(ctx context.Context, pattern string) error {
	iter := c.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.Del(ctx, keys...).Err()
}

// SearchCacheKey builds the journeys:{src}:{dst}:{date} cache key from
// spec.md §6.
func SearchCacheKey(src, dst, date string) string {
	return fmt.Sprintf("journeys:%s:%s:%s", src, dst, date)
}

// SearchCachePrefix builds the journeys:{src}:{dst}:* pattern for the
// optional prefix invalidation in spec.md §4.4.
func SearchCachePrefix(src, dst string) string {
	return fmt.Sprintf("journeys:%s:%s:*", src, dst)
}
