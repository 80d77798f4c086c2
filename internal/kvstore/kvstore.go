// Package kvstore adapts the external key-value store to the five
// primitives the rest of the coordinator needs: set-if-absent, get, set,
// expire, and prefix scan. Everything above this package is KV-agnostic.
package kvstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the interface the rest of the coordinator depends on. Client
// satisfies it against a real Redis endpoint; tests substitute a fake.
type KV interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Client is a thin wrapper over go-redis.
type Client struct {
	rdb *redis.Client
}

// New connects to the KV endpoint described by redisURL (e.g.
// "redis://127.0.0.1:6379").
func New(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an already-configured go-redis client, useful for
// tests running against miniredis or similar in-process servers.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// SetIfAbsent is SETNX with a TTL attached atomically.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Get returns (value, found, error). A missing key is not an error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set overwrites key unconditionally, with no TTL.
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

// Expire refreshes key's TTL without touching its value.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// KeysByPrefix enumerates every key beginning with prefix using SCAN
// rather than KEYS, so a large metadata set never blocks the KV for the
// duration of the scan.
func (c *Client) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
