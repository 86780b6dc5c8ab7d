package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// RedisClient is the subset of a Redis client the adapter needs. It is
// satisfied by a thin wrapper around github.com/redis/go-redis/v9.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd
	Get(ctx context.Context, key string) RedisStringCmd
	Del(ctx context.Context, keys ...string) RedisIntCmd
}

// RedisStatusCmd represents a Redis status command result.
type RedisStatusCmd interface {
	Err() error
}

// RedisStringCmd represents a Redis string command result.
type RedisStringCmd interface {
	Bytes() ([]byte, error)
	Err() error
}

// RedisIntCmd represents a Redis int command result.
type RedisIntCmd interface {
	Err() error
}

// ErrRedisNil is returned by clients when a key doesn't exist.
// This should match redis.Nil from go-redis.
var ErrRedisNil = errors.New("redis: nil")

// RedisAdapter stores cache entries in Redis.
type RedisAdapter struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	closed atomic.Bool
}

// RedisOption configures RedisAdapter.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
}

// WithRedisPrefix sets a prefix prepended to every key.
// Default: "".
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithRedisTTL sets an expiration on written entries. Zero means none.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) {
		c.ttl = ttl
	}
}

// NewRedisAdapter creates an adapter over client.
func NewRedisAdapter(client RedisClient, opts ...RedisOption) *RedisAdapter {
	cfg := &redisConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &RedisAdapter{
		client: client,
		prefix: cfg.prefix,
		ttl:    cfg.ttl,
	}
}

func (r *RedisAdapter) key(k string) string {
	return r.prefix + k
}

func (r *RedisAdapter) Read(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrAdapterClosed
	}
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, ErrRedisNil) || err.Error() == ErrRedisNil.Error() {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (r *RedisAdapter) Write(ctx context.Context, key string, data []byte) error {
	if r.closed.Load() {
		return ErrAdapterClosed
	}
	return r.client.Set(ctx, r.key(key), data, r.ttl).Err()
}

func (r *RedisAdapter) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return ErrAdapterClosed
	}
	return r.client.Del(ctx, r.key(key)).Err()
}

// Close marks the adapter closed. The client is shared and left open.
func (r *RedisAdapter) Close() error {
	r.closed.Store(true)
	return nil
}
