package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/internal/config"
)

// DefaultKeyPrefix scopes export keys when the config names no prefix
const DefaultKeyPrefix = "purpleqr/export"

// RedisCache implements Cache using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(cfg *config.RedisConfig) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	c := NewRedisCacheFromClient(rdb, cfg.TTL)
	if cfg.KeyPrefix != "" {
		c = c.WithPrefix(cfg.KeyPrefix)
	}
	return c
}

// NewRedisCacheFromClient creates a new Redis cache instance from an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
	}
}

// Connect creates the cache and waits for Redis to answer a ping, retrying
// with exponential backoff until maxWait elapses.
func Connect(ctx context.Context, cfg *config.RedisConfig, maxWait time.Duration, logger *zap.Logger) (*RedisCache, error) {
	c := NewRedisCache(cfg)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return c.Ping(ctx)
		},
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			logger.Warn("Redis not ready, retrying",
				zap.String("addr", cfg.Addr),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err))
		},
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to Redis export cache", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return c, nil
}

// WithPrefix returns a cache sharing the client but scoped under prefix
func (r *RedisCache) WithPrefix(prefix string) *RedisCache {
	return &RedisCache{
		client: r.client,
		prefix: prefix,
		ttl:    r.ttl,
	}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping tests the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// buildKey scopes key under the cache prefix
func (r *RedisCache) buildKey(key string) string {
	cleanKey := strings.ReplaceAll(key, "/", "_")
	return fmt.Sprintf("%s/%s", r.prefix, cleanKey)
}

// Get retrieves a value from the Redis cache
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cacheKey := r.buildKey(key)

	result, err := r.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get key %s from Redis: %w", cacheKey, err)
	}

	return result, true, nil
}

// Set stores a value in the Redis cache with the cache TTL
func (r *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	cacheKey := r.buildKey(key)

	if err := r.client.Set(ctx, cacheKey, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s in Redis: %w", cacheKey, err)
	}

	return nil
}

func (r *RedisCache) scan(ctx context.Context, fn func(key string)) error {
	pattern := r.prefix + "/*"

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		fn(iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan for keys with pattern %s: %w", pattern, err)
	}
	return nil
}

// Flush removes all entries under the cache prefix
func (r *RedisCache) Flush(ctx context.Context) error {
	var keys []string
	if err := r.scan(ctx, func(key string) { keys = append(keys, key) }); err != nil {
		return err
	}

	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}

	return nil
}

// Stats counts the entries under the cache prefix
func (r *RedisCache) Stats(ctx context.Context) (int64, error) {
	var count int64
	if err := r.scan(ctx, func(string) { count++ }); err != nil {
		return 0, err
	}
	return count, nil
}
