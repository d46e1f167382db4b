package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "billsync:contact:"

// RedisContactCache is a Redis-backed ContactCache shared across replicas.
// Redis failures degrade to cache misses so the sync never stalls on the
// cache tier.
type RedisContactCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ ContactCache = (*RedisContactCache)(nil)

// NewRedisContactCache connects to Redis and verifies the connection.
func NewRedisContactCache(opts Options, logger *zap.Logger) (*RedisContactCache, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisContactCache{client: client, ttl: ttl, logger: logger}, nil
}

// Get returns the cached contact id for a tax code.
func (c *RedisContactCache) Get(ctx context.Context, code string) (string, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+code).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Redis get failed, treating as miss",
				zap.String("code", code), zap.Error(err))
		}
		return "", false
	}
	return val, true
}

// Put records the contact id for a tax code.
func (c *RedisContactCache) Put(ctx context.Context, code, contactID string) {
	if err := c.client.Set(ctx, redisKeyPrefix+code, contactID, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis set failed, entry not cached",
			zap.String("code", code), zap.Error(err))
	}
}

// Close closes the Redis connection.
func (c *RedisContactCache) Close() error {
	return c.client.Close()
}
