// redis.go -- go-redis client setup and the revocation fast path.
//
// Revoked token fingerprints are mirrored into Redis with a TTL matching the
// token's own expiry. Only positives are cached: a Redis miss always falls
// through to Postgres, so a failed Redis write can never make a revoked token valid.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings.
// The returned client is shared by every Redis-backed struct (one connection pool).
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisRevocationCache mirrors revocation records into Redis.
type RedisRevocationCache struct {
	rdb *redis.Client
}

// NewRedisRevocationCache wraps a shared Redis client.
func NewRedisRevocationCache(rdb *redis.Client) *RedisRevocationCache {
	return &RedisRevocationCache{rdb: rdb}
}

func revokedKey(tokenHash string) string {
	return fmt.Sprintf("revoked:%s", tokenHash)
}

// MarkRevoked stores tokenHash for ttl. A non-positive ttl is a no-op:
// Redis SET with TTL=0 means no expiry, and the token is already dead anyway.
func (c *RedisRevocationCache) MarkRevoked(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.rdb.Set(ctx, revokedKey(tokenHash), 1, ttl).Err(); err != nil {
		return fmt.Errorf("caching revocation: %w", err)
	}
	return nil
}

// IsRevoked returns nil if tokenHash is cached as revoked, ErrCacheMiss if it is
// not in Redis, or the Redis error.
func (c *RedisRevocationCache) IsRevoked(ctx context.Context, tokenHash string) error {
	err := c.rdb.Get(ctx, revokedKey(tokenHash)).Err()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("fetching revocation: %w", err)
	}
	return nil
}

// CheckHealth pings Redis.
func (c *RedisRevocationCache) CheckHealth(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
