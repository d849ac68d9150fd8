// Package statestore implements the gateway's profile/position/rate-limit
// persistence: durable profile and position state in Postgres via gorm,
// and rate-limit buckets plus the 24h idempotency cache in Redis.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nightfield/signalgate/internal/schema"
)

// RedisConfig configures the Redis connection backing rate limits and
// idempotency.
type RedisConfig struct {
	Addr                     string
	Password                 string
	DB                       int
	SignalRateLimitPerMinute float64
}

// RedisClient wraps go-redis with the gateway's rate-limit and
// idempotency operations.
type RedisClient struct {
	rdb       *redis.Client
	perMinute float64
}

// NewRedisClient dials Redis and verifies connectivity.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("statestore: connect to redis: %w", err)
	}
	return &RedisClient{rdb: rdb, perMinute: cfg.SignalRateLimitPerMinute}, nil
}

// Close closes the underlying connection.
func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

func idemKey(key string) string {
	return "idem:" + key
}

// SeenRecently implements gate.IdempotencyStore: the chain id is stored
// as the key's value, with TTL enforcing the 24h retention window.
func (c *RedisClient) SeenRecently(ctx context.Context, key string) (schema.ChainID, bool, error) {
	val, err := c.rdb.Get(ctx, idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return schema.ChainID(val), true, nil
}

// MarkSeen records the idempotency key with the configured TTL. SetNX
// guards against a benign race where two Submit calls for the same key
// arrive concurrently: only the first wins the chain allocation.
func (c *RedisClient) MarkSeen(ctx context.Context, key string, chainID schema.ChainID) error {
	return c.rdb.SetNX(ctx, idemKey(key), string(chainID), 24*time.Hour).Err()
}

func rateKey(profileID schema.ProfileID, producerID schema.ProducerID) string {
	return fmt.Sprintf("rate:%s:%s", profileID, producerID)
}

// Allow implements gate.RateLimiter as a Redis-backed fixed-window
// counter: INCR the current minute's bucket and compare against the
// per-minute limit, matching the token-bucket's steady-state behavior
// without needing a Lua script for atomic refill. Shared across gateway
// instances, unlike gate.InMemoryRateLimiter.
func (c *RedisClient) Allow(ctx context.Context, profileID schema.ProfileID, producerID schema.ProducerID) (bool, error) {
	if c.perMinute <= 0 {
		return true, nil
	}
	window := time.Now().UTC().Truncate(time.Minute).Unix()
	key := fmt.Sprintf("%s:%d", rateKey(profileID, producerID), window)

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		c.rdb.Expire(ctx, key, 90*time.Second)
	}
	return float64(count) <= c.perMinute, nil
}
