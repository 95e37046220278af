// Package redis implements a Redis-backed token bucket limiter so multiple
// gateway instances share rate limit state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agenticmail/toolgate/internal/domain/ratelimit"
)

// tokenBucketScript refills and consumes atomically on the Redis side.
// KEYS[1] holds the bucket hash, ARGV: max tokens, refill per second, now
// in milliseconds. Returns {1} when a token was consumed or {0, retry_ms}
// when the bucket is empty. Bucket keys expire once full refill has passed
// so idle keys do not accumulate.
var tokenBucketScript = redis.NewScript(`
local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'refilled_at')
local max = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(bucket[1])
local refilled_at = tonumber(bucket[2])
if tokens == nil then
  tokens = max
  refilled_at = now
end

local elapsed = (now - refilled_at) / 1000.0
if elapsed > 0 then
  tokens = math.min(max, tokens + elapsed * rate)
end

local ttl = math.ceil(max / rate) + 60

if tokens >= 1 then
  redis.call('HSET', KEYS[1], 'tokens', tokens - 1, 'refilled_at', now)
  redis.call('EXPIRE', KEYS[1], ttl)
  return {1, 0}
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'refilled_at', now)
redis.call('EXPIRE', KEYS[1], ttl)
local retry_ms = math.ceil((1 - tokens) / rate * 1000)
return {0, retry_ms}
`)

// Config holds Redis connection configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RateLimiter implements ratelimit.Limiter on a shared Redis instance.
// Redis errors fail open with a warning: an unreachable limiter backend
// must not take down tool execution.
type RateLimiter struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRateLimiter connects to Redis and verifies the connection with a ping.
func NewRateLimiter(cfg Config, logger *slog.Logger) (*RateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "toolgate:ratelimit:"
	}

	return &RateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		timeout:   250 * time.Millisecond,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Acquire runs the token bucket script for the key's bucket.
func (r *RateLimiter) Acquire(key ratelimit.Key, cfg ratelimit.BucketConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.keyPrefix + key.String()},
		cfg.MaxTokens,
		cfg.RefillPerSecond,
		r.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		r.logger.Warn("redis rate limiter unavailable, admitting call",
			"key", key.String(),
			"error", err)
		return nil
	}
	if len(res) != 2 {
		return errors.New("unexpected token bucket script result")
	}

	if res[0] == 1 {
		return nil
	}
	return &ratelimit.ExceededError{
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}
}

// Close releases the Redis connection.
func (r *RateLimiter) Close() error {
	return r.client.Close()
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
