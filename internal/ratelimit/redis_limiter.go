package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis the limiter needs
type RedisClient interface {
	redis.Scripter
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Token bucket Lua script for atomic operations
// KEYS[1] = rate limit key
// ARGV[1] = current time (float seconds)
// ARGV[2] = refill rate (tokens per second)
// ARGV[3] = capacity (max tokens)
// ARGV[4] = cost (tokens to consume, default 1)
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local capacity = tonumber(ARGV[3])
	local cost = tonumber(ARGV[4]) or 1

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

	if tokens == nil then
		tokens = capacity
		last_refill = now
	end

	local elapsed = math.max(now - last_refill, 0)
	tokens = math.min(tokens + elapsed * rate, capacity)

	local allowed = tokens >= cost
	if allowed then
		tokens = tokens - cost
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
	redis.call('EXPIRE', key, math.ceil(capacity / rate * 2))

	local retry_after = 0
	if not allowed then
		retry_after = (cost - tokens) / rate
	end

	return {allowed and 1 or 0, math.floor(tokens), math.ceil(retry_after)}
`)

// RedisLimiter implements rate limiting using Redis with a token bucket
// algorithm, sharing buckets across server instances
type RedisLimiter struct {
	client RedisClient
	config *Config
	now    func() time.Time
}

// NewRedisLimiter creates a new Redis-backed rate limiter
func NewRedisLimiter(client RedisClient, config *Config) *RedisLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &RedisLimiter{
		client: client,
		config: config,
		now:    time.Now,
	}
}

func (rl *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.config.KeyPrefix, key)
}

// Allow implements Limiter
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	now := rl.now()

	result, err := tokenBucketScript.Run(
		ctx,
		rl.client,
		[]string{rl.key(key)},
		float64(now.UnixNano())/1e9,
		rl.config.RefillRate(),
		rl.config.Capacity(),
		1,
	).Result()
	if err != nil {
		if rl.config.FailOpen {
			return true, 0, now.Add(rl.config.Window), nil
		}
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	// {allowed, remaining, retry_after_seconds}
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("invalid script result")
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryAfter, _ := values[2].(int64)

	resetTime := now.Add(time.Duration(retryAfter) * time.Second)
	if retryAfter == 0 {
		resetTime = now.Add(rl.config.Window)
	}
	return allowed == 1, int(remaining), resetTime, nil
}

// Reset implements Limiter
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.key(key)).Err()
}

// Close is a no-op; the client is owned by the caller
func (rl *RedisLimiter) Close() error {
	return nil
}
