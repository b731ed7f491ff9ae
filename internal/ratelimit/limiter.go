// Package ratelimit throttles requests per key with token buckets
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting operations
type Limiter interface {
	// Allow checks if a request is allowed for the given key
	// Returns:
	//   - allowed: true if request is allowed
	//   - remaining: number of requests remaining in the bucket
	//   - resetTime: when the next request will be allowed
	Allow(ctx context.Context, key string) (allowed bool, remaining int, resetTime time.Time, err error)

	// Reset clears the rate limit for a key
	Reset(ctx context.Context, key string) error

	// Close releases resources
	Close() error
}

// New creates the limiter selected by cfg. client is only used by the
// redis backend.
func New(cfg *Config, client RedisClient) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == "redis" {
		return NewRedisLimiter(client, cfg), nil
	}
	return NewLocalLimiter(cfg), nil
}
