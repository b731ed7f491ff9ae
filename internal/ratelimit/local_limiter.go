package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// LocalLimiter keeps one in-process token bucket per key. Buckets unused
// for IdleTTL are evicted.
type LocalLimiter struct {
	config  *Config
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewLocalLimiter creates an in-process limiter and starts its janitor
func NewLocalLimiter(cfg *Config) *LocalLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &LocalLimiter{
		config:  cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cfg.IdleTTL > 0 {
		go l.janitor(cfg.IdleTTL)
	}
	return l
}

// Allow implements Limiter
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.config.RefillRate()), l.config.Capacity())}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, now.Add(l.config.Window), nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, 0, now.Add(delay), nil
	}

	remaining := int(math.Floor(b.lim.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, now.Add(l.config.Window), nil
}

// Reset implements Limiter
func (l *LocalLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
	return nil
}

// Cleanup evicts buckets idle for longer than ttl and returns how many were
// removed
func (l *LocalLimiter) Cleanup(ttl time.Duration) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.buckets {
		if now.Sub(b.seen) > ttl {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

func (l *LocalLimiter) janitor(ttl time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Cleanup(ttl)
		case <-l.stop:
			return
		}
	}
}

// Close stops the janitor
func (l *LocalLimiter) Close() error {
	l.once.Do(func() { close(l.stop) })
	return nil
}
