// Package ratelimit counts attempts per key in fixed windows. Login uses it
// to slow down password guessing.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more attempt for key is allowed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter shares counters between every API instance through Redis.
// When Redis cannot be reached the attempt is allowed and the error returned
// so logins keep working during an outage.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewRedisLimiter allows limit attempts per key in each window
func NewRedisLimiter(client *redis.Client, prefix string, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, l.prefix+key)
	// NX keeps the window anchored at the first attempt
	pipe.ExpireNX(ctx, l.prefix+key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit check failed: %w", err)
	}
	return incr.Val() <= l.limit, nil
}

// MemoryLimiter keeps counters in process. Used when Redis is disabled.
type MemoryLimiter struct {
	limit  int64
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*counter
}

type counter struct {
	count   int64
	resetAt time.Time
}

// NewMemoryLimiter allows limit attempts per key in each window
func NewMemoryLimiter(limit int64, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*counter),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.windows[key]
	if !ok || !now.Before(c.resetAt) {
		l.sweep(now)
		c = &counter{resetAt: now.Add(l.window)}
		l.windows[key] = c
	}
	c.count++
	return c.count <= l.limit, nil
}

// sweep drops finished windows so idle keys do not accumulate
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, c := range l.windows {
		if !now.Before(c.resetAt) {
			delete(l.windows, k)
		}
	}
}
