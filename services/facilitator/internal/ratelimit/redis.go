package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/t402-io/t402/services/facilitator/internal/cache"
)

// RedisLimiter implements fixed-window rate limiting with a Redis counter
// per key. The first increment in a window sets the expiry; subsequent
// requests inherit the remaining TTL.
type RedisLimiter struct {
	cache    *cache.Client
	requests int
	window   time.Duration
	prefix   string
}

// NewRedisLimiter creates a Redis-backed rate limiter.
func NewRedisLimiter(cache *cache.Client, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		cache:    cache,
		requests: requests,
		window:   window,
		prefix:   "ratelimit:",
	}
}

// Allow checks if a request is allowed for the given key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	redisKey := l.prefix + key

	count, err := l.cache.Incr(ctx, redisKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.cache.Expire(ctx, redisKey, l.window); err != nil {
			return false, Info{}, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	ttl, err := l.cache.TTL(ctx, redisKey)
	if err != nil || ttl < 0 {
		ttl = l.window
	}

	info := Info{
		Limit:     l.requests,
		Remaining: remaining(l.requests, count),
		Reset:     time.Now().Add(ttl),
	}

	return int(count) <= l.requests, info, nil
}
