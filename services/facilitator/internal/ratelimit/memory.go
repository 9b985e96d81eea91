package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int64
	reset time.Time
}

// MemoryLimiter implements fixed-window rate limiting in process memory.
// It is used when Redis is unavailable; limits then apply per instance
// rather than across the cluster.
type MemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	requests int
	window   time.Duration
}

// NewMemoryLimiter creates an in-memory rate limiter.
func NewMemoryLimiter(requests int, windowSize time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows:  make(map[string]*window),
		requests: requests,
		window:   windowSize,
	}
}

// Allow checks if a request is allowed for the given key.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	w, ok := l.windows[key]
	if !ok || now.After(w.reset) {
		w = &window{reset: now.Add(l.window)}
		l.windows[key] = w
		l.cleanupLocked(now)
	}
	w.count++

	info := Info{
		Limit:     l.requests,
		Remaining: remaining(l.requests, w.count),
		Reset:     w.reset,
	}

	return int(w.count) <= l.requests, info, nil
}

// cleanupLocked drops expired windows. Must be called with the lock held.
func (l *MemoryLimiter) cleanupLocked(now time.Time) {
	for key, w := range l.windows {
		if now.After(w.reset) {
			delete(l.windows, key)
		}
	}
}
