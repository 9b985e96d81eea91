// Package ratelimit provides fixed-window rate limiting keyed by client,
// backed by Redis in clustered deployments or process memory otherwise.
package ratelimit

import (
	"context"
	"time"
)

// Info contains rate limit state for a request.
type Info struct {
	Limit     int       // Maximum requests allowed per window
	Remaining int       // Remaining requests in the current window
	Reset     time.Time // When the window resets
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, Info, error)
}

func remaining(limit int, count int64) int {
	r := limit - int(count)
	if r < 0 {
		return 0
	}
	return r
}
