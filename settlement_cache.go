package t402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SettlementCache deduplicates settle operations. Successful settlement
// responses are cached by payload hash for a TTL, and concurrent requests
// for the same payment coalesce onto a single in-flight settlement.
// Failures are never cached so a retry can attempt settlement again.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache with the given result TTL.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// GenerateSettlementKey derives a cache key from the raw payment payload.
// The payload carries the signature and nonce, so the hash is unique per
// payment attempt.
func GenerateSettlementKey(payloadBytes []byte) string {
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}

// SettlementStatus is the outcome of a cache lookup.
type SettlementStatus int

const (
	// StatusNotFound means no cached result and no in-flight settlement.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a prior settlement result is available.
	StatusCached
	// StatusInFlight means another request is settling the same payment.
	StatusInFlight
)

// CheckAndMark atomically looks up the key and, when absent, marks it as
// in-flight. It returns one of:
//   - StatusCached with the cached result
//   - StatusInFlight with a channel that closes when the owner finishes
//   - StatusNotFound with a done channel the caller must later pass to
//     Complete or Fail
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult blocks until the in-flight settlement completes or the
// context is cancelled. A nil response with nil error means the owner
// failed without caching, and the caller may retry.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.Get(key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached settlement response for key, or nil when absent
// or expired.
func (c *SettlementCache) Get(key string) (*SettleResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil, nil
	}

	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil, nil
	}

	return c.results[key], nil
}

// Complete caches the settlement response, clears the in-flight marker,
// and wakes any waiters.
func (c *SettlementCache) Complete(key string, response *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)

	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail clears the in-flight marker without caching, so waiters retry.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

func (c *SettlementCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
