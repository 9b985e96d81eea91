package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	t402 "github.com/t402-io/t402"
)

// RedisStore provides a Redis-backed implementation of SettlementStore for
// distributed deployments where multiple facilitator instances share the
// deduplication window.
//
// Cached results are stored as JSON under the settlement key; in-flight
// requests hold a separate NX marker key. Waiters poll for the result since
// the in-flight holder may live in another process.
//
// When Redis is unreachable the store degrades to StatusNotFound, trading
// deduplication for availability.
type RedisStore struct {
	client       redis.UniversalClient
	ttl          time.Duration
	inFlightTTL  time.Duration
	pollInterval time.Duration
	keyPrefix    string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithInFlightTTL sets how long the in-flight marker survives if its owner
// crashes before calling Complete or Fail. Default: 2 minutes.
func WithInFlightTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.inFlightTTL = ttl
	}
}

// WithPollInterval sets the polling interval used by WaitForResult.
// Default: 500ms.
func WithPollInterval(interval time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.pollInterval = interval
	}
}

// WithKeyPrefix sets the Redis key prefix. Default: "t402:settle:".
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// NewRedisStore creates a Redis-backed settlement store with the specified
// result TTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:       client,
		ttl:          ttl,
		inFlightTTL:  2 * time.Minute,
		pollInterval: 500 * time.Millisecond,
		keyPrefix:    "t402:settle:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) resultKey(key string) string {
	return s.keyPrefix + key
}

func (s *RedisStore) inFlightKey(key string) string {
	return s.keyPrefix + key + ":inflight"
}

// CheckAndMark checks Redis for a cached result and claims the in-flight
// marker with SET NX if none exists.
func (s *RedisStore) CheckAndMark(key string) (SettlementStatus, *t402.SettleResponse, chan struct{}) {
	ctx := context.Background()

	if result := s.getResult(ctx, key); result != nil {
		return StatusCached, result, nil
	}

	claimed, err := s.client.SetNX(ctx, s.inFlightKey(key), "1", s.inFlightTTL).Result()
	if err != nil {
		// Redis unavailable: proceed without deduplication
		return StatusNotFound, nil, make(chan struct{})
	}

	if claimed {
		return StatusNotFound, nil, make(chan struct{})
	}

	return StatusInFlight, nil, nil
}

// WaitForResult polls Redis until the in-flight settlement completes, the
// marker expires, or the context is cancelled. The done channel is unused
// since the in-flight holder may be a different process.
func (s *RedisStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*t402.SettleResponse, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if result := s.getResult(ctx, key); result != nil {
			return result, nil
		}

		// Marker gone without a result means the holder failed; retry
		exists, err := s.client.Exists(ctx, s.inFlightKey(key)).Result()
		if err == nil && exists == 0 {
			return nil, nil
		}
	}
}

// Complete caches the settlement response and releases the in-flight marker.
func (s *RedisStore) Complete(key string, response *t402.SettleResponse, done chan struct{}) {
	ctx := context.Background()

	if data, err := json.Marshal(response); err == nil {
		s.client.Set(ctx, s.resultKey(key), data, s.ttl)
	}
	s.client.Del(ctx, s.inFlightKey(key))

	if done != nil {
		close(done)
	}
}

// Fail releases the in-flight marker without caching, allowing retries.
func (s *RedisStore) Fail(key string, done chan struct{}) {
	s.client.Del(context.Background(), s.inFlightKey(key))

	if done != nil {
		close(done)
	}
}

func (s *RedisStore) getResult(ctx context.Context, key string) *t402.SettleResponse {
	data, err := s.client.Get(ctx, s.resultKey(key)).Bytes()
	if err != nil {
		return nil
	}

	var result t402.SettleResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return &result
}

// Ensure RedisStore implements SettlementStore
var _ SettlementStore = (*RedisStore)(nil)
