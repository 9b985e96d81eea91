package t402

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGenerateSettlementKey(t *testing.T) {
	payload := []byte(`{"t402Version":2,"payload":{"signature":"0xsig"}}`)

	key1 := GenerateSettlementKey(payload)
	key2 := GenerateSettlementKey(payload)
	if key1 != key2 {
		t.Error("identical payloads must produce identical keys")
	}
	if len(key1) != 64 {
		t.Errorf("expected a hex sha256 key, got %q", key1)
	}

	other := GenerateSettlementKey([]byte(`{"t402Version":2,"payload":{"signature":"0xother"}}`))
	if key1 == other {
		t.Error("different payloads must produce different keys")
	}
}

func TestSettlementCacheCheckAndMark(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte("payload"))

	status, result, done := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("expected StatusNotFound, got %v", status)
	}
	if result != nil {
		t.Fatal("expected no cached result")
	}
	if done == nil {
		t.Fatal("expected a done channel to release later")
	}

	// A second caller sees the in-flight marker.
	status2, _, wait := cache.CheckAndMark(key)
	if status2 != StatusInFlight {
		t.Fatalf("expected StatusInFlight, got %v", status2)
	}
	if wait == nil {
		t.Fatal("expected a wait channel")
	}

	response := &SettleResponse{Success: true, Transaction: "0xTx", Network: "eip155:8453"}
	cache.Complete(key, response, done)

	status3, cached, _ := cache.CheckAndMark(key)
	if status3 != StatusCached {
		t.Fatalf("expected StatusCached after Complete, got %v", status3)
	}
	if cached.Transaction != "0xTx" {
		t.Errorf("unexpected cached result: %+v", cached)
	}
}

func TestSettlementCacheFailAllowsRetry(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte("payload"))

	status, _, done := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("expected StatusNotFound, got %v", status)
	}

	cache.Fail(key, done)

	// Failure is not cached; the next caller owns a fresh attempt.
	status2, result, done2 := cache.CheckAndMark(key)
	if status2 != StatusNotFound {
		t.Fatalf("expected StatusNotFound after Fail, got %v", status2)
	}
	if result != nil {
		t.Fatal("failures must not be cached")
	}
	if done2 == nil {
		t.Fatal("expected a fresh done channel")
	}
}

func TestSettlementCacheExpiry(t *testing.T) {
	cache := NewSettlementCache(10 * time.Millisecond)
	key := GenerateSettlementKey([]byte("payload"))

	_, _, done := cache.CheckAndMark(key)
	cache.Complete(key, &SettleResponse{Success: true, Transaction: "0xTx"}, done)

	time.Sleep(20 * time.Millisecond)

	status, result, _ := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("expected expired entry to be gone, got %v", status)
	}
	if result != nil {
		t.Fatal("expired result must not be returned")
	}
}

func TestSettlementCacheWaitForResult(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte("payload"))

	_, _, done := cache.CheckAndMark(key)

	status, _, wait := cache.CheckAndMark(key)
	if status != StatusInFlight {
		t.Fatalf("expected StatusInFlight, got %v", status)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cache.Complete(key, &SettleResponse{Success: true, Transaction: "0xTx"}, done)
	}()

	result, err := cache.WaitForResult(context.Background(), key, wait)
	if err != nil {
		t.Fatalf("WaitForResult failed: %v", err)
	}
	if result == nil || result.Transaction != "0xTx" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSettlementCacheWaitForResultContextCancelled(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte("payload"))

	cache.CheckAndMark(key)
	_, _, wait := cache.CheckAndMark(key)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := cache.WaitForResult(ctx, key, wait)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestSettlementCacheConcurrentCoalescing(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte("payload"))

	const workers = 16
	var owners int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			status, _, done := cache.CheckAndMark(key)
			switch status {
			case StatusNotFound:
				mu.Lock()
				owners++
				mu.Unlock()
				cache.Complete(key, &SettleResponse{Success: true, Transaction: "0xTx"}, done)
			case StatusInFlight:
				result, err := cache.WaitForResult(context.Background(), key, done)
				if err != nil {
					t.Errorf("WaitForResult failed: %v", err)
					return
				}
				if result == nil || result.Transaction != "0xTx" {
					t.Errorf("waiter got unexpected result: %+v", result)
				}
			case StatusCached:
				// Fine, the owner finished before this worker checked.
			}
		}()
	}

	wg.Wait()

	if owners != 1 {
		t.Errorf("expected exactly 1 settlement owner, got %d", owners)
	}
}
