package store

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryStore provides thread-safe in-memory bucket storage with the
// same consume semantics as the Redis store, including TTL expiry.
// Suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	buckets  map[string]*memBucket
	counters map[string]*memCounter
}

type memBucket struct {
	tokens     float64
	lastRefill float64
	expiresAt  float64 // epoch seconds; 0 = no expiry recorded yet
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// Ensure MemoryStore implements BucketStore
var _ BucketStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an in-memory store whose counter TTLs
// follow the given time source. Bucket state already follows the caller's
// clock through Consume's now argument; this keeps the counters on the
// same basis under a fake clock.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:      now,
		buckets:  make(map[string]*memBucket),
		counters: make(map[string]*memCounter),
	}
}

// Consume performs the refill-and-consume step under the store mutex,
// which gives the same no-race guarantee the Lua script gives on Redis.
func (s *MemoryStore) Consume(ctx context.Context, key string, now float64, cost float64, capacity float64, refillRate float64, ttl time.Duration) (ConsumeReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[key]
	if !ok || (bucket.expiresAt > 0 && now >= bucket.expiresAt) {
		bucket = &memBucket{tokens: capacity, lastRefill: now}
	}

	elapsed := now - bucket.lastRefill
	tokens := math.Min(capacity, bucket.tokens+elapsed*refillRate)

	if tokens >= cost {
		tokens -= cost
		s.buckets[key] = &memBucket{
			tokens:     tokens,
			lastRefill: now,
			expiresAt:  now + ttl.Seconds(),
		}
		return ConsumeReply{Allowed: true, Tokens: tokens, Consumed: cost}, nil
	}

	// Denied: state stays unchanged
	retryAfter := (cost - tokens) / refillRate
	return ConsumeReply{Allowed: false, Tokens: tokens, RetryAfter: retryAfter}, nil
}

// IncrCount increments the window request counter and refreshes its TTL.
func (s *MemoryStore) IncrCount(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	counter, ok := s.counters[key]
	if !ok || now.After(counter.expiresAt) {
		counter = &memCounter{}
		s.counters[key] = counter
	}
	counter.count++
	counter.expiresAt = now.Add(ttl)
	return counter.count, nil
}

// GetCount reads the window request counter. Missing or expired counters read as 0.
func (s *MemoryStore) GetCount(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || s.now().After(counter.expiresAt) {
		return 0, nil
	}
	return counter.count, nil
}

// Peek reads bucket state without mutating it.
func (s *MemoryStore) Peek(ctx context.Context, key string) (float64, float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[key]
	if !ok {
		return 0, 0, false, nil
	}
	return bucket.tokens, bucket.lastRefill, true, nil
}

// Reset deletes the given keys from both bucket and counter maps.
func (s *MemoryStore) Reset(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.buckets, key)
		delete(s.counters, key)
	}
	return nil
}
