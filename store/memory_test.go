package store

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

const ttl = time.Minute

func TestMemoryStore_Consume(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Fresh key starts at full capacity
	reply, err := s.Consume(ctx, "k", 100.0, 1, 10, 1.0, ttl)
	if err != nil {
		t.Fatalf("Consume() failed: %v", err)
	}
	if !reply.Allowed {
		t.Fatal("first consume on fresh bucket should be allowed")
	}
	if reply.Tokens != 9 {
		t.Errorf("Tokens = %v, want 9", reply.Tokens)
	}
	if reply.Consumed != 1 {
		t.Errorf("Consumed = %v, want 1", reply.Consumed)
	}
}

func TestMemoryStore_ConsumeUntilEmpty(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// 5 tokens, no refill during the test (same now everywhere)
	for i := 0; i < 5; i++ {
		reply, err := s.Consume(ctx, "k", 100.0, 1, 5, 1.0, ttl)
		if err != nil {
			t.Fatalf("Consume() failed: %v", err)
		}
		if !reply.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	reply, err := s.Consume(ctx, "k", 100.0, 1, 5, 1.0, ttl)
	if err != nil {
		t.Fatalf("Consume() failed: %v", err)
	}
	if reply.Allowed {
		t.Fatal("6th request should be denied")
	}
	if reply.Tokens != 0 {
		t.Errorf("Tokens = %v, want 0", reply.Tokens)
	}
	// Refilling 1 token at 1 token/sec takes 1 second
	if reply.RetryAfter != 1 {
		t.Errorf("RetryAfter = %v, want 1", reply.RetryAfter)
	}
}

func TestMemoryStore_Refill(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Drain a 10-token bucket at t=100
	for i := 0; i < 10; i++ {
		if reply, _ := s.Consume(ctx, "k", 100.0, 1, 10, 0.5, ttl); !reply.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// 2 seconds later: exactly one token refilled at 0.5 tokens/sec
	reply, err := s.Consume(ctx, "k", 102.0, 1, 10, 0.5, ttl)
	if err != nil {
		t.Fatalf("Consume() failed: %v", err)
	}
	if !reply.Allowed {
		t.Fatal("request should be allowed after refill")
	}

	reply, _ = s.Consume(ctx, "k", 102.0, 1, 10, 0.5, ttl)
	if reply.Allowed {
		t.Fatal("only one token was refilled")
	}
}

func TestMemoryStore_RefillCapped(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Drain, then wait far longer than needed to refill to capacity
	for i := 0; i < 5; i++ {
		s.Consume(ctx, "k", 100.0, 1, 5, 1.0, ttl)
	}

	allowed := 0
	for i := 0; i < 20; i++ {
		// TTL is 60s, so the bucket at t=140 is still live
		if reply, _ := s.Consume(ctx, "k", 140.0, 1, 5, 1.0, ttl); reply.Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed %d requests after long idle, want 5 (capped at capacity)", allowed)
	}
}

func TestMemoryStore_ExactCost(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// tokens == cost is allowed: the boundary belongs to the caller
	reply, err := s.Consume(ctx, "k", 100.0, 5, 5, 1.0, ttl)
	if err != nil {
		t.Fatalf("Consume() failed: %v", err)
	}
	if !reply.Allowed {
		t.Fatal("consuming exactly the available tokens should be allowed")
	}
	if reply.Tokens != 0 {
		t.Errorf("Tokens = %v, want 0", reply.Tokens)
	}
}

func TestMemoryStore_DeniedLeavesStateUnchanged(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Consume(ctx, "k", 100.0, 3, 5, 1.0, ttl) // 2 tokens left

	reply, _ := s.Consume(ctx, "k", 100.0, 3, 5, 1.0, ttl)
	if reply.Allowed {
		t.Fatal("consume above available tokens should be denied")
	}

	tokens, lastRefill, found, err := s.Peek(ctx, "k")
	if err != nil {
		t.Fatalf("Peek() failed: %v", err)
	}
	if !found {
		t.Fatal("bucket should exist")
	}
	if tokens != 2 {
		t.Errorf("tokens = %v, want 2 (denial must not mutate state)", tokens)
	}
	if lastRefill != 100.0 {
		t.Errorf("lastRefill = %v, want 100.0", lastRefill)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Drain the bucket with a 10s TTL
	for i := 0; i < 5; i++ {
		s.Consume(ctx, "k", 100.0, 1, 5, 0.001, 10*time.Second)
	}

	// Past the TTL the key is gone: the bucket restarts at capacity
	reply, err := s.Consume(ctx, "k", 111.0, 1, 5, 0.001, 10*time.Second)
	if err != nil {
		t.Fatalf("Consume() failed: %v", err)
	}
	if !reply.Allowed {
		t.Fatal("expired bucket should restart full")
	}
	if math.Abs(reply.Tokens-4) > 0.1 {
		t.Errorf("Tokens = %v, want ~4 (fresh bucket minus cost)", reply.Tokens)
	}
}

func TestMemoryStore_IndependentKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Consume(ctx, "rate_limit:alice:search", 100.0, 1, 3, 1.0, ttl)
	}

	reply, _ := s.Consume(ctx, "rate_limit:alice:search", 100.0, 1, 3, 1.0, ttl)
	if reply.Allowed {
		t.Fatal("alice's bucket should be empty")
	}

	reply, _ = s.Consume(ctx, "rate_limit:bob:search", 100.0, 1, 3, 1.0, ttl)
	if !reply.Allowed {
		t.Fatal("bob's bucket is independent of alice's")
	}
}

func TestMemoryStore_Counters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	count, err := s.GetCount(ctx, "k:count")
	if err != nil {
		t.Fatalf("GetCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("missing counter reads as %d, want 0", count)
	}

	for i := int64(1); i <= 3; i++ {
		count, err = s.IncrCount(ctx, "k:count", ttl)
		if err != nil {
			t.Fatalf("IncrCount() failed: %v", err)
		}
		if count != i {
			t.Errorf("IncrCount() = %d, want %d", count, i)
		}
	}

	count, _ = s.GetCount(ctx, "k:count")
	if count != 3 {
		t.Errorf("GetCount() = %d, want 3", count)
	}
}

func TestMemoryStore_CounterExpiryFollowsClock(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStoreWithClock(func() time.Time { return current })
	ctx := context.Background()

	s.IncrCount(ctx, "k:count", ttl)
	s.IncrCount(ctx, "k:count", ttl)

	// Still inside the TTL on the injected clock
	current = current.Add(ttl - time.Second)
	if count, _ := s.GetCount(ctx, "k:count"); count != 2 {
		t.Errorf("GetCount() before expiry = %d, want 2", count)
	}

	// Each increment refreshed the TTL, so expiry is measured from the
	// last one. Step past it and the counter reads as gone.
	current = current.Add(2 * time.Second)
	if count, _ := s.GetCount(ctx, "k:count"); count != 0 {
		t.Errorf("GetCount() after expiry = %d, want 0", count)
	}

	// A fresh increment restarts the sequence
	if count, _ := s.IncrCount(ctx, "k:count", ttl); count != 1 {
		t.Errorf("IncrCount() after expiry = %d, want 1", count)
	}
}

func TestMemoryStore_Reset(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Consume(ctx, "k", 100.0, 1, 5, 1.0, ttl)
	s.IncrCount(ctx, "k:count", ttl)

	if err := s.Reset(ctx, "k", "k:count"); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}

	if _, _, found, _ := s.Peek(ctx, "k"); found {
		t.Error("bucket should be gone after reset")
	}
	if count, _ := s.GetCount(ctx, "k:count"); count != 0 {
		t.Errorf("counter after reset = %d, want 0", count)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// 100 goroutines race on a 1000-token bucket with no refill
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				reply, err := s.Consume(ctx, "k", 100.0, 1, 1000, 0, ttl)
				if err != nil {
					t.Errorf("Consume() failed: %v", err)
					return
				}
				if reply.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 1000 {
		t.Errorf("allowed %d of 2000 racing requests, want exactly 1000", allowed)
	}
}
