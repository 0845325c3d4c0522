package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidReply is returned when the store answers with an unexpected shape
var ErrInvalidReply = errors.New("invalid store reply")

// ConsumeReply is the raw outcome of one atomic consume attempt.
type ConsumeReply struct {
	Allowed    bool
	Tokens     float64 // tokens left after the attempt
	Consumed   float64 // tokens actually deducted (0 when denied)
	RetryAfter float64 // seconds until the attempt could succeed (denied only)
}

// BucketStore is the shared state backend for token buckets.
//
// Consume must execute the refill-and-consume step as a single atomic
// operation for a given key: concurrent callers racing on the same
// bucket must never observe a read-then-write gap. The Redis
// implementation uses a server-side Lua script; the in-memory one a
// per-store mutex. Different keys are fully independent.
type BucketStore interface {
	// Consume attempts to take cost tokens from the bucket at key.
	// An absent key is treated as a full bucket at capacity.
	// The bucket TTL is refreshed to ttl on every successful consume.
	Consume(ctx context.Context, key string, now float64, cost float64, capacity float64, refillRate float64, ttl time.Duration) (ConsumeReply, error)

	// IncrCount increments the window request counter at key and
	// refreshes its TTL, returning the new count.
	IncrCount(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// GetCount reads the window request counter without touching it.
	// A missing counter reads as 0.
	GetCount(ctx context.Context, key string) (int64, error)

	// Peek reads raw bucket state without mutating it.
	// found is false when the bucket does not exist yet.
	Peek(ctx context.Context, key string) (tokens float64, lastRefill float64, found bool, err error)

	// Reset deletes the given keys.
	Reset(ctx context.Context, keys ...string) error
}
