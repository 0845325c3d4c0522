package quotaguard

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/quotaguard/core"
	"github.com/yourusername/quotaguard/store"
)

// KeyPrefix is the namespace shared buckets live under.
const KeyPrefix = "rate_limit"

// Key derives the bucket key for a (user, action) pair.
func Key(userID string, action core.Action) string {
	return KeyPrefix + ":" + userID + ":" + string(action)
}

// countKey derives the companion window counter key for a bucket key.
func countKey(bucketKey string) string {
	return bucketKey + ":count"
}

// Bucket executes the token bucket algorithm against a BucketStore for
// a single (key, cost) pair. All state mutation happens store-side in
// one atomic operation; Bucket itself holds no bucket state.
type Bucket struct {
	store    store.BucketStore
	logger   *zap.Logger
	now      func() time.Time
	failOpen atomic.Uint64
}

// NewBucket creates a bucket engine over the given store.
// A nil logger falls back to a no-op logger.
func NewBucket(bs store.BucketStore, logger *zap.Logger) *Bucket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bucket{
		store:  bs,
		logger: logger,
		now:    time.Now,
	}
}

// Consume attempts to take cost tokens from the bucket at key under the
// given policy. Capacity and refill rate are recomputed from the policy
// on every call, never cached.
//
// Store failures are absorbed: the request is allowed (fail-open), the
// error is logged, and FailOpenCount is incremented. Rate limiting must
// never become a single point of outage for the protected API.
func (b *Bucket) Consume(ctx context.Context, key string, cost int, policy core.Policy) core.Result {
	now := float64(b.now().UnixMicro()) / 1e6
	bucketTTL := 2 * time.Duration(policy.WindowSeconds) * time.Second

	reply, err := b.store.Consume(ctx, key, now, float64(cost), policy.MaxCapacity(), policy.RefillRate(), bucketTTL)
	if err != nil {
		b.failOpen.Add(1)
		b.logger.Error("bucket store unavailable, failing open",
			zap.String("key", key),
			zap.Int("cost", cost),
			zap.Error(err),
		)
		return core.Result{
			Allowed:         true,
			TokensAvailable: float64(policy.MaxRequests),
			TokensRequested: cost,
			LimitKey:        key,
			WindowSeconds:   policy.WindowSeconds,
			MaxRequests:     policy.MaxRequests,
			FailedOpen:      true,
		}
	}

	result := core.Result{
		Allowed:         reply.Allowed,
		TokensAvailable: reply.Tokens,
		TokensRequested: cost,
		TokensConsumed:  int(reply.Consumed),
		LimitKey:        key,
		WindowSeconds:   policy.WindowSeconds,
		MaxRequests:     policy.MaxRequests,
	}
	if !reply.Allowed {
		result.RetryAfter = time.Duration(reply.RetryAfter * float64(time.Second))
	}

	result.CurrentCount = b.windowCount(ctx, key, policy, reply.Allowed)
	return result
}

// windowCount maintains the raw per-window request counter used for
// audit and reporting. Allowed requests bump it; denied requests only
// read it. Counter failures are non-fatal.
func (b *Bucket) windowCount(ctx context.Context, key string, policy core.Policy, allowed bool) uint {
	counterTTL := time.Duration(policy.WindowSeconds) * time.Second

	var count int64
	var err error
	if allowed {
		count, err = b.store.IncrCount(ctx, countKey(key), counterTTL)
	} else {
		count, err = b.store.GetCount(ctx, countKey(key))
	}
	if err != nil {
		b.logger.Warn("window counter unavailable",
			zap.String("key", key),
			zap.Error(err),
		)
		return 0
	}
	return uint(count)
}

// Status computes the current bucket state without consuming tokens,
// by replaying the refill step client-side against a read-only snapshot.
func (b *Bucket) Status(ctx context.Context, key string, policy core.Policy) (core.Status, error) {
	now := float64(b.now().UnixMicro()) / 1e6

	tokens, lastRefill, found, err := b.store.Peek(ctx, key)
	if err != nil {
		return core.Status{}, err
	}
	if !found {
		tokens = policy.MaxCapacity()
		lastRefill = now
	}

	available := math.Min(policy.MaxCapacity(), tokens+(now-lastRefill)*policy.RefillRate())

	count, err := b.store.GetCount(ctx, countKey(key))
	if err != nil {
		return core.Status{}, err
	}

	return core.Status{
		AvailableTokens: available,
		MaxCapacity:     policy.MaxCapacity(),
		RefillRate:      policy.RefillRate(),
		CurrentCount:    uint(count),
		MaxRequests:     policy.MaxRequests,
		WindowSeconds:   policy.WindowSeconds,
	}, nil
}

// Reset deletes the bucket and its window counter.
func (b *Bucket) Reset(ctx context.Context, key string) error {
	return b.store.Reset(ctx, key, countKey(key))
}

// FailOpenCount reports how many checks were allowed because the store
// was unreachable. A steadily climbing value means rate limiting is
// effectively disabled and the store needs attention.
func (b *Bucket) FailOpenCount() uint64 {
	return b.failOpen.Load()
}

// Limiter combines the policy registry and bucket engine into
// per-(user, action) admission checks.
type Limiter struct {
	bucket   *Bucket
	registry *core.Registry
	logger   *zap.Logger
}

// New creates a Limiter with the given options. Without options it uses
// the in-memory store and the built-in policy table.
func New(opts ...Option) (*Limiter, error) {
	cfg := &limiterConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.store == nil {
		// Keep the default store's counter TTLs on the same clock the
		// bucket math runs on.
		if cfg.now != nil {
			cfg.store = store.NewMemoryStoreWithClock(cfg.now)
		} else {
			cfg.store = store.NewMemoryStore()
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.registry == nil {
		registry, err := core.NewRegistry(nil)
		if err != nil {
			return nil, err
		}
		cfg.registry = registry
	}

	l := &Limiter{
		bucket:   NewBucket(cfg.store, cfg.logger),
		registry: cfg.registry,
		logger:   cfg.logger,
	}
	if cfg.now != nil {
		l.bucket.now = cfg.now
	}

	return l, nil
}

// CheckLimit verifies and consumes rate limit for one (user, action)
// pair. The override policy, when non-nil, replaces the registry lookup
// for this call only.
func (l *Limiter) CheckLimit(ctx context.Context, userID string, action core.Action, tokens int, override *core.Policy) core.Result {
	policy := l.registry.Get(action)
	if override != nil {
		policy = *override
	}

	if tokens <= 0 {
		tokens = 1
	}

	return l.bucket.Consume(ctx, Key(userID, action), tokens, policy)
}

// Reset deletes the bucket and counter for one (user, action) pair.
// Operator and test tooling only, never part of the request flow.
func (l *Limiter) Reset(ctx context.Context, userID string, action core.Action) error {
	return l.bucket.Reset(ctx, Key(userID, action))
}

// ResetAll deletes buckets and counters for every known action of a user.
func (l *Limiter) ResetAll(ctx context.Context, userID string) error {
	for _, action := range l.registry.Actions() {
		if err := l.bucket.Reset(ctx, Key(userID, action)); err != nil {
			return err
		}
	}
	return nil
}

// Status returns a read-only snapshot of every action's bucket for a
// user, without consuming any tokens.
func (l *Limiter) Status(ctx context.Context, userID string) (map[core.Action]core.Status, error) {
	statuses := make(map[core.Action]core.Status)
	for _, action := range l.registry.Actions() {
		status, err := l.bucket.Status(ctx, Key(userID, action), l.registry.Get(action))
		if err != nil {
			return nil, err
		}
		statuses[action] = status
	}
	return statuses, nil
}

// Registry exposes the policy table for callers that need policy
// parameters (the anomaly detector, operator endpoints).
func (l *Limiter) Registry() *core.Registry {
	return l.registry
}

// FailOpenCount reports the engine's fail-open event count.
func (l *Limiter) FailOpenCount() uint64 {
	return l.bucket.FailOpenCount()
}
