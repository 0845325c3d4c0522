package store

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed token_bucket.lua
var tokenBucketScript string

// RedisStore provides Redis-backed bucket storage for distributed
// rate limiting. The consume step runs as a server-side Lua script,
// so Redis is the sole arbiter of ordering for each bucket key.
type RedisStore struct {
	client    redis.UniversalClient
	scriptSHA string
}

// Ensure RedisStore implements BucketStore
var _ BucketStore = (*RedisStore)(nil)

// RedisConfig for creating a Redis store
type RedisConfig struct {
	Addr     string // Redis address (e.g., "localhost:6379")
	Password string // Redis password (empty for no auth)
	DB       int    // Redis database number
}

// NewRedisStore creates a Redis-backed store and preloads the consume script.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisStoreWithClient(client)
}

// NewRedisStoreWithClient wraps an existing client. The caller owns the
// client's lifecycle; this is the injection point for the composition root.
func NewRedisStoreWithClient(client redis.UniversalClient) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sha, err := client.ScriptLoad(ctx, tokenBucketScript).Result()
	if err != nil {
		return nil, fmt.Errorf("loading token bucket script: %w", err)
	}

	return &RedisStore{client: client, scriptSHA: sha}, nil
}

// Consume runs the token bucket script atomically against key.
func (s *RedisStore) Consume(ctx context.Context, key string, now float64, cost float64, capacity float64, refillRate float64, ttl time.Duration) (ConsumeReply, error) {
	args := []interface{}{
		now,
		cost,
		capacity,
		refillRate,
		int(ttl.Seconds()),
	}

	cmd := s.client.EvalSha(ctx, s.scriptSHA, []string{key}, args...)
	result, err := cmd.Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		// Script cache was flushed (e.g. Redis restart); fall back to EVAL
		result, err = s.client.Eval(ctx, tokenBucketScript, []string{key}, args...).Result()
	}
	if err != nil {
		return ConsumeReply{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 3 {
		return ConsumeReply{}, fmt.Errorf("%w: %v", ErrInvalidReply, result)
	}

	allowed, _ := values[0].(int64)
	reply := ConsumeReply{
		Allowed:  allowed == 1,
		Tokens:   toFloat(values[1]),
		Consumed: toFloat(values[2]),
	}
	if len(values) > 3 {
		reply.RetryAfter = toFloat(values[3])
	}
	return reply, nil
}

// IncrCount increments the window request counter and refreshes its TTL.
func (s *RedisStore) IncrCount(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return count, err
	}
	return count, nil
}

// GetCount reads the window request counter. Missing keys read as 0.
func (s *RedisStore) GetCount(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: counter %q", ErrInvalidReply, val)
	}
	return count, nil
}

// Peek reads bucket state without mutating it.
func (s *RedisStore) Peek(ctx context.Context, key string) (float64, float64, bool, error) {
	vals, err := s.client.HMGet(ctx, key, "tokens", "last_refill").Result()
	if err != nil {
		return 0, 0, false, err
	}
	if len(vals) < 2 || vals[0] == nil || vals[1] == nil {
		return 0, 0, false, nil
	}
	return toFloat(vals[0]), toFloat(vals[1]), true, nil
}

// Reset deletes the given keys.
func (s *RedisStore) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// toFloat normalizes the mixed number/string values Lua replies carry.
func toFloat(val interface{}) float64 {
	switch v := val.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
