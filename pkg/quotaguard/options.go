package quotaguard

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/quotaguard/core"
	"github.com/yourusername/quotaguard/store"
)

// limiterConfig collects the pieces options assemble before New wires them.
type limiterConfig struct {
	store    store.BucketStore
	registry *core.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// Option is a functional option for configuring a Limiter.
type Option func(*limiterConfig) error

// WithStore sets the bucket store. Defaults to the in-memory store,
// which is fine for tests and single-instance deployments; use the
// Redis store to share buckets across processes.
func WithStore(bs store.BucketStore) Option {
	return func(c *limiterConfig) error {
		if bs == nil {
			return fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
		}
		c.store = bs
		return nil
	}
}

// WithRegistry sets the policy registry. Defaults to the built-in table.
func WithRegistry(registry *core.Registry) Option {
	return func(c *limiterConfig) error {
		if registry == nil {
			return fmt.Errorf("%w: registry cannot be nil", ErrInvalidConfig)
		}
		c.registry = registry
		return nil
	}
}

// WithPolicies builds a registry from per-action overrides on top of
// the built-in table. Invalid policies fail here, at construction.
func WithPolicies(overrides map[core.Action]core.Policy) Option {
	return func(c *limiterConfig) error {
		registry, err := core.NewRegistry(overrides)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		c.registry = registry
		return nil
	}
}

// WithLogger sets the logger for fail-open and store error events.
func WithLogger(logger *zap.Logger) Option {
	return func(c *limiterConfig) error {
		c.logger = logger
		return nil
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(c *limiterConfig) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		c.now = now
		return nil
	}
}
