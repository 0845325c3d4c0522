package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/quotaguard/core"
)

const (
	// detectionWindow is the trailing window both heuristics scan.
	detectionWindow = 5 * time.Minute

	// volumeMultiplier: more than this many times the policy's
	// sustained limit inside the window is a volume spike.
	volumeMultiplier = 5

	// denialThreshold: more than this many denials inside the window
	// marks a client that keeps hammering an exhausted limit.
	denialThreshold = 10
)

// Detector flags abusive access patterns from recent audit history.
// It holds no state of its own: every verdict is a fresh bounded query
// over the audit store's trailing window.
type Detector struct {
	store    Store
	registry *core.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewDetector creates a detector reading from the given audit store.
// The registry supplies per-action limits for the volume heuristic.
func NewDetector(store Store, registry *core.Registry, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		store:    store,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate runs both heuristics for a (user, action) pair. Either one
// triggering marks the request suspicious. Store errors degrade to a
// not-suspicious verdict — detection must never block admission.
func (d *Detector) Evaluate(ctx context.Context, userID string, action core.Action, result core.Result) (bool, string) {
	since := d.now().Add(-detectionWindow)
	policy := d.registry.Get(action)

	recent, err := d.store.Count(ctx, Filter{
		UserID: userID,
		Action: action,
		Since:  since,
	})
	if err != nil {
		d.logger.Warn("anomaly volume query failed",
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return false, ""
	}

	// The verdict annotates the record about to be written, which is not
	// in the store yet, so the in-flight request counts toward the window.
	recent++

	threshold := int(policy.MaxRequests) * volumeMultiplier
	if recent > threshold {
		return true, fmt.Sprintf("Excessive requests: %d in 5 minutes (threshold: %d)", recent, threshold)
	}

	// The denial heuristic only applies while the client is actually
	// being denied.
	if result.Allowed {
		return false, ""
	}

	denied, err := d.store.Count(ctx, Filter{
		UserID:     userID,
		Action:     action,
		Since:      since,
		DeniedOnly: true,
	})
	if err != nil {
		d.logger.Warn("anomaly denial query failed",
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return false, ""
	}

	denied++
	if denied > denialThreshold {
		return true, fmt.Sprintf("Multiple rate limit violations: %d blocked requests in 5 minutes", denied)
	}

	return false, ""
}
