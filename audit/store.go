package audit

import (
	"context"
	"time"

	"github.com/yourusername/quotaguard/core"
)

// Filter narrows audit queries for reporting and review.
// Zero-valued fields are ignored.
type Filter struct {
	UserID         string
	Action         core.Action
	Since          time.Time
	Until          time.Time
	SuspiciousOnly bool
	DeniedOnly     bool
	Limit          int
	Offset         int
}

// ActionStats breaks request counts down for one action class.
type ActionStats struct {
	Total   int `json:"total"`
	Allowed int `json:"allowed"`
	Blocked int `json:"blocked"`
}

// Statistics aggregates one user's audit history over a period.
type Statistics struct {
	UserID            string                      `json:"user_id"`
	Since             time.Time                   `json:"since"`
	Until             time.Time                   `json:"until"`
	TotalRequests     int                         `json:"total_requests"`
	AllowedRequests   int                         `json:"allowed_requests"`
	BlockedRequests   int                         `json:"blocked_requests"`
	ByAction          map[core.Action]ActionStats `json:"by_action"`
	ProviderTokens    int                         `json:"provider_tokens"`
	EstimatedCostUSD  float64                     `json:"estimated_cost_usd"`
	AlertsTriggered   int                         `json:"alerts_triggered"`
	AvgResponseTimeMS float64                     `json:"avg_response_time_ms"`
}

// Consumer is one row of a top-consumers report.
type Consumer struct {
	UserID       string  `json:"user_id"`
	RequestCount int     `json:"request_count"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Store is the durable backend for audit records. The rate limiter
// only ever appends; the detector and operator endpoints only read.
type Store interface {
	// Insert appends one record.
	Insert(ctx context.Context, record *Record) error

	// Count counts records matching the filter. The detector's
	// trailing-window heuristics are Count calls with a Since bound.
	Count(ctx context.Context, filter Filter) (int, error)

	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)

	// UserStatistics aggregates one user's history over [since, until].
	UserStatistics(ctx context.Context, userID string, since, until time.Time) (*Statistics, error)

	// TopConsumers lists the heaviest users since the given time,
	// by request count. Empty action means all actions.
	TopConsumers(ctx context.Context, action core.Action, since time.Time, limit int) ([]Consumer, error)
}
