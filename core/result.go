package core

import "time"

// Result contains the outcome of a single admission check.
type Result struct {
	// Allowed indicates whether the request should proceed
	Allowed bool

	// TokensAvailable is the number of tokens left in the bucket
	TokensAvailable float64

	// TokensRequested is the cost the caller asked to consume
	TokensRequested int

	// TokensConsumed is the cost actually deducted (0 when denied)
	TokensConsumed int

	// RetryAfter is how long until the request could succeed.
	// Zero when the request was allowed.
	RetryAfter time.Duration

	// LimitKey is the bucket key the decision was made against
	LimitKey string

	// WindowSeconds and MaxRequests echo the policy that applied
	WindowSeconds uint
	MaxRequests   uint

	// CurrentCount is the raw request count within the current window
	CurrentCount uint

	// FailedOpen marks a request that was allowed only because the
	// bucket store was unreachable
	FailedOpen bool
}

// Status is a read-only snapshot of one bucket, computed without
// consuming any tokens.
type Status struct {
	AvailableTokens float64 `json:"available_tokens"`
	MaxCapacity     float64 `json:"max_capacity"`
	RefillRate      float64 `json:"refill_rate"`
	CurrentCount    uint    `json:"current_count"`
	MaxRequests     uint    `json:"max_requests"`
	WindowSeconds   uint    `json:"window_seconds"`
}
