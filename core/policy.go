package core

import (
	"errors"
	"math"
)

var (
	// ErrZeroMaxRequests is returned when a policy allows no requests at all
	ErrZeroMaxRequests = errors.New("max_requests must be positive")

	// ErrZeroWindow is returned when a policy has an empty time window
	ErrZeroWindow = errors.New("window_seconds must be positive")

	// ErrBurstBelowOne is returned when a burst multiplier would shrink capacity
	ErrBurstBelowOne = errors.New("burst_multiplier must be >= 1.0")
)

// Action identifies a class of operation with its own rate limit policy.
type Action string

// Known action classes. Unrecognized actions fall back to ActionAPICall.
const (
	ActionAPICall             Action = "api_call"
	ActionEmbeddingGeneration Action = "embedding_generation"
	ActionChatCompletion      Action = "chat_completion"
	ActionCodeValidation      Action = "code_validation"
	ActionSearch              Action = "search"
	ActionSimilaritySearch    Action = "similarity_search"
	ActionBulkCreate          Action = "bulk_create"
	ActionBulkUpdate          Action = "bulk_update"
)

// Policy defines the rate limiting parameters for one action class.
// A policy is immutable once loaded into a Registry.
type Policy struct {
	// MaxRequests is the sustained number of requests per window
	MaxRequests uint `yaml:"max_requests" json:"max_requests"`

	// WindowSeconds is the length of the rate window in seconds
	WindowSeconds uint `yaml:"window_seconds" json:"window_seconds"`

	// BurstMultiplier scales bucket capacity above MaxRequests,
	// allowing short bursts over the sustained rate. 1.0 = no burst.
	BurstMultiplier float64 `yaml:"burst_multiplier" json:"burst_multiplier"`
}

// Validate checks if the policy parameters are usable.
func (p Policy) Validate() error {
	if p.MaxRequests == 0 {
		return ErrZeroMaxRequests
	}
	if p.WindowSeconds == 0 {
		return ErrZeroWindow
	}
	if p.BurstMultiplier < 1.0 {
		return ErrBurstBelowOne
	}
	return nil
}

// MaxCapacity returns the bucket capacity in tokens, including burst headroom.
func (p Policy) MaxCapacity() float64 {
	return math.Floor(float64(p.MaxRequests) * p.BurstMultiplier)
}

// RefillRate returns the token regeneration rate in tokens per second.
func (p Policy) RefillRate() float64 {
	return float64(p.MaxRequests) / float64(p.WindowSeconds)
}
