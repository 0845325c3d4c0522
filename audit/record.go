// Package audit persists every admission decision the rate limiter
// makes, together with token accounting, downstream provider usage
// cost, and an inline anomaly verdict. Records are append-only: they
// are the durable history billing and security review run on, while
// bucket state stays ephemeral.
package audit

import (
	"time"

	"github.com/yourusername/quotaguard/core"
)

// RecordStatus classifies how an admission check resolved.
type RecordStatus string

const (
	StatusAllowed     RecordStatus = "allowed"
	StatusRateLimited RecordStatus = "rate_limited"

	// Reserved for richer denial reasons future engines may produce.
	StatusTokenLimitExceeded RecordStatus = "token_limit_exceeded"
	StatusQuotaExceeded      RecordStatus = "quota_exceeded"
)

// Record is one append-only audit row per admission check.
// Created once by the Recorder, never mutated afterward.
type Record struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Endpoint  string      `json:"endpoint"`
	Method    string      `json:"method"`
	Action    core.Action `json:"action"`

	Status  RecordStatus `json:"status"`
	Allowed bool         `json:"allowed"`

	// Token bucket accounting at decision time
	TokensRequested     int     `json:"tokens_requested"`
	TokensAvailable     float64 `json:"tokens_available"`
	TokensConsumed      int     `json:"tokens_consumed"`
	RateLimitKey        string  `json:"rate_limit_key"`
	WindowSeconds       uint    `json:"window_seconds"`
	MaxRequests         uint    `json:"max_requests"`
	CurrentRequestCount uint    `json:"current_request_count"`

	// Downstream provider usage, when the request reached a provider
	ProviderPromptTokens     *int     `json:"provider_prompt_tokens,omitempty"`
	ProviderCompletionTokens *int     `json:"provider_completion_tokens,omitempty"`
	ProviderTotalTokens      *int     `json:"provider_total_tokens,omitempty"`
	ProviderModel            *string  `json:"provider_model,omitempty"`
	EstimatedCostCents       *float64 `json:"estimated_cost_cents,omitempty"`

	ResponseTimeMS float64 `json:"response_time_ms"`
	HTTPStatusCode *int    `json:"http_status_code,omitempty"`

	// Anomaly flags, filled in by the detector before persisting
	IsSuspicious   bool   `json:"is_suspicious"`
	AlertTriggered bool   `json:"alert_triggered"`
	AlertReason    string `json:"alert_reason,omitempty"`

	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ProviderUsage captures LLM-provider token consumption for one call.
type ProviderUsage struct {
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// UsageAccumulator merges provider usage across multiple calls made
// while serving one request. It is an explicit value threaded through
// the call chain, not ambient request-local state, so the data flow
// stays visible and testable.
//
// UsageAccumulator is not safe for concurrent use; serve one request's
// provider calls from one goroutine or guard it yourself.
type UsageAccumulator struct {
	model            string
	promptTokens     int
	completionTokens int
	totalTokens      int
	calls            int
}

// Add merges one provider call's usage. The last non-empty model name wins.
func (a *UsageAccumulator) Add(usage ProviderUsage) {
	if usage.Model != "" {
		a.model = usage.Model
	}
	a.promptTokens += usage.PromptTokens
	a.completionTokens += usage.CompletionTokens
	a.totalTokens += usage.TotalTokens
	a.calls++
}

// Calls reports how many provider calls were merged.
func (a *UsageAccumulator) Calls() int {
	return a.calls
}

// Total returns the merged usage, or nil if nothing was recorded.
func (a *UsageAccumulator) Total() *ProviderUsage {
	if a.calls == 0 {
		return nil
	}
	return &ProviderUsage{
		Model:            a.model,
		PromptTokens:     a.promptTokens,
		CompletionTokens: a.completionTokens,
		TotalTokens:      a.totalTokens,
	}
}
