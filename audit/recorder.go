package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/quotaguard/core"
)

// Entry carries everything the middleware knows about one request at
// audit time.
type Entry struct {
	UserID   string
	Endpoint string
	Method   string
	Action   core.Action
	Result   core.Result

	ResponseTime   time.Duration
	HTTPStatusCode *int
	IPAddress      string
	UserAgent      string

	// Usage is the merged provider usage for this request, if any.
	Usage *ProviderUsage

	Metadata map[string]string
}

// Recorder turns admission results into durable audit records. It is
// called exactly once per admitted-or-denied request — that unconditional
// call is what makes the trail complete enough for billing and review.
type Recorder struct {
	store    Store
	detector *Detector
	logger   *zap.Logger
	now      func() time.Time
}

// NewRecorder creates a recorder writing to store. A nil detector
// disables anomaly annotation.
func NewRecorder(store Store, detector *Detector, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:    store,
		detector: detector,
		logger:   logger,
		now:      time.Now,
	}
}

// LogRequest builds and persists the audit record for one admission
// check. The anomaly verdict is computed inline before the write, so
// the flag stays consistent with the record it annotates.
//
// Persistence failure never propagates as a request failure: the error
// is logged, the built record is still returned, and the caller moves
// on. Audit completeness is best-effort, not transactional with the
// protected operation.
func (r *Recorder) LogRequest(ctx context.Context, entry Entry) (*Record, error) {
	record := &Record{
		ID:        uuid.NewString(),
		UserID:    entry.UserID,
		Timestamp: r.now().UTC(),
		Endpoint:  entry.Endpoint,
		Method:    entry.Method,
		Action:    entry.Action,

		Status:  statusFor(entry.Result),
		Allowed: entry.Result.Allowed,

		TokensRequested:     entry.Result.TokensRequested,
		TokensAvailable:     entry.Result.TokensAvailable,
		TokensConsumed:      entry.Result.TokensConsumed,
		RateLimitKey:        entry.Result.LimitKey,
		WindowSeconds:       entry.Result.WindowSeconds,
		MaxRequests:         entry.Result.MaxRequests,
		CurrentRequestCount: entry.Result.CurrentCount,

		ResponseTimeMS: float64(entry.ResponseTime) / float64(time.Millisecond),
		HTTPStatusCode: entry.HTTPStatusCode,

		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Metadata:  entry.Metadata,
	}

	if entry.Usage != nil {
		usage := *entry.Usage
		record.ProviderPromptTokens = &usage.PromptTokens
		record.ProviderCompletionTokens = &usage.CompletionTokens
		record.ProviderTotalTokens = &usage.TotalTokens
		record.ProviderModel = &usage.Model
		cost := EstimateCostCents(usage.Model, usage.PromptTokens, usage.CompletionTokens)
		record.EstimatedCostCents = &cost
	}

	if r.detector != nil {
		suspicious, reason := r.detector.Evaluate(ctx, entry.UserID, entry.Action, entry.Result)
		record.IsSuspicious = suspicious
		record.AlertTriggered = suspicious
		record.AlertReason = reason
	}

	if err := r.store.Insert(ctx, record); err != nil {
		r.logger.Error("audit record not persisted",
			zap.String("user_id", entry.UserID),
			zap.String("endpoint", entry.Endpoint),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
		return record, err
	}

	return record, nil
}

// statusFor maps an admission result to a record status. The engine
// currently produces only allow/deny; the richer denial statuses are
// reserved for future quota semantics.
func statusFor(result core.Result) RecordStatus {
	if result.Allowed {
		return StatusAllowed
	}
	return StatusRateLimited
}
