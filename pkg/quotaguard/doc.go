// Package quotaguard provides distributed rate limiting with an audit
// trail for APIs that front expensive LLM-provider calls.
//
// QuotaGuard implements the token bucket algorithm against shared
// remote state: the refill-and-consume step executes as a single
// atomic server-side operation (a Lua script on Redis), so concurrent
// requests racing on the same bucket can never overconsume.
//
// # Quick Start
//
// Basic usage with the in-memory store:
//
//	limiter, err := quotaguard.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result := limiter.CheckLimit(ctx, "user-123", core.ActionChatCompletion, 1, nil)
//	if !result.Allowed {
//	    fmt.Printf("Rate limited. Retry after %v\n", result.RetryAfter)
//	}
//
// # Distributed Deployments
//
// Point the limiter at Redis to share buckets across processes:
//
//	rs, err := store.NewRedisStore(store.RedisConfig{Addr: "localhost:6379"})
//	limiter, err := quotaguard.New(quotaguard.WithStore(rs))
//
// # Action Classes
//
// Every check is scoped to a (user, action) pair. Actions are named
// operation classes with their own policies: api_call, chat_completion,
// embedding_generation, and so on. Unrecognized actions fall back to the
// api_call policy. Override the built-in table via YAML configuration:
//
//	policies:
//	  chat_completion:
//	    max_requests: 10
//	    window_seconds: 60
//	    burst_multiplier: 1.0
//
// # Failure Semantics
//
// The limiter fails open: when the bucket store is unreachable, checks
// return allowed rather than turning rate limiting into an outage of the
// protected API. Every fail-open event is logged and counted; watch
// FailOpenCount in production, because a sustained store outage silently
// disables enforcement.
//
// # Audit Trail
//
// The audit package records every admission decision (allowed or denied)
// together with token accounting, provider usage cost, and an inline
// anomaly verdict. The middleware package ties limiter and recorder into
// a drop-in net/http admission boundary.
package quotaguard
