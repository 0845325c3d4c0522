// Package middleware provides the HTTP admission boundary: every
// inbound request is resolved to a (user, action) pair, checked
// against the rate limiter, audited, and either forwarded or rejected
// with structured retry guidance.
package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/quotaguard/audit"
	"github.com/yourusername/quotaguard/core"
	"github.com/yourusername/quotaguard/metrics"
	"github.com/yourusername/quotaguard/pkg/quotaguard"
)

// IdentityFunc resolves the user identity for a request.
type IdentityFunc func(*http.Request) string

// HeaderIdentity resolves identity from a header, pooling everything
// without one into the anonymous identity. Pooling unauthenticated
// traffic into a single shared bucket is coarse but deliberate
// protection; tune the anonymous policy separately if it is too blunt.
func HeaderIdentity(header, anonymousID string) IdentityFunc {
	return func(r *http.Request) string {
		if id := r.Header.Get(header); id != "" {
			return id
		}
		return anonymousID
	}
}

// Config assembles an Admission middleware.
type Config struct {
	Limiter  *quotaguard.Limiter // required
	Recorder *audit.Recorder     // required
	Metrics  *metrics.Metrics    // optional in-process counters
	Logger   *zap.Logger

	// Identity resolves the user for a request. Defaults to
	// HeaderIdentity("X-User-ID", "anonymous").
	Identity IdentityFunc

	// ExcludedPaths are prefixes that bypass rate limiting entirely
	// (health checks, docs). Defaults match quotaguard.NewConfig.
	ExcludedPaths []string

	// ActionRoutes maps path prefixes to action classes; the longest
	// matching prefix wins. Unmatched paths use the default action.
	ActionRoutes map[string]core.Action

	// Disabled bypasses the middleware without rewiring handlers.
	Disabled bool
}

// Admission is the front-door rate limiting middleware. It owns no
// bucket state and no audit state — it only orchestrates the limiter,
// the recorder, and the HTTP response contract (429 + Retry-After +
// X-RateLimit-* headers).
type Admission struct {
	limiter  *quotaguard.Limiter
	recorder *audit.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	identity IdentityFunc
	excluded []string
	routes   []actionRoute
	disabled bool
}

// actionRoute is one prefix→action mapping, kept sorted longest-first.
type actionRoute struct {
	prefix string
	action core.Action
}

// NewAdmission creates the middleware from config.
func NewAdmission(cfg Config) *Admission {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	identity := cfg.Identity
	if identity == nil {
		identity = HeaderIdentity("X-User-ID", "anonymous")
	}

	excluded := cfg.ExcludedPaths
	if excluded == nil {
		excluded = quotaguard.NewConfig().ExcludedPaths
	}

	routes := make([]actionRoute, 0, len(cfg.ActionRoutes))
	for prefix, action := range cfg.ActionRoutes {
		routes = append(routes, actionRoute{prefix: prefix, action: action})
	}
	sort.Slice(routes, func(i, j int) bool {
		return len(routes[i].prefix) > len(routes[j].prefix)
	})

	return &Admission{
		limiter:  cfg.Limiter,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		logger:   logger,
		identity: identity,
		excluded: excluded,
		routes:   routes,
		disabled: cfg.Disabled,
	}
}

// Middleware wraps a handler with admission control.
func (a *Admission) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.disabled || a.isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		userID := a.identity(r)
		action := a.ActionFor(r.URL.Path)
		start := time.Now()

		result := a.limiter.CheckLimit(r.Context(), userID, action, 1, nil)

		if a.metrics != nil {
			a.metrics.RecordCheck(userID, result.Allowed)
			if result.FailedOpen {
				a.metrics.RecordFailOpen()
			}
		}

		if !result.Allowed {
			a.audit(r, userID, action, result, time.Since(start), http.StatusTooManyRequests)
			a.reject(w, result)
			return
		}

		setRateHeaders(w.Header(), result)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		a.audit(r, userID, action, result, time.Since(start), recorder.status)
	})
}

// ActionFor maps a request path to its action class via longest-prefix
// match. Unmatched paths get the default action.
func (a *Admission) ActionFor(path string) core.Action {
	for _, route := range a.routes {
		if strings.HasPrefix(path, route.prefix) {
			return route.action
		}
	}
	return core.DefaultAction
}

func (a *Admission) isExcluded(path string) bool {
	for _, prefix := range a.excluded {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// audit records the admission decision. Unconditional per request;
// recorder failures are logged inside the recorder and never surface
// to the client.
func (a *Admission) audit(r *http.Request, userID string, action core.Action, result core.Result, elapsed time.Duration, status int) {
	_, _ = a.recorder.LogRequest(r.Context(), audit.Entry{
		UserID:         userID,
		Endpoint:       r.URL.Path,
		Method:         r.Method,
		Action:         action,
		Result:         result,
		ResponseTime:   elapsed,
		HTTPStatusCode: &status,
		IPAddress:      clientIP(r),
		UserAgent:      r.UserAgent(),
	})
}

// rejectBody is the structured 429 payload.
type rejectBody struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	RetryAfter   int    `json:"retry_after"`
	Limit        uint   `json:"limit"`
	Window       uint   `json:"window"`
	CurrentCount uint   `json:"current_count"`
}

// reject writes the 429 response with retry guidance. A denied request
// always gets machine-readable limit parameters, never a bare error.
func (a *Admission) reject(w http.ResponseWriter, result core.Result) {
	retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	setRateHeaders(w.Header(), result)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(rejectBody{
		Error:        "Rate limit exceeded",
		Message:      "Too many requests. Please try again in " + strconv.Itoa(retryAfter) + " seconds.",
		RetryAfter:   retryAfter,
		Limit:        result.MaxRequests,
		Window:       result.WindowSeconds,
		CurrentCount: result.CurrentCount,
	})
}

// setRateHeaders attaches the standard X-RateLimit-* headers.
func setRateHeaders(h http.Header, result core.Result) {
	h.Set("X-RateLimit-Limit", strconv.FormatUint(uint64(result.MaxRequests), 10))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(int(result.TokensAvailable)))

	reset := time.Now().Add(result.RetryAfter)
	if result.Allowed {
		reset = time.Now().Add(time.Duration(result.WindowSeconds) * time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

// clientIP extracts the client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// statusRecorder captures the downstream handler's status code for the
// audit record.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
