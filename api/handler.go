// Package api exposes the operator surface over JSON/HTTP: bucket
// status and resets, audit queries, usage statistics, top consumers,
// and flagged suspicious activity.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/quotaguard/audit"
	"github.com/yourusername/quotaguard/core"
	"github.com/yourusername/quotaguard/pkg/quotaguard"
)

// Handler serves the operator endpoints. These are administrative:
// they read the audit trail and reset buckets, but never sit on the
// per-request admission path.
type Handler struct {
	limiter *quotaguard.Limiter
	audits  audit.Store
	logger  *zap.Logger
}

// NewHandler creates an operator API handler.
func NewHandler(limiter *quotaguard.Limiter, audits audit.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		limiter: limiter,
		audits:  audits,
		logger:  logger,
	}
}

// Register wires the operator routes onto a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ratelimit/users/{id}/status", h.UserStatus)
	mux.HandleFunc("POST /ratelimit/users/{id}/reset", h.ResetUser)
	mux.HandleFunc("GET /ratelimit/users/{id}/statistics", h.UserStatistics)
	mux.HandleFunc("GET /ratelimit/audits", h.Audits)
	mux.HandleFunc("GET /ratelimit/top-consumers", h.TopConsumers)
	mux.HandleFunc("GET /ratelimit/suspicious", h.Suspicious)
	mux.HandleFunc("GET /ratelimit/config", h.Config)
}

// UserStatus returns every action's bucket snapshot for a user,
// without consuming tokens.
func (h *Handler) UserStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		h.sendError(w, http.StatusBadRequest, "missing_user_id", "user id is required")
		return
	}

	status, err := h.limiter.Status(r.Context(), userID)
	if err != nil {
		h.logger.Error("status query failed", zap.String("user_id", userID), zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "status_failed", "could not read bucket status")
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"actions": status,
	})
}

// ResetUser deletes a user's buckets: one action when the action query
// parameter is present, all known actions otherwise.
func (h *Handler) ResetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		h.sendError(w, http.StatusBadRequest, "missing_user_id", "user id is required")
		return
	}

	action := core.Action(r.URL.Query().Get("action"))

	var err error
	if action != "" {
		err = h.limiter.Reset(r.Context(), userID, action)
	} else {
		err = h.limiter.ResetAll(r.Context(), userID)
	}
	if err != nil {
		h.logger.Error("reset failed", zap.String("user_id", userID), zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "reset_failed", "could not reset buckets")
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"action":  action,
		"reset":   true,
	})
}

// UserStatistics aggregates a user's audit history over a trailing
// window (hours query parameter, default 24).
func (h *Handler) UserStatistics(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		h.sendError(w, http.StatusBadRequest, "missing_user_id", "user id is required")
		return
	}

	until := time.Now()
	since := until.Add(-time.Duration(queryInt(r, "hours", 24)) * time.Hour)

	stats, err := h.audits.UserStatistics(r.Context(), userID, since, until)
	if err != nil {
		h.logger.Error("statistics query failed", zap.String("user_id", userID), zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "statistics_failed", "could not aggregate statistics")
		return
	}

	h.sendJSON(w, http.StatusOK, stats)
}

// Audits returns audit records filtered by user, action, time range,
// and suspicious flag.
func (h *Handler) Audits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := audit.Filter{
		UserID:         q.Get("user_id"),
		Action:         core.Action(q.Get("action")),
		SuspiciousOnly: q.Get("suspicious") == "true",
		DeniedOnly:     q.Get("denied") == "true",
		Limit:          queryInt(r, "limit", 100),
		Offset:         queryInt(r, "offset", 0),
	}
	if hours := queryInt(r, "hours", 0); hours > 0 {
		filter.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	records, err := h.audits.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "query_failed", "could not query audit records")
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// TopConsumers lists the heaviest users by request volume over a
// trailing window, with provider token and cost totals.
func (h *Handler) TopConsumers(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Duration(queryInt(r, "hours", 24)) * time.Hour)
	action := core.Action(r.URL.Query().Get("action"))

	consumers, err := h.audits.TopConsumers(r.Context(), action, since, queryInt(r, "limit", 10))
	if err != nil {
		h.logger.Error("top consumers query failed", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "query_failed", "could not rank consumers")
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]any{
		"since":     since,
		"consumers": consumers,
	})
}

// Suspicious returns recently flagged audit records.
func (h *Handler) Suspicious(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Duration(queryInt(r, "hours", 24)) * time.Hour)

	records, err := h.audits.Query(r.Context(), audit.Filter{
		Since:          since,
		SuspiciousOnly: true,
		Limit:          queryInt(r, "limit", 100),
	})
	if err != nil {
		h.logger.Error("suspicious query failed", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "query_failed", "could not query suspicious activity")
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]any{
		"since":   since,
		"count":   len(records),
		"records": records,
	})
}

// Config dumps the active policy table plus the fail-open counter, the
// health signal that enforcement is actually running.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]any{
		"policies":        h.limiter.Registry().Policies(),
		"fail_open_count": h.limiter.FailOpenCount(),
	})
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.sendJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// queryInt reads an integer query parameter with a default. Zero and
// negative values count as unset, so limit=0 never turns into LIMIT 0.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
