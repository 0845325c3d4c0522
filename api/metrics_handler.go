package api

import (
	"encoding/json"
	"net/http"

	"github.com/yourusername/quotaguard/metrics"
)

// SnapshotProvider supplies point-in-time admission metrics.
type SnapshotProvider interface {
	GetSnapshot() *metrics.Snapshot
}

// MetricsHandler serves the in-process admission counters, including
// the fail-open count operators should alert on.
type MetricsHandler struct {
	provider SnapshotProvider
}

// NewMetricsHandler creates a metrics handler over the given provider.
func NewMetricsHandler(provider SnapshotProvider) *MetricsHandler {
	return &MetricsHandler{provider: provider}
}

// ServeHTTP handles GET /metrics.
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.provider.GetSnapshot())
}
