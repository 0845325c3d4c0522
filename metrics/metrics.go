// Package metrics tracks in-process admission statistics: totals,
// per-user breakdowns, and fail-open events. These are operational
// counters for dashboards; the durable per-request history lives in
// the audit store.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks admission decision statistics.
type Metrics struct {
	totalChecks   atomic.Int64
	allowedChecks atomic.Int64
	deniedChecks  atomic.Int64
	failOpens     atomic.Int64

	mu        sync.RWMutex
	userStats map[string]*UserStats
	startTime time.Time
}

// UserStats tracks admission statistics for one user identity.
type UserStats struct {
	UserID        string    `json:"user_id"`
	TotalChecks   int64     `json:"total_checks"`
	AllowedChecks int64     `json:"allowed_checks"`
	DeniedChecks  int64     `json:"denied_checks"`
	FirstCheckAt  time.Time `json:"first_check_at"`
	LastCheckAt   time.Time `json:"last_check_at"`
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		userStats: make(map[string]*UserStats),
		startTime: time.Now(),
	}
}

// RecordCheck records one admission decision.
func (m *Metrics) RecordCheck(userID string, allowed bool) {
	m.totalChecks.Add(1)
	if allowed {
		m.allowedChecks.Add(1)
	} else {
		m.deniedChecks.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.userStats[userID]
	if !exists {
		stats = &UserStats{
			UserID:       userID,
			FirstCheckAt: time.Now(),
		}
		m.userStats[userID] = stats
	}

	stats.TotalChecks++
	if allowed {
		stats.AllowedChecks++
	} else {
		stats.DeniedChecks++
	}
	stats.LastCheckAt = time.Now()
}

// RecordFailOpen records a check that was allowed only because the
// bucket store was unreachable. A climbing value is the health signal
// that enforcement is effectively off.
func (m *Metrics) RecordFailOpen() {
	m.failOpens.Add(1)
}

// Snapshot represents a point-in-time view of admission metrics.
type Snapshot struct {
	TotalChecks   int64        `json:"total_checks"`
	AllowedChecks int64        `json:"allowed_checks"`
	DeniedChecks  int64        `json:"denied_checks"`
	FailOpens     int64        `json:"fail_opens"`
	UniqueUsers   int64        `json:"unique_users"`
	TopUsers      []*UserStats `json:"top_users"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     time.Time    `json:"start_time"`
}

// GetSnapshot returns a snapshot of current metrics, with the ten
// busiest users by check count.
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topUsers := make([]*UserStats, 0, len(m.userStats))
	for _, stats := range m.userStats {
		copied := *stats
		topUsers = append(topUsers, &copied)
	}

	sort.Slice(topUsers, func(i, j int) bool {
		return topUsers[i].TotalChecks > topUsers[j].TotalChecks
	})
	if len(topUsers) > 10 {
		topUsers = topUsers[:10]
	}

	return &Snapshot{
		TotalChecks:   m.totalChecks.Load(),
		AllowedChecks: m.allowedChecks.Load(),
		DeniedChecks:  m.deniedChecks.Load(),
		FailOpens:     m.failOpens.Load(),
		UniqueUsers:   int64(len(m.userStats)),
		TopUsers:      topUsers,
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		StartTime:     m.startTime,
	}
}
