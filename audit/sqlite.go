package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/yourusername/quotaguard/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS rate_limit_audits (
	id                         TEXT PRIMARY KEY,
	user_id                    TEXT NOT NULL,
	timestamp                  INTEGER NOT NULL,
	endpoint                   TEXT NOT NULL,
	method                     TEXT NOT NULL,
	action                     TEXT NOT NULL,
	status                     TEXT NOT NULL,
	allowed                    INTEGER NOT NULL,
	tokens_requested           INTEGER NOT NULL,
	tokens_available           REAL NOT NULL,
	tokens_consumed            INTEGER NOT NULL,
	rate_limit_key             TEXT NOT NULL,
	window_seconds             INTEGER NOT NULL,
	max_requests               INTEGER NOT NULL,
	current_request_count      INTEGER NOT NULL,
	provider_prompt_tokens     INTEGER,
	provider_completion_tokens INTEGER,
	provider_total_tokens      INTEGER,
	provider_model             TEXT,
	estimated_cost_cents       REAL,
	response_time_ms           REAL NOT NULL,
	http_status_code           INTEGER,
	is_suspicious              INTEGER NOT NULL,
	alert_triggered            INTEGER NOT NULL,
	alert_reason               TEXT,
	ip_address                 TEXT,
	user_agent                 TEXT,
	metadata                   TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audits_user_action_time
	ON rate_limit_audits (user_id, action, timestamp);
CREATE INDEX IF NOT EXISTS idx_audits_time
	ON rate_limit_audits (timestamp);
CREATE INDEX IF NOT EXISTS idx_audits_suspicious
	ON rate_limit_audits (is_suspicious, timestamp);
`

// SQLiteStore persists audit records in a SQLite database. The write
// path is one short INSERT per admission check; the detector's
// trailing-window counts hit the (user_id, action, timestamp) index.
type SQLiteStore struct {
	pool *sqlitex.Pool
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) the audit database at
// path. Use ":memory:" in tests; the pool then holds a single
// connection, since each in-memory connection is an independent
// database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	poolSize := 4
	if path == ":memory:" {
		poolSize = 1
		// sqlitex.NewPool rejects the bare ":memory:" DSN; this is the
		// spelling its error message prescribes for in-memory databases.
		path = "file::memory:?mode=memory&cache=shared"
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("audit store: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit store: opening %s: %w", path, err)
	}

	return &SQLiteStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// Insert appends one audit record.
func (s *SQLiteStore) Insert(ctx context.Context, record *Record) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit store: take: %w", err)
	}
	defer s.pool.Put(conn)

	metadata := "{}"
	if len(record.Metadata) > 0 {
		data, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("audit store: marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	err = sqlitex.Execute(conn, `INSERT INTO rate_limit_audits
		(id, user_id, timestamp, endpoint, method, action, status, allowed,
		 tokens_requested, tokens_available, tokens_consumed, rate_limit_key,
		 window_seconds, max_requests, current_request_count,
		 provider_prompt_tokens, provider_completion_tokens,
		 provider_total_tokens, provider_model, estimated_cost_cents,
		 response_time_ms, http_status_code, is_suspicious, alert_triggered,
		 alert_reason, ip_address, user_agent, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.ID,
				record.UserID,
				record.Timestamp.UnixMicro(),
				record.Endpoint,
				record.Method,
				string(record.Action),
				string(record.Status),
				boolToInt(record.Allowed),
				record.TokensRequested,
				record.TokensAvailable,
				record.TokensConsumed,
				record.RateLimitKey,
				record.WindowSeconds,
				record.MaxRequests,
				record.CurrentRequestCount,
				nullableInt(record.ProviderPromptTokens),
				nullableInt(record.ProviderCompletionTokens),
				nullableInt(record.ProviderTotalTokens),
				nullableString(record.ProviderModel),
				nullableFloat(record.EstimatedCostCents),
				record.ResponseTimeMS,
				nullableInt(record.HTTPStatusCode),
				boolToInt(record.IsSuspicious),
				boolToInt(record.AlertTriggered),
				record.AlertReason,
				record.IPAddress,
				record.UserAgent,
				metadata,
			},
		})
	if err != nil {
		return fmt.Errorf("audit store: insert: %w", err)
	}
	return nil
}

// Count counts records matching the filter.
func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("audit store: take: %w", err)
	}
	defer s.pool.Put(conn)

	where, args := filterClause(filter)
	query := "SELECT COUNT(*) FROM rate_limit_audits" + where

	var count int
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("audit store: count: %w", err)
	}
	return count, nil
}

// Query returns records matching the filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit store: take: %w", err)
	}
	defer s.pool.Put(conn)

	where, args := filterClause(filter)
	query := `SELECT id, user_id, timestamp, endpoint, method, action, status,
		allowed, tokens_requested, tokens_available, tokens_consumed,
		rate_limit_key, window_seconds, max_requests, current_request_count,
		provider_prompt_tokens, provider_completion_tokens,
		provider_total_tokens, provider_model, estimated_cost_cents,
		response_time_ms, http_status_code, is_suspicious, alert_triggered,
		alert_reason, ip_address, user_agent, metadata
		FROM rate_limit_audits` + where + " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit store: query: %w", err)
	}
	return records, nil
}

// UserStatistics aggregates one user's history over [since, until].
func (s *SQLiteStore) UserStatistics(ctx context.Context, userID string, since, until time.Time) (*Statistics, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit store: take: %w", err)
	}
	defer s.pool.Put(conn)

	stats := &Statistics{
		UserID:   userID,
		Since:    since,
		Until:    until,
		ByAction: make(map[core.Action]ActionStats),
	}

	err = sqlitex.Execute(conn, `SELECT
			COUNT(*),
			COALESCE(SUM(allowed), 0),
			COALESCE(SUM(provider_total_tokens), 0),
			COALESCE(SUM(estimated_cost_cents), 0),
			COALESCE(SUM(alert_triggered), 0),
			COALESCE(AVG(NULLIF(response_time_ms, 0)), 0)
		FROM rate_limit_audits
		WHERE user_id = ? AND timestamp >= ? AND timestamp <= ?`,
		&sqlitex.ExecOptions{
			Args: []any{userID, since.UnixMicro(), until.UnixMicro()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.TotalRequests = stmt.ColumnInt(0)
				stats.AllowedRequests = stmt.ColumnInt(1)
				stats.ProviderTokens = stmt.ColumnInt(2)
				stats.EstimatedCostUSD = stmt.ColumnFloat(3) / 100
				stats.AlertsTriggered = stmt.ColumnInt(4)
				stats.AvgResponseTimeMS = stmt.ColumnFloat(5)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit store: statistics: %w", err)
	}
	stats.BlockedRequests = stats.TotalRequests - stats.AllowedRequests

	err = sqlitex.Execute(conn, `SELECT action, COUNT(*), COALESCE(SUM(allowed), 0)
		FROM rate_limit_audits
		WHERE user_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY action`,
		&sqlitex.ExecOptions{
			Args: []any{userID, since.UnixMicro(), until.UnixMicro()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total := stmt.ColumnInt(1)
				allowed := stmt.ColumnInt(2)
				stats.ByAction[core.Action(stmt.ColumnText(0))] = ActionStats{
					Total:   total,
					Allowed: allowed,
					Blocked: total - allowed,
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit store: statistics by action: %w", err)
	}

	return stats, nil
}

// TopConsumers lists the heaviest users since the given time.
func (s *SQLiteStore) TopConsumers(ctx context.Context, action core.Action, since time.Time, limit int) ([]Consumer, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit store: take: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT user_id, COUNT(*),
		COALESCE(SUM(provider_total_tokens), 0),
		COALESCE(SUM(estimated_cost_cents), 0)
		FROM rate_limit_audits WHERE timestamp >= ?`
	args := []any{since.UnixMicro()}
	if action != "" {
		query += " AND action = ?"
		args = append(args, string(action))
	}
	query += fmt.Sprintf(" GROUP BY user_id ORDER BY COUNT(*) DESC LIMIT %d", limit)

	var consumers []Consumer
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			consumers = append(consumers, Consumer{
				UserID:       stmt.ColumnText(0),
				RequestCount: stmt.ColumnInt(1),
				TotalTokens:  stmt.ColumnInt(2),
				TotalCostUSD: stmt.ColumnFloat(3) / 100,
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit store: top consumers: %w", err)
	}
	return consumers, nil
}

// filterClause builds the WHERE clause for Count and Query.
func filterClause(filter Filter) (string, []any) {
	var conds []string
	var args []any

	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(filter.Action))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UnixMicro())
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until.UnixMicro())
	}
	if filter.SuspiciousOnly {
		conds = append(conds, "is_suspicious = 1")
	}
	if filter.DeniedOnly {
		conds = append(conds, "allowed = 0")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanRecord reads one row into a Record.
func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	record := Record{
		ID:                  stmt.ColumnText(0),
		UserID:              stmt.ColumnText(1),
		Timestamp:           time.UnixMicro(stmt.ColumnInt64(2)).UTC(),
		Endpoint:            stmt.ColumnText(3),
		Method:              stmt.ColumnText(4),
		Action:              core.Action(stmt.ColumnText(5)),
		Status:              RecordStatus(stmt.ColumnText(6)),
		Allowed:             stmt.ColumnInt(7) == 1,
		TokensRequested:     stmt.ColumnInt(8),
		TokensAvailable:     stmt.ColumnFloat(9),
		TokensConsumed:      stmt.ColumnInt(10),
		RateLimitKey:        stmt.ColumnText(11),
		WindowSeconds:       uint(stmt.ColumnInt64(12)),
		MaxRequests:         uint(stmt.ColumnInt64(13)),
		CurrentRequestCount: uint(stmt.ColumnInt64(14)),
		ResponseTimeMS:      stmt.ColumnFloat(20),
		IsSuspicious:        stmt.ColumnInt(22) == 1,
		AlertTriggered:      stmt.ColumnInt(23) == 1,
		AlertReason:         stmt.ColumnText(24),
		IPAddress:           stmt.ColumnText(25),
		UserAgent:           stmt.ColumnText(26),
	}

	if !stmt.ColumnIsNull(15) {
		v := stmt.ColumnInt(15)
		record.ProviderPromptTokens = &v
	}
	if !stmt.ColumnIsNull(16) {
		v := stmt.ColumnInt(16)
		record.ProviderCompletionTokens = &v
	}
	if !stmt.ColumnIsNull(17) {
		v := stmt.ColumnInt(17)
		record.ProviderTotalTokens = &v
	}
	if !stmt.ColumnIsNull(18) {
		v := stmt.ColumnText(18)
		record.ProviderModel = &v
	}
	if !stmt.ColumnIsNull(19) {
		v := stmt.ColumnFloat(19)
		record.EstimatedCostCents = &v
	}
	if !stmt.ColumnIsNull(21) {
		v := stmt.ColumnInt(21)
		record.HTTPStatusCode = &v
	}

	if metadata := stmt.ColumnText(27); metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
			return Record{}, fmt.Errorf("unmarshal metadata for %s: %w", record.ID, err)
		}
	}

	return record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
