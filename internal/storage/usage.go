package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// UsageRecord represents a single operation invocation
type UsageRecord struct {
	Tool       string
	ParamsJSON string
	ClientID   string
	Status     string // "ok" or an error code
	DurationMs int64
	At         time.Time
}

// ToolUsage is the aggregate for one operation over a period.
type ToolUsage struct {
	Tool       string  `json:"tool" yaml:"tool"`
	Calls      int64   `json:"calls" yaml:"calls"`
	Errors     int64   `json:"errors" yaml:"errors"`
	Clients    int64   `json:"clients" yaml:"clients"`
	AvgLatency float64 `json:"avgLatencyMs" yaml:"avgLatencyMs"`
	MaxLatency int64   `json:"maxLatencyMs" yaml:"maxLatencyMs"`
}

// ErrorRate returns the share of calls that failed.
func (u ToolUsage) ErrorRate() float64 {
	if u.Calls == 0 {
		return 0
	}
	return float64(u.Errors) / float64(u.Calls)
}

// UsageLog persists operation invocations.
type UsageLog struct {
	db *DB
}

// NewUsageLog creates a usage log over db.
func NewUsageLog(db *DB) *UsageLog {
	return &UsageLog{db: db}
}

// Record appends one invocation.
func (l *UsageLog) Record(ctx context.Context, rec UsageRecord) error {
	if rec.ParamsJSON == "" {
		rec.ParamsJSON = "{}"
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := l.db.exec(ctx, l.db.sb.
		Insert("usage_log").
		Columns("tool", "params_json", "client_id", "status", "duration_ms", "at").
		Values(rec.Tool, rec.ParamsJSON, rec.ClientID, rec.Status, rec.DurationMs, rec.At.UnixMilli()))
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Stats aggregates invocations since the given time, busiest operation first.
func (l *UsageLog) Stats(ctx context.Context, since time.Time) ([]ToolUsage, error) {
	rows, err := l.db.query(ctx, l.db.sb.
		Select(
			"tool",
			"count(*)",
			"sum(CASE WHEN status = 'ok' THEN 0 ELSE 1 END)",
			"count(DISTINCT client_id)",
			"avg(duration_ms)",
			"max(duration_ms)",
		).
		From("usage_log").
		Where(sq.GtOrEq{"at": since.UnixMilli()}).
		GroupBy("tool").
		OrderBy("count(*) DESC", "tool"))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	out := []ToolUsage{}
	for rows.Next() {
		var u ToolUsage
		if err := rows.Scan(&u.Tool, &u.Calls, &u.Errors, &u.Clients, &u.AvgLatency, &u.MaxLatency); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Recent returns the latest invocations, newest first.
func (l *UsageLog) Recent(ctx context.Context, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.query(ctx, l.db.sb.
		Select("tool", "params_json", "client_id", "status", "duration_ms", "at").
		From("usage_log").
		OrderBy("at DESC", "id DESC").
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var at int64
		if err := rows.Scan(&r.Tool, &r.ParamsJSON, &r.ClientID, &r.Status, &r.DurationMs, &at); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		r.At = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes invocations older than before.
func (l *UsageLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.exec(ctx, l.db.sb.
		Delete("usage_log").
		Where(sq.Lt{"at": before.UnixMilli()}))
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage: %w", err)
	}
	return res.RowsAffected()
}
