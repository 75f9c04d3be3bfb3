// Package history persists the append-only delivery audit trail and emits
// real-time delivery-status events. Both writes are best-effort: a failure is
// logged and never affects the delivery outcome already determined by the
// dispatcher.
package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"chainalert/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx, so the
// repository works inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides data access for the alert_history table.
type Repository struct {
	db DBTX
}

// NewRepository creates a Repository backed by the given connection.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the alert_history table and the secondary indexes that
// back dashboard queries. Idempotent; called once at startup.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_history (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
			channel TEXT NOT NULL,
			alert_type TEXT,
			severity TEXT,
			title TEXT,
			description TEXT,
			alert_hash TEXT,
			delivery_status TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			processing_time_ms DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_history_timestamp
			ON alert_history (timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_history_channel
			ON alert_history (channel, delivery_status)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("history: ensure schema: %w", err)
		}
	}
	return nil
}

// Insert appends one audit row. Free-text fields are capped so a single
// oversized alert cannot bloat the table.
func (r *Repository) Insert(ctx context.Context, rec *types.HistoryRecord) error {
	var errMsg any
	if rec.ErrorMessage != "" {
		errMsg = types.Truncate(rec.ErrorMessage, 500)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO alert_history
		 (timestamp, channel, alert_type, severity, title, description, alert_hash,
		  delivery_status, retry_count, error_message, processing_time_ms)
		 VALUES (COALESCE($1, now()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		nilIfZeroTime(rec),
		rec.Channel,
		rec.AlertType,
		string(rec.Severity),
		types.Truncate(rec.Title, 200),
		types.Truncate(rec.Description, 500),
		rec.Fingerprint,
		string(rec.DeliveryStatus),
		rec.RetryCount,
		errMsg,
		rec.ProcessingTimeMS,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// CountByStatus returns delivered/failed row counts for one destination.
// Used by the stats CLI surface.
func (r *Repository) CountByStatus(ctx context.Context, channel string, status types.DeliveryStatus) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM alert_history WHERE channel = $1 AND delivery_status = $2`,
		channel, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("history: count by status: %w", err)
	}
	return n, nil
}

func nilIfZeroTime(rec *types.HistoryRecord) any {
	if rec.Timestamp.IsZero() {
		return nil
	}
	return rec.Timestamp
}
