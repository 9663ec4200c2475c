package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wardenlabs/warden/pkg/metric"
)

// PostgresEventStore persists drained metric event batches into the
// metric_events table. Implements metric.EventStore and the retention
// service's cleaner.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates an event store on the given handle.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// BatchInsert writes the batch in a single transaction, all-or-nothing.
// The writer discards the batch on error; events are lossy past the buffer.
func (s *PostgresEventStore) BatchInsert(ctx context.Context, events []metric.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metric_events (event_id, tenant_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		meta := ev.EventMeta()
		if _, err := stmt.ExecContext(ctx,
			meta.EventID, meta.TenantID, string(ev.EventType()), payload, meta.Timestamp); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", meta.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// DeleteEventsBefore removes events authored before the cutoff. Used by the
// retention loop.
func (s *PostgresEventStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metric_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return res.RowsAffected()
}

// StoredEvent is one persisted metric event row.
type StoredEvent struct {
	EventID   string          `json:"event_id"`
	TenantID  string          `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecentEvents returns the newest events, optionally filtered by tenant,
// ordered by authoring time descending.
func (s *PostgresEventStore) RecentEvents(ctx context.Context, tenantID string, limit int) ([]StoredEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT event_id, tenant_id, event_type, payload, created_at
		FROM metric_events`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.EventID, &ev.TenantID, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
