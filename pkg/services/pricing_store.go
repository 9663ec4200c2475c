package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wardenlabs/warden/pkg/pricing"
)

// PostgresPricingStore implements pricing.Store on the pricing_records
// table. Mutations bump the 'pricing' row in store_revisions in the same
// transaction, so a revision change is visible exactly when the records are.
type PostgresPricingStore struct {
	db *sql.DB

	// lastRevision caches the most recently observed revision so Revision()
	// can answer during store outages. Stale reads are acceptable; the
	// calculator re-checks on its refresh interval.
	lastRevision atomic.Int64
}

// NewPostgresPricingStore creates the store and primes the revision cache.
func NewPostgresPricingStore(ctx context.Context, db *sql.DB) (*PostgresPricingStore, error) {
	s := &PostgresPricingStore{db: db}
	rev, err := readRevision(ctx, db, "pricing")
	if err != nil {
		return nil, err
	}
	s.lastRevision.Store(rev)
	return s, nil
}

func readRevision(ctx context.Context, db *sql.DB, name string) (int64, error) {
	var rev int64
	err := db.QueryRowContext(ctx,
		`SELECT revision FROM store_revisions WHERE name = $1`, name).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s revision: %w", name, err)
	}
	return rev, nil
}

// List returns all pricing records.
func (s *PostgresPricingStore) List(ctx context.Context) ([]pricing.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, model, valid_from, valid_to,
		        prompt_per_1k, cached_per_1k, completion_per_1k, reasoning_per_1k
		 FROM pricing_records ORDER BY provider, model, valid_from`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pricing.Record
	for rows.Next() {
		var rec pricing.Record
		var validTo sql.NullTime
		if err := rows.Scan(&rec.Provider, &rec.Model, &rec.ValidFrom, &validTo,
			&rec.PromptPer1K, &rec.CachedPer1K, &rec.CompletionPer1K, &rec.ReasoningPer1K); err != nil {
			return nil, fmt.Errorf("failed to scan pricing record: %w", err)
		}
		if validTo.Valid {
			t := validTo.Time
			rec.ValidTo = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Revision returns the current mutation counter. Falls back to the last
// observed value when the store is unreachable.
func (s *PostgresPricingStore) Revision() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rev, err := readRevision(ctx, s.db, "pricing")
	if err != nil {
		return s.lastRevision.Load()
	}
	s.lastRevision.Store(rev)
	return rev
}

// Upsert adds a pricing record and bumps the revision transactionally.
func (s *PostgresPricingStore) Upsert(ctx context.Context, rec pricing.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var validTo any
	if rec.ValidTo != nil {
		validTo = *rec.ValidTo
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pricing_records
		   (provider, model, valid_from, valid_to,
		    prompt_per_1k, cached_per_1k, completion_per_1k, reasoning_per_1k)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Provider, rec.Model, rec.ValidFrom, validTo,
		rec.PromptPer1K, rec.CachedPer1K, rec.CompletionPer1K, rec.ReasoningPer1K); err != nil {
		return fmt.Errorf("failed to insert pricing record: %w", err)
	}

	rev, err := bumpRevision(ctx, tx, "pricing")
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pricing change: %w", err)
	}
	s.lastRevision.Store(rev)
	return nil
}

func bumpRevision(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var rev int64
	err := tx.QueryRowContext(ctx,
		`UPDATE store_revisions SET revision = revision + 1 WHERE name = $1 RETURNING revision`,
		name).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("failed to bump %s revision: %w", name, err)
	}
	return rev, nil
}
