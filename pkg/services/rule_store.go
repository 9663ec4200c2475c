package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wardenlabs/warden/pkg/guard"
)

// revisionRefreshInterval bounds how stale the cached guard_rules revision
// may get before a Revision call triggers a background re-read.
const revisionRefreshInterval = 10 * time.Second

// PostgresRuleStore implements guard.RuleStore on the guard_rules table,
// with the same transactional revision protocol as the pricing store.
//
// Revision serves a cached counter; the database is only consulted from a
// background goroutine, never on the caller's path. Local mutations update
// the cache synchronously, so a node always sees its own writes.
type PostgresRuleStore struct {
	db           *sql.DB
	refreshEvery time.Duration

	lastRevision atomic.Int64
	refreshedAt  atomic.Int64 // unix nanos of the last successful read
	refreshing   atomic.Bool
}

// NewPostgresRuleStore creates the store and primes the revision cache.
func NewPostgresRuleStore(ctx context.Context, db *sql.DB) (*PostgresRuleStore, error) {
	s := &PostgresRuleStore{db: db, refreshEvery: revisionRefreshInterval}
	rev, err := readRevision(ctx, db, "guard_rules")
	if err != nil {
		return nil, err
	}
	s.storeRevision(rev)
	return s, nil
}

func (s *PostgresRuleStore) storeRevision(rev int64) {
	s.lastRevision.Store(rev)
	s.refreshedAt.Store(time.Now().UnixNano())
}

// List returns all rules, enabled or not; the rule stage filters.
func (s *PostgresRuleStore) List(ctx context.Context) ([]guard.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, pattern, action, replacement, priority, enabled, created_at
		 FROM guard_rules ORDER BY priority, created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list guard rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []guard.Rule
	for rows.Next() {
		var r guard.Rule
		if err := rows.Scan(&r.ID, &r.Description, &r.Pattern, &r.Action,
			&r.Replacement, &r.Priority, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan guard rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Revision returns the last observed mutation counter. When the cached
// value is older than the refresh interval, one background re-read is
// started; concurrent callers keep serving the cache. Revisions bumped on
// other nodes therefore become visible within roughly one interval.
func (s *PostgresRuleStore) Revision() int64 {
	stale := time.Since(time.Unix(0, s.refreshedAt.Load())) > s.refreshEvery
	if stale && s.refreshing.CompareAndSwap(false, true) {
		go func() {
			defer s.refreshing.Store(false)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			rev, err := readRevision(ctx, s.db, "guard_rules")
			if err != nil {
				// Keep serving the stale value; the next stale read retries.
				s.refreshedAt.Store(time.Now().UnixNano())
				return
			}
			s.storeRevision(rev)
		}()
	}
	return s.lastRevision.Load()
}

// Upsert inserts or replaces a rule and bumps the revision transactionally.
func (s *PostgresRuleStore) Upsert(ctx context.Context, r guard.Rule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guard_rules (id, description, pattern, action, replacement, priority, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   description = EXCLUDED.description,
		   pattern = EXCLUDED.pattern,
		   action = EXCLUDED.action,
		   replacement = EXCLUDED.replacement,
		   priority = EXCLUDED.priority,
		   enabled = EXCLUDED.enabled`,
		r.ID, r.Description, r.Pattern, r.Action, r.Replacement, r.Priority, r.Enabled, r.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert guard rule: %w", err)
	}

	rev, err := bumpRevision(ctx, tx, "guard_rules")
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule change: %w", err)
	}
	s.storeRevision(rev)
	return nil
}

// Delete removes a rule and bumps the revision transactionally.
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM guard_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete guard rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("guard rule %q: %w", id, ErrNotFound)
	}

	rev, err := bumpRevision(ctx, tx, "guard_rules")
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule change: %w", err)
	}
	s.storeRevision(rev)
	return nil
}
