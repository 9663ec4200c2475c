package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wardenlabs/warden/pkg/tenant"
)

// PostgresTenantStore implements tenant.Store on the tenants table.
type PostgresTenantStore struct {
	db *sql.DB
}

// NewPostgresTenantStore creates the store and ensures the default tenant
// row exists.
func NewPostgresTenantStore(ctx context.Context, db *sql.DB) (*PostgresTenantStore, error) {
	s := &PostgresTenantStore{db: db}
	def := tenant.NewDefaultTenant()
	_, err := db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, plan, status, max_requests_per_month, max_tokens_per_month, max_users, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		def.ID, def.Name, def.Plan, def.Status,
		def.Quota.MaxRequestsPerMonth, def.Quota.MaxTokensPerMonth, def.Quota.MaxUsers,
		def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to seed default tenant: %w", err)
	}
	return s, nil
}

const tenantColumns = `id, name, plan, status, max_requests_per_month, max_tokens_per_month, max_users, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (tenant.Tenant, error) {
	var t tenant.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Plan, &t.Status,
		&t.Quota.MaxRequestsPerMonth, &t.Quota.MaxTokensPerMonth, &t.Quota.MaxUsers,
		&t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Get returns one tenant, or tenant.ErrNotFound.
func (s *PostgresTenantStore) Get(ctx context.Context, id string) (tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, fmt.Errorf("tenant %q: %w", id, tenant.ErrNotFound)
	}
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// List returns all tenants ordered by id.
func (s *PostgresTenantStore) List(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts a validated tenant; duplicates return ErrAlreadyExists.
func (s *PostgresTenantStore) Create(ctx context.Context, t tenant.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Name, t.Plan, t.Status,
		t.Quota.MaxRequestsPerMonth, t.Quota.MaxTokensPerMonth, t.Quota.MaxUsers,
		now, now)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %q: %w", t.ID, ErrAlreadyExists)
	}
	return nil
}

// Update rewrites a tenant's mutable fields, preserving created_at.
func (s *PostgresTenantStore) Update(ctx context.Context, t tenant.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET name = $2, plan = $3, status = $4,
			max_requests_per_month = $5, max_tokens_per_month = $6, max_users = $7,
			updated_at = $8
		 WHERE id = $1`,
		t.ID, t.Name, t.Plan, t.Status,
		t.Quota.MaxRequestsPerMonth, t.Quota.MaxTokensPerMonth, t.Quota.MaxUsers,
		time.Now())
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %q: %w", t.ID, tenant.ErrNotFound)
	}
	return nil
}

// Delete removes a tenant. The default tenant is undeletable.
func (s *PostgresTenantStore) Delete(ctx context.Context, id string) error {
	if id == tenant.DefaultTenantID {
		return fmt.Errorf("default tenant cannot be deleted")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %q: %w", id, tenant.ErrNotFound)
	}
	return nil
}

// PostgresUsageStore implements tenant.UsageStore on the tenant_usage table.
type PostgresUsageStore struct {
	db *sql.DB
}

// NewPostgresUsageStore creates a usage store on the given handle.
func NewPostgresUsageStore(db *sql.DB) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

func monthColumn(month time.Time) string {
	return month.UTC().Format("2006-01")
}

// MonthUsage returns the accumulated usage for (tenant, month); zero when
// the row does not exist yet.
func (s *PostgresUsageStore) MonthUsage(ctx context.Context, tenantID string, month time.Time) (tenant.Usage, error) {
	var u tenant.Usage
	err := s.db.QueryRowContext(ctx,
		`SELECT requests, tokens FROM tenant_usage WHERE tenant_id = $1 AND month = $2`,
		tenantID, monthColumn(month)).Scan(&u.Requests, &u.Tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Usage{}, nil
	}
	if err != nil {
		return tenant.Usage{}, fmt.Errorf("failed to read usage: %w", err)
	}
	return u, nil
}

// AddUsage atomically increments the month's counters, creating the row on
// first use.
func (s *PostgresUsageStore) AddUsage(ctx context.Context, tenantID string, month time.Time, requests, tokens int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_usage (tenant_id, month, requests, tokens)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, month)
		 DO UPDATE SET requests = tenant_usage.requests + EXCLUDED.requests,
		               tokens = tenant_usage.tokens + EXCLUDED.tokens`,
		tenantID, monthColumn(month), requests, tokens)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	return nil
}
