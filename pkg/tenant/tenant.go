// Package tenant provides tenant identity, quota records, request-time
// tenant resolution, and the quota enforcement hook.
package tenant

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// DefaultTenantID is the tenant used when a request carries no identity.
const DefaultTenantID = "default"

// Plan tiers.
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// Statuses.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

// Quota is the per-month ceiling set for a tenant. Enterprise tenants are
// effectively unbounded (max int64).
type Quota struct {
	MaxRequestsPerMonth int64 `json:"max_requests_per_month"`
	MaxTokensPerMonth   int64 `json:"max_tokens_per_month"`
	MaxUsers            int64 `json:"max_users"`
}

// defaultQuotas per plan, applied when a tenant is created without one.
var defaultQuotas = map[Plan]Quota{
	PlanFree:       {MaxRequestsPerMonth: 1000, MaxTokensPerMonth: 500_000, MaxUsers: 5},
	PlanPro:        {MaxRequestsPerMonth: 50_000, MaxTokensPerMonth: 50_000_000, MaxUsers: 100},
	PlanEnterprise: {MaxRequestsPerMonth: math.MaxInt64, MaxTokensPerMonth: math.MaxInt64, MaxUsers: math.MaxInt64},
}

// DefaultQuotaFor returns the plan's default quota.
func DefaultQuotaFor(plan Plan) Quota {
	if q, ok := defaultQuotas[plan]; ok {
		return q
	}
	return defaultQuotas[PlanFree]
}

// Tenant is one isolated customer of the platform. ID doubles as the slug.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	Status    Status    `json:"status"`
	Quota     Quota     `json:"quota"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the invariants admin mutations must hold.
func (t *Tenant) Validate() error {
	if !slugPattern.MatchString(t.ID) {
		return fmt.Errorf("invalid tenant id %q: must match %s", t.ID, slugPattern.String())
	}
	switch t.Plan {
	case PlanFree, PlanPro, PlanEnterprise:
	default:
		return fmt.Errorf("invalid plan %q", t.Plan)
	}
	switch t.Status {
	case StatusActive, StatusSuspended:
	default:
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if t.Quota.MaxRequestsPerMonth < 0 || t.Quota.MaxTokensPerMonth < 0 || t.Quota.MaxUsers < 0 {
		return fmt.Errorf("quota fields must be non-negative")
	}
	return nil
}

// NewDefaultTenant returns the built-in tenant every store is seeded with.
// It is enterprise-tier so unattributed traffic is never quota-rejected.
func NewDefaultTenant() Tenant {
	now := time.Now()
	return Tenant{
		ID:        DefaultTenantID,
		Name:      "Default",
		Plan:      PlanEnterprise,
		Status:    StatusActive,
		Quota:     DefaultQuotaFor(PlanEnterprise),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
