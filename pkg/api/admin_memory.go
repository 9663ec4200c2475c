package api

import (
	"context"

	"github.com/wardenlabs/warden/pkg/guard"
	"github.com/wardenlabs/warden/pkg/pricing"
)

// MemoryRuleAdmin adapts guard.MemoryRuleStore to the RuleAdmin surface for
// database-less deployments.
type MemoryRuleAdmin struct {
	Store *guard.MemoryRuleStore
}

func (a MemoryRuleAdmin) List(ctx context.Context) ([]guard.Rule, error) {
	return a.Store.List(ctx)
}

func (a MemoryRuleAdmin) Upsert(_ context.Context, r guard.Rule) error {
	a.Store.Upsert(r)
	return nil
}

func (a MemoryRuleAdmin) Delete(_ context.Context, id string) error {
	a.Store.Delete(id)
	return nil
}

// MemoryPricingAdmin adapts pricing.MemoryStore to the PricingAdmin surface.
type MemoryPricingAdmin struct {
	Store *pricing.MemoryStore
}

func (a MemoryPricingAdmin) List(ctx context.Context) ([]pricing.Record, error) {
	return a.Store.List(ctx)
}

func (a MemoryPricingAdmin) Upsert(_ context.Context, rec pricing.Record) error {
	a.Store.Upsert(rec)
	return nil
}
