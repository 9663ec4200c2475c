package pricing

import (
	"context"
	"sync"
	"time"
)

// DefaultRefreshInterval bounds how stale the calculator's record cache may
// be before it re-reads the store even without a revision bump.
const DefaultRefreshInterval = 5 * time.Minute

type modelKey struct {
	provider string
	model    string
}

// Calculator computes estimated LLM cost from token counts. It is on the
// writer's flush path, so lookups go through an in-process cache keyed by
// (cachedAt, revision): a cached read is valid only while it is younger than
// the refresh interval and the store revision has not moved.
type Calculator struct {
	store           Store
	refreshInterval time.Duration

	mu             sync.Mutex
	cachedAt       time.Time
	cachedRevision int64
	byModel        map[modelKey][]Record
}

// NewCalculator creates a calculator over the given store.
func NewCalculator(store Store, refreshInterval time.Duration) *Calculator {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &Calculator{
		store:           store,
		refreshInterval: refreshInterval,
	}
}

// Calculate returns the estimated USD cost for the given token counts at the
// given time. Unknown (provider, model) pairs cost zero; only store read
// failures surface as errors.
func (c *Calculator) Calculate(provider, model string, at time.Time, promptTokens, cachedTokens, completionTokens, reasoningTokens int64) (float64, error) {
	records, err := c.lookup(provider, model)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if !rec.Covers(at) {
			continue
		}
		cost := rec.PromptPer1K*float64(promptTokens)/1000 +
			rec.CachedPer1K*float64(cachedTokens)/1000 +
			rec.CompletionPer1K*float64(completionTokens)/1000 +
			rec.ReasoningPer1K*float64(reasoningTokens)/1000
		return cost, nil
	}
	return 0, nil
}

func (c *Calculator) lookup(provider, model string) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byModel == nil ||
		time.Since(c.cachedAt) > c.refreshInterval ||
		c.store.Revision() != c.cachedRevision {
		if err := c.refreshLocked(); err != nil {
			return nil, err
		}
	}
	return c.byModel[modelKey{provider, model}], nil
}

func (c *Calculator) refreshLocked() error {
	revision := c.store.Revision()
	records, err := c.store.List(context.Background())
	if err != nil {
		return err
	}
	byModel := make(map[modelKey][]Record, len(records))
	for _, rec := range records {
		key := modelKey{rec.Provider, rec.Model}
		byModel[key] = append(byModel[key], rec)
	}
	c.byModel = byModel
	c.cachedAt = time.Now()
	c.cachedRevision = revision
	return nil
}
