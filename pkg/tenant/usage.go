package tenant

import (
	"context"
	"sync"
	"time"
)

// Usage is a tenant's consumption within one calendar month.
type Usage struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// UsageStore reads and accumulates per-month usage counters.
type UsageStore interface {
	MonthUsage(ctx context.Context, tenantID string, month time.Time) (Usage, error)
	AddUsage(ctx context.Context, tenantID string, month time.Time, requests, tokens int64) error
}

// MonthKey renders the (tenant, month) key used by usage tables and the
// warning dedup set.
func MonthKey(tenantID string, month time.Time) string {
	return tenantID + "|" + month.UTC().Format("2006-01")
}

// MemoryUsageStore is an in-memory UsageStore.
type MemoryUsageStore struct {
	mu    sync.RWMutex
	usage map[string]Usage
}

// NewMemoryUsageStore creates an empty store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{usage: make(map[string]Usage)}
}

func (s *MemoryUsageStore) MonthUsage(_ context.Context, tenantID string, month time.Time) (Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[MonthKey(tenantID, month)], nil
}

func (s *MemoryUsageStore) AddUsage(_ context.Context, tenantID string, month time.Time, requests, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := MonthKey(tenantID, month)
	u := s.usage[key]
	u.Requests += requests
	u.Tokens += tokens
	s.usage[key] = u
	return nil
}

// DefaultUsageRefreshInterval bounds how stale the quota enforcer's view of
// usage may get.
const DefaultUsageRefreshInterval = 15 * time.Second

type usageEntry struct {
	usage     Usage
	fetchedAt time.Time
}

// UsageCache is a read-through cache over a UsageStore. The quota enforcer
// reads through it so the request path never waits on storage more than
// once per refresh interval per tenant; stale reads are acceptable, a
// single over-quota request slipping through is bounded by the interval.
type UsageCache struct {
	store           UsageStore
	refreshInterval time.Duration

	mu      sync.Mutex
	entries map[string]usageEntry
}

// NewUsageCache builds the cache over the given store.
func NewUsageCache(store UsageStore, refreshInterval time.Duration) *UsageCache {
	if refreshInterval <= 0 {
		refreshInterval = DefaultUsageRefreshInterval
	}
	return &UsageCache{
		store:           store,
		refreshInterval: refreshInterval,
		entries:         make(map[string]usageEntry),
	}
}

// MonthUsage returns the cached usage, refreshing from the store when the
// entry is older than the refresh interval.
func (c *UsageCache) MonthUsage(ctx context.Context, tenantID string, month time.Time) (Usage, error) {
	key := MonthKey(tenantID, month)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && time.Since(entry.fetchedAt) <= c.refreshInterval {
		c.mu.Unlock()
		return entry.usage, nil
	}
	c.mu.Unlock()

	usage, err := c.store.MonthUsage(ctx, tenantID, month)
	if err != nil {
		if ok {
			// A stale read beats an error on the request path.
			return entry.usage, nil
		}
		return Usage{}, err
	}

	c.mu.Lock()
	c.entries[key] = usageEntry{usage: usage, fetchedAt: time.Now()}
	c.mu.Unlock()
	return usage, nil
}

// Invalidate drops the cached entry for the tenant and month.
func (c *UsageCache) Invalidate(tenantID string, month time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, MonthKey(tenantID, month))
}
