// Package pricing maintains time-ranged model pricing records and the cost
// calculator used to enrich token-usage events.
package pricing

import (
	"context"
	"sync"
	"time"
)

// Record is one pricing entry for a (provider, model) pair, valid over
// [ValidFrom, ValidTo). A nil ValidTo means open-ended.
type Record struct {
	Provider        string     `json:"provider"`
	Model           string     `json:"model"`
	ValidFrom       time.Time  `json:"valid_from"`
	ValidTo         *time.Time `json:"valid_to,omitempty"`
	PromptPer1K     float64    `json:"prompt_per_1k"`
	CachedPer1K     float64    `json:"cached_per_1k"`
	CompletionPer1K float64    `json:"completion_per_1k"`
	ReasoningPer1K  float64    `json:"reasoning_per_1k"`
}

// Covers reports whether the record applies at the given instant.
func (r Record) Covers(at time.Time) bool {
	if at.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || at.Before(*r.ValidTo)
}

// Store provides pricing records. Mutations bump Revision monotonically so
// calculator caches can invalidate without ABA on the record list pointer.
type Store interface {
	List(ctx context.Context) ([]Record, error)
	Revision() int64
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []Record
	revision int64
}

// NewMemoryStore creates a store seeded with the given records.
func NewMemoryStore(records ...Record) *MemoryStore {
	s := &MemoryStore{}
	s.records = append(s.records, records...)
	return s
}

// List returns a copy of all records.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Revision returns the current mutation counter.
func (s *MemoryStore) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Upsert adds a pricing record and bumps the revision.
func (s *MemoryStore) Upsert(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.revision++
}

// Replace swaps the full record set and bumps the revision.
func (s *MemoryStore) Replace(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make([]Record, len(records))
	copy(s.records, records)
	s.revision++
}
