package metric

import (
	"context"
	"sync"
	"time"
)

// EventStore persists drained event batches to a time-series store.
// BatchInsert is all-or-nothing within a single call; the writer discards
// the batch on error (events are lossy past the buffer by design).
type EventStore interface {
	BatchInsert(ctx context.Context, events []Event) error
}

// CostCalculator estimates the USD cost of an LLM call from token counts.
// Implementations return 0 for unknown (provider, model) pairs rather than
// an error; errors are reserved for lookup failures.
type CostCalculator interface {
	Calculate(provider, model string, at time.Time, promptTokens, cachedTokens, completionTokens, reasoningTokens int64) (float64, error)
}

// DefaultMemoryStoreCap bounds the in-memory event store.
const DefaultMemoryStoreCap = 10_000

// MemoryEventStore keeps the most recent events in memory. It backs
// database-less deployments; older events fall off the front once the cap
// is reached.
type MemoryEventStore struct {
	mu     sync.Mutex
	cap    int
	events []Event
}

// NewMemoryEventStore creates a store keeping at most capacity events.
// capacity <= 0 uses the default.
func NewMemoryEventStore(capacity int) *MemoryEventStore {
	if capacity <= 0 {
		capacity = DefaultMemoryStoreCap
	}
	return &MemoryEventStore{cap: capacity}
}

func (s *MemoryEventStore) BatchInsert(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	if over := len(s.events) - s.cap; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (s *MemoryEventStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
