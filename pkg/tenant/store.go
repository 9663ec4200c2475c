package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a tenant id does not exist.
var ErrNotFound = errors.New("tenant not found")

// Store holds tenant records. Read-heavy; mutations go through the store so
// callers never hand-edit records.
type Store interface {
	Get(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	Create(ctx context.Context, t Tenant) error
	Update(ctx context.Context, t Tenant) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store seeded with the default tenant.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryStore creates a store containing the default tenant.
func NewMemoryStore() *MemoryStore {
	def := NewDefaultTenant()
	return &MemoryStore{tenants: map[string]Tenant{def.ID: def}}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return Tenant{}, fmt.Errorf("tenant %q: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, t Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tenants[t.ID]; exists {
		return fmt.Errorf("tenant %q already exists", t.ID)
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tenants[t.ID] = t
	return nil
}

func (s *MemoryStore) Update(_ context.Context, t Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tenants[t.ID]
	if !ok {
		return fmt.Errorf("tenant %q: %w", t.ID, ErrNotFound)
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now()
	s.tenants[t.ID] = t
	return nil
}

// Delete removes a tenant. The default tenant cannot be deleted.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if id == DefaultTenantID {
		return fmt.Errorf("the default tenant cannot be deleted")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[id]; !ok {
		return fmt.Errorf("tenant %q: %w", id, ErrNotFound)
	}
	delete(s.tenants, id)
	return nil
}
