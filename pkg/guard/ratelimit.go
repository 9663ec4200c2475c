package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimits is a pair of request ceilings over the two sliding windows.
type RateLimits struct {
	PerMinute int
	PerHour   int
}

// RateLimitConfig tunes the rate-limit stage.
type RateLimitConfig struct {
	Defaults RateLimits
	// TenantOverrides replaces the default limits for specific tenants.
	TenantOverrides map[string]RateLimits
}

// RateLimitStage (order 1) tracks two sliding-window counters per
// (tenantId, userId) key, with 1-minute and 1-hour TTLs. Exceeding either
// window rejects with RATE_LIMITED.
type RateLimitStage struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*slidingWindows
}

type slidingWindows struct {
	minute []time.Time
	hour   []time.Time
}

// NewRateLimitStage builds the stage. A zero limit disables that window.
func NewRateLimitStage(cfg RateLimitConfig) *RateLimitStage {
	return &RateLimitStage{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*slidingWindows),
	}
}

func (s *RateLimitStage) Name() string  { return "RateLimit" }
func (s *RateLimitStage) Order() int    { return 1 }
func (s *RateLimitStage) Enabled() bool { return true }

// Check admits or rejects the request against both windows, recording the
// request when admitted.
func (s *RateLimitStage) Check(_ context.Context, cmd *Command) Result {
	limits := s.limitsFor(cmd.TenantID())
	key := cmd.TenantID() + "|" + cmd.UserID
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &slidingWindows{}
		s.windows[key] = w
	}
	w.minute = prune(w.minute, now.Add(-time.Minute))
	w.hour = prune(w.hour, now.Add(-time.Hour))

	if limits.PerMinute > 0 && len(w.minute) >= limits.PerMinute {
		return Rejected{
			Reason:   fmt.Sprintf("rate limit exceeded: %d requests per minute", limits.PerMinute),
			Category: CategoryRateLimited,
		}
	}
	if limits.PerHour > 0 && len(w.hour) >= limits.PerHour {
		return Rejected{
			Reason:   fmt.Sprintf("rate limit exceeded: %d requests per hour", limits.PerHour),
			Category: CategoryRateLimited,
		}
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	return Allowed{}
}

func (s *RateLimitStage) limitsFor(tenantID string) RateLimits {
	if override, ok := s.cfg.TenantOverrides[tenantID]; ok {
		return override
	}
	return s.cfg.Defaults
}

// prune drops timestamps at or before the cutoff. Slices are kept in
// insertion (chronological) order, so a single scan suffices.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && !ts[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return append(ts[:0], ts[idx:]...)
}
