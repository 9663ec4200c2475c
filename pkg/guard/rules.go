package guard

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Rule actions.
const (
	RuleActionBlock = "block"
	RuleActionMask  = "mask"
)

// Rule is one admin-managed output policy rule.
type Rule struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Pattern     string    `json:"pattern"`
	Action      string    `json:"action"` // block or mask
	Replacement string    `json:"replacement,omitempty"`
	Priority    int       `json:"priority"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// RuleStore holds output-guard rules and supports runtime mutation. Every
// mutation bumps Revision monotonically; readers cache rule lists against
// (cachedAt, revision) pairs. Revision is consulted on every evaluation and
// must not block on I/O.
type RuleStore interface {
	List(ctx context.Context) ([]Rule, error)
	Revision() int64
}

// MemoryRuleStore is an in-memory RuleStore for tests and single-node
// deployments.
type MemoryRuleStore struct {
	mu       sync.RWMutex
	rules    map[string]Rule
	revision int64
}

// NewMemoryRuleStore creates an empty store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]Rule)}
}

// List returns all rules (enabled or not) in unspecified order.
func (s *MemoryRuleStore) List(_ context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

// Revision returns the mutation counter.
func (s *MemoryRuleStore) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Upsert inserts or replaces a rule and bumps the revision.
func (s *MemoryRuleStore) Upsert(r Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.rules[r.ID] = r
	s.revision++
}

// Delete removes a rule and bumps the revision. Deleting a missing rule is
// a no-op that still bumps (callers don't need to care).
func (s *MemoryRuleStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	s.revision++
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// DefaultRuleRefreshInterval bounds rule-cache staleness absent a revision
// bump.
const DefaultRuleRefreshInterval = 30 * time.Second

// ruleSnapshot is one immutable compiled rule set, keyed by fetch time and
// store revision.
type ruleSnapshot struct {
	compiled []compiledRule
	cachedAt time.Time
	revision int64
}

// RuleStage (output, order 2) evaluates the dynamic rule store against the
// response. Rules are fetched through a double-keyed cache: a snapshot is
// valid only while younger than the refresh interval and at the store's
// current revision. The valid-snapshot path takes no locks; the mutex
// serializes refreshes only, so a slow store List never blocks evaluations
// that can serve from the cache.
type RuleStage struct {
	store           RuleStore
	refreshInterval time.Duration

	snap      atomic.Pointer[ruleSnapshot]
	refreshMu sync.Mutex
}

// NewRuleStage builds the stage over the given store.
func NewRuleStage(store RuleStore, refreshInterval time.Duration) *RuleStage {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRuleRefreshInterval
	}
	return &RuleStage{store: store, refreshInterval: refreshInterval}
}

func (s *RuleStage) Name() string  { return "DynamicRules" }
func (s *RuleStage) Order() int    { return 2 }
func (s *RuleStage) Enabled() bool { return true }

// Inspect applies the enabled rules in (priority asc, createdAt asc) order.
// Block rules reject; mask rules modify and continue to the next rule.
func (s *RuleStage) Inspect(ctx context.Context, cmd *OutputCommand) OutputResult {
	rules, err := s.currentRules(ctx)
	if err != nil {
		// Fail-close: a rule store outage must not let unchecked output
		// through.
		return OutputRejected{
			Reason:   fmt.Sprintf("rule store unavailable: %v", err),
			Category: CategorySystemError,
		}
	}

	content := cmd.Content
	masked := false
	for _, cr := range rules {
		if !cr.re.MatchString(content) {
			continue
		}
		if cr.rule.Action == RuleActionBlock {
			return OutputRejected{
				Reason:   fmt.Sprintf("blocked by rule %s", cr.rule.ID),
				Category: CategoryPolicyRule,
			}
		}
		replacement := cr.rule.Replacement
		if replacement == "" {
			replacement = "[MASKED]"
		}
		content = cr.re.ReplaceAllString(content, replacement)
		masked = true
	}
	if masked {
		return OutputModified{Content: content, Reason: "policy rule mask"}
	}
	return OutputAllowed{}
}

// currentRules returns the cached compiled rules, refreshing when the cache
// is stale or the store revision moved. Only the refresh itself takes the
// mutex, with a re-check after acquiring it in case another caller refreshed
// first.
func (s *RuleStage) currentRules(ctx context.Context) ([]compiledRule, error) {
	if snap := s.snap.Load(); s.snapshotValid(snap) {
		return snap.compiled, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if snap := s.snap.Load(); s.snapshotValid(snap) {
		return snap.compiled, nil
	}

	revision := s.store.Revision()
	rules, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	enabled := rules[:0]
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Priority != enabled[j].Priority {
			return enabled[i].Priority < enabled[j].Priority
		}
		return enabled[i].CreatedAt.Before(enabled[j].CreatedAt)
	})

	compiled := make([]compiledRule, 0, len(enabled))
	for _, r := range enabled {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			// Skip invalid patterns rather than poisoning the whole set.
			continue
		}
		compiled = append(compiled, compiledRule{rule: r, re: re})
	}

	s.snap.Store(&ruleSnapshot{
		compiled: compiled,
		cachedAt: time.Now(),
		revision: revision,
	})
	return compiled, nil
}

func (s *RuleStage) snapshotValid(snap *ruleSnapshot) bool {
	return snap != nil &&
		time.Since(snap.cachedAt) <= s.refreshInterval &&
		s.store.Revision() == snap.revision
}
