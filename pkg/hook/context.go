// Package hook provides the four lifecycle extension points wrapped around
// agent execution and tool invocation, with fail-open dispatch semantics.
package hook

import (
	"regexp"
	"sync"
	"time"
)

// MetaKeyTenantID is the metadata key carrying the resolved tenant.
// Tenant identity travels inside the context metadata rather than any
// goroutine-local state so it survives work moving between goroutines.
const MetaKeyTenantID = "tenantId"

// Context is the agent-level hook context, shared by every hook invocation
// within one request. ToolsUsed and metadata tolerate concurrent mutation
// from parallel tool branches.
type Context struct {
	RunID      string
	UserID     string
	UserEmail  string
	UserPrompt string
	Channel    string
	StartedAt  time.Time

	mu        sync.RWMutex
	toolsUsed []string
	metadata  map[string]any
}

// NewContext creates a hook context for one run. userID defaults to
// "anonymous" when empty.
func NewContext(runID, userID, prompt string) *Context {
	if userID == "" {
		userID = "anonymous"
	}
	return &Context{
		RunID:      runID,
		UserID:     userID,
		UserPrompt: prompt,
		StartedAt:  time.Now(),
		metadata:   make(map[string]any),
	}
}

// AddToolUsed appends a tool name to the run's tool list. Append-only.
func (c *Context) AddToolUsed(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsUsed = append(c.toolsUsed, name)
}

// ToolsUsed returns a copy of the tools recorded so far.
func (c *Context) ToolsUsed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.toolsUsed))
	copy(out, c.toolsUsed)
	return out
}

// SetMeta stores a metadata value.
func (c *Context) SetMeta(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Meta returns a metadata value and whether it was present.
func (c *Context) Meta(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// MetaString returns a metadata value as a string ("" when absent or not a
// string).
func (c *Context) MetaString(key string) string {
	v, ok := c.Meta(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MetaSnapshot returns a copy of the metadata map. Emitters read through
// snapshots so they never hold the context lock while publishing.
func (c *Context) MetaSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// MergeMeta copies all entries of m into the metadata map.
func (c *Context) MergeMeta(m map[string]any) {
	if len(m) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range m {
		c.metadata[k] = v
	}
}

// TenantID returns the tenant recorded by the resolver, or "" before
// resolution.
func (c *Context) TenantID() string {
	return c.MetaString(MetaKeyTenantID)
}

// ToolCallContext scopes one tool invocation. CallIndex is the 0-based
// position of this invocation within the run.
type ToolCallContext struct {
	Agent      *Context
	ToolName   string
	ToolParams map[string]any
	CallIndex  int
}

var sensitiveParamKey = regexp.MustCompile(`(?i)password|token|secret|key|credential|apikey`)

// MaskedParams returns a copy of the tool parameters with values of
// sensitive-looking keys redacted. Safe to log and to hand to observers.
func (tc *ToolCallContext) MaskedParams() map[string]any {
	out := make(map[string]any, len(tc.ToolParams))
	for k, v := range tc.ToolParams {
		if sensitiveParamKey.MatchString(k) {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}

// ToolResult is the observed outcome of one tool call, passed to
// AfterToolCall hooks.
type ToolResult struct {
	Content    string
	IsError    bool
	DurationMs int64
}

// Response is the observed outcome of one agent run, passed to
// AfterAgentComplete hooks.
type Response struct {
	Success      bool
	Output       string
	ErrorCode    string
	ErrorMessage string
	DurationMs   int64
}
