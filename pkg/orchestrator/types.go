// Package orchestrator composes the guard pipelines, hook framework,
// tenant resolution, and agent core into the request lifecycle.
package orchestrator

import (
	"context"

	"github.com/wardenlabs/warden/pkg/hook"
)

// Request is one inbound agent request.
type Request struct {
	RunID     string // generated when empty
	UserID    string
	UserEmail string
	Prompt    string
	Channel   string

	// TenantHeader is the explicit X-Tenant-Id value; AmbientTenant is the
	// attribute set by upstream middleware. The resolver picks between them.
	TenantHeader  string
	AmbientTenant string

	// Metadata is merged into the hook context before any hook runs.
	Metadata map[string]any
}

// Response is the terminal outcome of one run.
type Response struct {
	RunID        string   `json:"run_id"`
	Success      bool     `json:"success"`
	Output       string   `json:"output,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
	ToolsUsed    []string `json:"tools_used,omitempty"`
}

// ToolCall is one tool invocation requested by the agent core.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolOutcome is the observed result of one tool branch.
type ToolOutcome struct {
	Name       string
	CallIndex  int
	Content    string
	IsError    bool
	DurationMs int64
}

// ToolRunner executes tool calls on behalf of the agent core, wrapping each
// branch in the before/after tool hooks. Calls in one batch run
// concurrently; outcomes come back in input order.
type ToolRunner interface {
	Run(ctx context.Context, calls []ToolCall) ([]ToolOutcome, error)
}

// AgentCore is the reasoning loop the orchestrator wraps: it receives the
// guarded prompt via the hook context and calls back into the runner for
// tools. The returned string is the raw response, which still passes the
// output guard.
type AgentCore interface {
	Execute(ctx context.Context, hctx *hook.Context, tools ToolRunner) (string, error)
}

// AgentCoreFunc adapts a function to AgentCore.
type AgentCoreFunc func(ctx context.Context, hctx *hook.Context, tools ToolRunner) (string, error)

func (f AgentCoreFunc) Execute(ctx context.Context, hctx *hook.Context, tools ToolRunner) (string, error) {
	return f(ctx, hctx, tools)
}
