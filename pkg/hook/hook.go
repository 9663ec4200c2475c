package hook

import "context"

// Hook carries the registration attributes shared by all four points.
// Lower Order runs first; disabled hooks are filtered out at registry
// construction.
type Hook interface {
	Name() string
	Order() int
	Enabled() bool
}

// BeforeAgentStart hooks run before the guard pipeline and agent core.
// The first non-Continue result short-circuits the chain.
type BeforeAgentStart interface {
	Hook
	BeforeAgentStart(ctx context.Context, hctx *Context) (Result, error)
}

// BeforeToolCall hooks run before each tool invocation. Reject skips only
// that tool call.
type BeforeToolCall interface {
	Hook
	BeforeToolCall(ctx context.Context, tc *ToolCallContext) (Result, error)
}

// AfterToolCall hooks observe each completed tool invocation. All handlers
// run; errors are swallowed unless FailOnError.
type AfterToolCall interface {
	Hook
	AfterToolCall(ctx context.Context, tc *ToolCallContext, result *ToolResult) error
}

// AfterAgentComplete hooks observe the finished run. Always invoked, even on
// failure paths.
type AfterAgentComplete interface {
	Hook
	AfterAgentComplete(ctx context.Context, hctx *Context, resp *Response) error
}

// FailCloser marks an after-hook whose errors must propagate instead of
// being swallowed.
type FailCloser interface {
	FailOnError() bool
}

// Base provides the common registration attributes; embed it in hook
// implementations.
type Base struct {
	HookName  string
	HookOrder int
	Disabled  bool
}

func (b Base) Name() string  { return b.HookName }
func (b Base) Order() int    { return b.HookOrder }
func (b Base) Enabled() bool { return !b.Disabled }
