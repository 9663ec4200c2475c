package hook

import (
	"context"
	"errors"
	"log/slog"
	"sort"
)

// Registry holds the enabled hooks for each lifecycle point, sorted by order
// at construction. Dispatch is sequential within one request.
//
// Before-points short-circuit on the first non-Continue result and are
// fail-open: a handler error is logged and the chain continues. After-points
// always run every handler; errors are swallowed unless the handler declares
// FailOnError. Cancellation is never swallowed anywhere.
type Registry struct {
	beforeStart   []BeforeAgentStart
	beforeTool    []BeforeToolCall
	afterTool     []AfterToolCall
	afterComplete []AfterAgentComplete
	logger        *slog.Logger
}

// NewRegistry builds a registry from the given hooks, filtering disabled
// ones and sorting each point by ascending order.
func NewRegistry(hooks ...Hook) *Registry {
	r := &Registry{logger: slog.With("component", "hooks")}
	for _, h := range hooks {
		if !h.Enabled() {
			continue
		}
		if bs, ok := h.(BeforeAgentStart); ok {
			r.beforeStart = append(r.beforeStart, bs)
		}
		if bt, ok := h.(BeforeToolCall); ok {
			r.beforeTool = append(r.beforeTool, bt)
		}
		if at, ok := h.(AfterToolCall); ok {
			r.afterTool = append(r.afterTool, at)
		}
		if ac, ok := h.(AfterAgentComplete); ok {
			r.afterComplete = append(r.afterComplete, ac)
		}
	}
	sort.SliceStable(r.beforeStart, func(i, j int) bool { return r.beforeStart[i].Order() < r.beforeStart[j].Order() })
	sort.SliceStable(r.beforeTool, func(i, j int) bool { return r.beforeTool[i].Order() < r.beforeTool[j].Order() })
	sort.SliceStable(r.afterTool, func(i, j int) bool { return r.afterTool[i].Order() < r.afterTool[j].Order() })
	sort.SliceStable(r.afterComplete, func(i, j int) bool { return r.afterComplete[i].Order() < r.afterComplete[j].Order() })
	return r
}

// isCancellation reports whether err is a cooperative cancellation signal.
// These must propagate and are never treated as hook failures.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RunBeforeAgentStart dispatches the BeforeAgentStart chain. Returns the
// first non-Continue result, or Continue when the whole chain passes.
func (r *Registry) RunBeforeAgentStart(ctx context.Context, hctx *Context) (Result, error) {
	for _, h := range r.beforeStart {
		res, err := h.BeforeAgentStart(ctx, hctx)
		if err != nil {
			if isCancellation(err) {
				return nil, err
			}
			r.logger.Warn("BeforeAgentStart hook failed, continuing",
				"hook", h.Name(), "run_id", hctx.RunID, "error", err)
			continue
		}
		if _, ok := res.(Continue); !ok {
			return res, nil
		}
	}
	return Continue{}, nil
}

// RunBeforeToolCall dispatches the BeforeToolCall chain for one tool branch.
func (r *Registry) RunBeforeToolCall(ctx context.Context, tc *ToolCallContext) (Result, error) {
	for _, h := range r.beforeTool {
		res, err := h.BeforeToolCall(ctx, tc)
		if err != nil {
			if isCancellation(err) {
				return nil, err
			}
			r.logger.Warn("BeforeToolCall hook failed, continuing",
				"hook", h.Name(), "tool", tc.ToolName, "error", err)
			continue
		}
		if _, ok := res.(Continue); !ok {
			return res, nil
		}
	}
	return Continue{}, nil
}

// RunAfterToolCall dispatches all AfterToolCall observers.
func (r *Registry) RunAfterToolCall(ctx context.Context, tc *ToolCallContext, result *ToolResult) error {
	for _, h := range r.afterTool {
		if err := h.AfterToolCall(ctx, tc, result); err != nil {
			if isCancellation(err) {
				return err
			}
			if fc, ok := h.(FailCloser); ok && fc.FailOnError() {
				return err
			}
			r.logger.Warn("AfterToolCall hook failed, continuing",
				"hook", h.Name(), "tool", tc.ToolName, "error", err)
		}
	}
	return nil
}

// RunAfterAgentComplete dispatches all AfterAgentComplete observers.
func (r *Registry) RunAfterAgentComplete(ctx context.Context, hctx *Context, resp *Response) error {
	for _, h := range r.afterComplete {
		if err := h.AfterAgentComplete(ctx, hctx, resp); err != nil {
			if isCancellation(err) {
				return err
			}
			if fc, ok := h.(FailCloser); ok && fc.FailOnError() {
				return err
			}
			r.logger.Warn("AfterAgentComplete hook failed, continuing",
				"hook", h.Name(), "run_id", hctx.RunID, "error", err)
		}
	}
	return nil
}
