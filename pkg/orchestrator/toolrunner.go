package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardenlabs/warden/pkg/hook"
	"github.com/wardenlabs/warden/pkg/tool"
)

// toolRunner executes tool batches for one run. callIndex is shared across
// batches so every invocation in the run gets a unique, increasing index.
type toolRunner struct {
	hctx      *hook.Context
	registry  *hook.Registry
	tools     *tool.Registry
	callIndex atomic.Int64

	// recordDuration, when set, receives each branch's wall time so the run
	// can aggregate a toolDurationMs bucket.
	recordDuration func(ms int64)
}

func newToolRunner(hctx *hook.Context, registry *hook.Registry, tools *tool.Registry) *toolRunner {
	return &toolRunner{hctx: hctx, registry: registry, tools: tools}
}

// Run executes the batch concurrently. A failing branch does not cancel its
// siblings; every branch finishes and runs its after-hooks. Cancellation is
// the exception: it propagates as the returned error once all branches have
// stopped.
func (r *toolRunner) Run(ctx context.Context, calls []ToolCall) ([]ToolOutcome, error) {
	outcomes := make([]ToolOutcome, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(slot int, call ToolCall) {
			defer wg.Done()
			outcomes[slot], errs[slot] = r.runBranch(ctx, call)
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// runBranch wraps one tool invocation in its hook pair. Only cancellation
// comes back as an error; tool failures are outcomes.
func (r *toolRunner) runBranch(ctx context.Context, call ToolCall) (ToolOutcome, error) {
	idx := int(r.callIndex.Add(1) - 1)
	outcome := ToolOutcome{Name: call.Name, CallIndex: idx}

	tc := &hook.ToolCallContext{
		Agent:      r.hctx,
		ToolName:   call.Name,
		ToolParams: call.Args,
		CallIndex:  idx,
	}

	res, err := r.registry.RunBeforeToolCall(ctx, tc)
	if err != nil {
		return outcome, err // cancellation only
	}
	switch v := res.(type) {
	case hook.Reject:
		outcome.IsError = true
		outcome.Content = tool.Errorf("tool call rejected: %s", v.Reason)
		return outcome, nil
	case hook.Modify:
		if v.Params != nil {
			tc.ToolParams = v.Params
		}
	case hook.PendingApproval:
		outcome.IsError = true
		outcome.Content = tool.Errorf("tool call awaiting approval: %s", v.Message)
		return outcome, nil
	}

	r.hctx.AddToolUsed(call.Name)

	start := time.Now()
	result, callErr := r.tools.Call(ctx, call.Name, tc.ToolParams)
	outcome.DurationMs = time.Since(start).Milliseconds()
	if r.recordDuration != nil {
		r.recordDuration(outcome.DurationMs)
	}

	switch {
	case callErr != nil && isCancellation(callErr):
		return outcome, callErr
	case callErr != nil:
		outcome.IsError = true
		outcome.Content = tool.Errorf("%v", callErr)
	default:
		outcome.Content = renderToolResult(result)
		_, outcome.IsError = tool.IsErrorResult(result)
	}

	toolResult := &hook.ToolResult{
		Content:    outcome.Content,
		IsError:    outcome.IsError,
		DurationMs: outcome.DurationMs,
	}
	if err := r.registry.RunAfterToolCall(ctx, tc, toolResult); err != nil {
		if isCancellation(err) {
			return outcome, err
		}
		// FailOnError after-hook: the branch fails but siblings finish.
		outcome.IsError = true
		outcome.Content = tool.Errorf("post-call hook failed: %v", err)
	}
	return outcome, nil
}

func renderToolResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
