package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	Base
	startResult Result
	startErr    error
	failOnError bool
	afterErr    error

	calls *[]string
}

func (h *recordingHook) record(point string) {
	*h.calls = append(*h.calls, h.HookName+":"+point)
}

func (h *recordingHook) BeforeAgentStart(_ context.Context, _ *Context) (Result, error) {
	h.record("start")
	if h.startErr != nil {
		return nil, h.startErr
	}
	if h.startResult != nil {
		return h.startResult, nil
	}
	return Continue{}, nil
}

func (h *recordingHook) AfterAgentComplete(_ context.Context, _ *Context, _ *Response) error {
	h.record("complete")
	return h.afterErr
}

func (h *recordingHook) FailOnError() bool { return h.failOnError }

func TestRegistry_OrderAndFiltering(t *testing.T) {
	var calls []string
	registry := NewRegistry(
		&recordingHook{Base: Base{HookName: "b", HookOrder: 20}, calls: &calls},
		&recordingHook{Base: Base{HookName: "a", HookOrder: 10}, calls: &calls},
		&recordingHook{Base: Base{HookName: "off", HookOrder: 0, Disabled: true}, calls: &calls},
	)

	res, err := registry.RunBeforeAgentStart(context.Background(), NewContext("r1", "u1", "hi"))
	require.NoError(t, err)
	assert.IsType(t, Continue{}, res)
	assert.Equal(t, []string{"a:start", "b:start"}, calls)
}

func TestRegistry_BeforeStartShortCircuits(t *testing.T) {
	var calls []string
	registry := NewRegistry(
		&recordingHook{Base: Base{HookName: "reject", HookOrder: 1}, startResult: Reject{Reason: "nope"}, calls: &calls},
		&recordingHook{Base: Base{HookName: "later", HookOrder: 2}, calls: &calls},
	)

	res, err := registry.RunBeforeAgentStart(context.Background(), NewContext("r1", "u1", "hi"))
	require.NoError(t, err)
	reject, ok := res.(Reject)
	require.True(t, ok)
	assert.Equal(t, "nope", reject.Reason)
	assert.Equal(t, []string{"reject:start"}, calls, "later hooks must not run")
}

func TestRegistry_BeforeStartFailOpen(t *testing.T) {
	var calls []string
	registry := NewRegistry(
		&recordingHook{Base: Base{HookName: "broken", HookOrder: 1}, startErr: errors.New("boom"), calls: &calls},
		&recordingHook{Base: Base{HookName: "next", HookOrder: 2}, calls: &calls},
	)

	res, err := registry.RunBeforeAgentStart(context.Background(), NewContext("r1", "u1", "hi"))
	require.NoError(t, err)
	assert.IsType(t, Continue{}, res)
	assert.Equal(t, []string{"broken:start", "next:start"}, calls)
}

func TestRegistry_CancellationPropagates(t *testing.T) {
	var calls []string
	registry := NewRegistry(
		&recordingHook{Base: Base{HookName: "cancelled", HookOrder: 1}, startErr: context.Canceled, calls: &calls},
		&recordingHook{Base: Base{HookName: "next", HookOrder: 2}, calls: &calls},
	)

	_, err := registry.RunBeforeAgentStart(context.Background(), NewContext("r1", "u1", "hi"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"cancelled:start"}, calls)
}

func TestRegistry_AfterCompleteRunsAll(t *testing.T) {
	var calls []string
	registry := NewRegistry(
		&recordingHook{Base: Base{HookName: "one", HookOrder: 1}, afterErr: errors.New("boom"), calls: &calls},
		&recordingHook{Base: Base{HookName: "two", HookOrder: 2}, calls: &calls},
	)

	err := registry.RunAfterAgentComplete(context.Background(), NewContext("r1", "u1", "hi"), &Response{Success: true})
	require.NoError(t, err, "after-hook errors are swallowed by default")
	assert.Equal(t, []string{"one:complete", "two:complete"}, calls)
}

func TestRegistry_AfterCompleteFailOnError(t *testing.T) {
	var calls []string
	registry := NewRegistry(
		&recordingHook{Base: Base{HookName: "strict", HookOrder: 1}, afterErr: errors.New("boom"), failOnError: true, calls: &calls},
		&recordingHook{Base: Base{HookName: "two", HookOrder: 2}, calls: &calls},
	)

	err := registry.RunAfterAgentComplete(context.Background(), NewContext("r1", "u1", "hi"), &Response{})
	require.Error(t, err)
	assert.Equal(t, []string{"strict:complete"}, calls)
}

func TestContext_ConcurrentToolsAndMetadata(t *testing.T) {
	hctx := NewContext("r1", "u1", "hi")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hctx.AddToolUsed("search")
			hctx.SetMeta("k", i)
		}
	}()
	for i := 0; i < 1000; i++ {
		hctx.AddToolUsed("fetch")
		_ = hctx.ToolsUsed()
		_ = hctx.MetaSnapshot()
	}
	<-done

	assert.Len(t, hctx.ToolsUsed(), 2000)
}

func TestContext_AnonymousDefault(t *testing.T) {
	assert.Equal(t, "anonymous", NewContext("r1", "", "hi").UserID)
}

func TestToolCallContext_MaskedParams(t *testing.T) {
	tc := &ToolCallContext{
		ToolName: "send_email",
		ToolParams: map[string]any{
			"to":           "a@example.com",
			"apiKey":       "sk-123",
			"access_token": "tok",
			"PASSWORD":     "hunter2",
			"body":         "hello",
		},
	}
	masked := tc.MaskedParams()
	assert.Equal(t, "a@example.com", masked["to"])
	assert.Equal(t, "hello", masked["body"])
	assert.Equal(t, "***", masked["apiKey"])
	assert.Equal(t, "***", masked["access_token"])
	assert.Equal(t, "***", masked["PASSWORD"])
}
