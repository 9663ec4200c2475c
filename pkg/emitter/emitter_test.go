package emitter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/guard"
	"github.com/wardenlabs/warden/pkg/hook"
	"github.com/wardenlabs/warden/pkg/metric"
)

// fakePublisher captures published events; full simulates a saturated buffer.
type fakePublisher struct {
	events []metric.Event
	full   bool
}

func (p *fakePublisher) Publish(e metric.Event) bool {
	if p.full {
		return false
	}
	p.events = append(p.events, e)
	return true
}

func newHookContext(tenantID string) *hook.Context {
	hctx := hook.NewContext("run-1", "user-1", "do the thing")
	hctx.SetMeta(hook.MetaKeyTenantID, tenantID)
	return hctx
}

func TestClassifyToolError(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"request timed out after 30s", ErrorClassTimeout},
		{"context deadline exceeded", ErrorClassTimeout},
		{"dial tcp: connection refused", ErrorClassConnection},
		{"lookup db: no such host", ErrorClassConnection},
		{"403 Forbidden", ErrorClassPermissionDenied},
		{"permission denied for table events", ErrorClassPermissionDenied},
		{"resource not found", ErrorClassNotFound},
		{"bucket does not exist", ErrorClassNotFound},
		{"something inexplicable happened", ErrorClassUnknown},
		{"", ErrorClassUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyToolError(tc.message), "message %q", tc.message)
	}
}

func TestMetricCollectionHook_AfterToolCall(t *testing.T) {
	t.Run("successful local tool", func(t *testing.T) {
		pub := &fakePublisher{}
		h := NewMetricCollectionHook(pub)
		tc := &hook.ToolCallContext{
			Agent:     newHookContext("acme"),
			ToolName:  "search",
			CallIndex: 2,
		}

		err := h.AfterToolCall(context.Background(), tc, &hook.ToolResult{
			Content: "ok", DurationMs: 120,
		})
		require.NoError(t, err)
		require.Len(t, pub.events, 1)

		ev, ok := pub.events[0].(*metric.ToolCallEvent)
		require.True(t, ok)
		assert.Equal(t, "acme", ev.TenantID)
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, "search", ev.ToolName)
		assert.Equal(t, ToolSourceLocal, ev.ToolSource)
		assert.Equal(t, 2, ev.CallIndex)
		assert.True(t, ev.Success)
		assert.Equal(t, int64(120), ev.DurationMs)
		assert.Empty(t, ev.ErrorClass)
		assert.NotEmpty(t, ev.EventID)
	})

	t.Run("mcp source from metadata", func(t *testing.T) {
		pub := &fakePublisher{}
		h := NewMetricCollectionHook(pub)
		hctx := newHookContext("acme")
		hctx.SetMeta(MetaKeyToolSourcePrefix+"k8s_logs", "mcp")
		hctx.SetMeta(MetaKeyMCPServerPrefix+"k8s_logs", "kubernetes")
		tc := &hook.ToolCallContext{Agent: hctx, ToolName: "k8s_logs"}

		require.NoError(t, h.AfterToolCall(context.Background(), tc, &hook.ToolResult{}))
		ev := pub.events[0].(*metric.ToolCallEvent)
		assert.Equal(t, "mcp", ev.ToolSource)
		assert.Equal(t, "kubernetes", ev.MCPServerName)
	})

	t.Run("errored tool is classified and truncated", func(t *testing.T) {
		pub := &fakePublisher{}
		h := NewMetricCollectionHook(pub)
		tc := &hook.ToolCallContext{Agent: newHookContext("acme"), ToolName: "fetch"}
		long := "connection refused: " + strings.Repeat("x", 600)

		require.NoError(t, h.AfterToolCall(context.Background(), tc, &hook.ToolResult{
			Content: long, IsError: true, DurationMs: 40,
		}))
		ev := pub.events[0].(*metric.ToolCallEvent)
		assert.False(t, ev.Success)
		assert.Equal(t, ErrorClassConnection, ev.ErrorClass)
		assert.Len(t, ev.ErrorMessage, metric.MaxMessageLen)
	})

	t.Run("full buffer drops silently", func(t *testing.T) {
		pub := &fakePublisher{full: true}
		h := NewMetricCollectionHook(pub)
		tc := &hook.ToolCallContext{Agent: newHookContext("acme"), ToolName: "search"}
		assert.NoError(t, h.AfterToolCall(context.Background(), tc, &hook.ToolResult{}),
			"a dropped event never fails the request")
	})
}

func TestMetricCollectionHook_AfterAgentComplete(t *testing.T) {
	t.Run("successful run", func(t *testing.T) {
		pub := &fakePublisher{}
		h := NewMetricCollectionHook(pub)
		hctx := newHookContext("acme")
		hctx.AddToolUsed("search")
		hctx.AddToolUsed("fetch")
		hctx.SetMeta(MetaKeyLLMDurationMs, int64(800))
		hctx.SetMeta(MetaKeyToolDurationMs, 300)
		hctx.SetMeta(MetaKeyGuardDurationMs, float64(12))
		hctx.SetMeta(MetaKeySessionID, "sess-9")

		err := h.AfterAgentComplete(context.Background(), hctx, &hook.Response{
			Success: true, DurationMs: 1500,
		})
		require.NoError(t, err)
		require.Len(t, pub.events, 1)

		ev, ok := pub.events[0].(*metric.AgentExecutionEvent)
		require.True(t, ok)
		assert.Equal(t, "acme", ev.TenantID)
		assert.Equal(t, "user-1", ev.UserID)
		assert.Equal(t, "sess-9", ev.SessionID)
		assert.True(t, ev.Success)
		assert.Equal(t, 2, ev.ToolCount)
		assert.Equal(t, int64(1500), ev.DurationMs)
		assert.Equal(t, int64(800), ev.LLMDurationMs)
		assert.Equal(t, int64(300), ev.ToolDurationMs)
		assert.Equal(t, int64(12), ev.GuardDurationMs)
		assert.Zero(t, ev.QueueWaitMs)
		assert.Empty(t, ev.ErrorCode, "error code is only set on failed runs")
	})

	t.Run("failed run carries error code", func(t *testing.T) {
		pub := &fakePublisher{}
		h := NewMetricCollectionHook(pub)

		err := h.AfterAgentComplete(context.Background(), newHookContext("acme"), &hook.Response{
			Success: false, ErrorCode: "TIMEOUT", DurationMs: 30000,
		})
		require.NoError(t, err)
		ev := pub.events[0].(*metric.AgentExecutionEvent)
		assert.False(t, ev.Success)
		assert.Equal(t, "TIMEOUT", ev.ErrorCode)
	})
}

func TestHitlEmitterHook(t *testing.T) {
	run := func(t *testing.T, hctx *hook.Context) []*metric.HitlEvent {
		t.Helper()
		pub := &fakePublisher{}
		h := NewHitlEmitterHook(pub)
		require.NoError(t, h.AfterAgentComplete(context.Background(), hctx, &hook.Response{Success: true}))
		out := make([]*metric.HitlEvent, 0, len(pub.events))
		for _, e := range pub.events {
			out = append(out, e.(*metric.HitlEvent))
		}
		return out
	}

	t.Run("one event per indexed approval", func(t *testing.T) {
		hctx := newHookContext("acme")
		hctx.SetMeta("hitlWaitMs_send_email_0", int64(1500))
		hctx.SetMeta("hitlApproved_send_email_0", false)
		hctx.SetMeta("hitlRejectionReason_send_email_0", "first denied")
		hctx.SetMeta("hitlWaitMs_send_email_1", int64(2300))
		hctx.SetMeta("hitlApproved_send_email_1", true)

		events := run(t, hctx)
		require.Len(t, events, 2)

		assert.Equal(t, "send_email", events[0].ToolName)
		assert.Equal(t, int64(1500), events[0].WaitMs)
		assert.False(t, events[0].Approved)
		assert.Equal(t, "first denied", events[0].RejectionReason)

		assert.Equal(t, "send_email", events[1].ToolName)
		assert.Equal(t, int64(2300), events[1].WaitMs)
		assert.True(t, events[1].Approved)
		assert.Empty(t, events[1].RejectionReason)
	})

	t.Run("string valued metadata parses", func(t *testing.T) {
		hctx := newHookContext("t1")
		hctx.SetMeta("hitlWaitMs_send_email_0", "1500")
		hctx.SetMeta("hitlApproved_send_email_0", "false")
		hctx.SetMeta("hitlRejectionReason_send_email_0", "first denied")
		hctx.SetMeta("hitlWaitMs_send_email_1", "2300")
		hctx.SetMeta("hitlApproved_send_email_1", "true")

		events := run(t, hctx)
		require.Len(t, events, 2)
		assert.Equal(t, int64(1500), events[0].WaitMs)
		assert.False(t, events[0].Approved)
		assert.Equal(t, "first denied", events[0].RejectionReason)
		assert.Equal(t, int64(2300), events[1].WaitMs)
		assert.True(t, events[1].Approved)
	})

	t.Run("legacy unindexed keys still emit", func(t *testing.T) {
		hctx := newHookContext("acme")
		hctx.SetMeta("hitlWaitMs_delete_vm", int64(900))
		hctx.SetMeta("hitlApproved_delete_vm", true)

		events := run(t, hctx)
		require.Len(t, events, 1)
		assert.Equal(t, "delete_vm", events[0].ToolName)
		assert.Equal(t, int64(900), events[0].WaitMs)
		assert.True(t, events[0].Approved)
	})

	t.Run("indexed keys supersede legacy for the same tool", func(t *testing.T) {
		hctx := newHookContext("acme")
		hctx.SetMeta("hitlWaitMs_send_email", int64(100))
		hctx.SetMeta("hitlApproved_send_email", true)
		hctx.SetMeta("hitlWaitMs_send_email_0", int64(1500))

		events := run(t, hctx)
		require.Len(t, events, 1)
		assert.Equal(t, int64(1500), events[0].WaitMs)
	})

	t.Run("approval defaults to false when unset", func(t *testing.T) {
		hctx := newHookContext("acme")
		hctx.SetMeta("hitlWaitMs_send_email_0", int64(500))

		events := run(t, hctx)
		require.Len(t, events, 1)
		assert.False(t, events[0].Approved)
	})

	t.Run("non numeric wait is skipped", func(t *testing.T) {
		hctx := newHookContext("acme")
		hctx.SetMeta("hitlWaitMs_send_email_0", "soon")
		hctx.SetMeta("hitlWaitMs_other_tool_0", int64(250))

		events := run(t, hctx)
		require.Len(t, events, 1)
		assert.Equal(t, "other_tool", events[0].ToolName)
	})

	t.Run("no approval metadata emits nothing", func(t *testing.T) {
		assert.Empty(t, run(t, newHookContext("acme")))
	})
}

func TestMetricAuditSink(t *testing.T) {
	t.Run("rejection publishes a guard event", func(t *testing.T) {
		pub := &fakePublisher{}
		sink := NewMetricAuditSink(pub, "acme")

		sink.Record(guard.AuditRecord{
			Stage: "InjectionDetection",
			Result: guard.Rejected{
				Reason:   "prompt injection pattern matched: role_override",
				Category: guard.CategoryPromptInjection,
				Stage:    "InjectionDetection",
			},
			Duration: 3 * time.Millisecond,
		})

		require.Len(t, pub.events, 1)
		ev, ok := pub.events[0].(*metric.GuardEvent)
		require.True(t, ok)
		assert.Equal(t, "acme", ev.TenantID)
		assert.Equal(t, "InjectionDetection", ev.Stage)
		assert.Equal(t, string(guard.CategoryPromptInjection), ev.Category)
		assert.False(t, ev.IsOutputGuard)
		assert.Equal(t, "rejected", ev.Action)
	})

	t.Run("allowed passes publish nothing", func(t *testing.T) {
		pub := &fakePublisher{}
		sink := NewMetricAuditSink(pub, "acme")

		sink.Record(guard.AuditRecord{Stage: "UnicodeNormalization", Result: guard.Allowed{}})
		sink.Record(guard.AuditRecord{Stage: "RateLimit", Result: guard.Allowed{}})
		assert.Empty(t, pub.events)
	})

	t.Run("output rejection marks the event", func(t *testing.T) {
		pub := &fakePublisher{}
		sink := NewMetricAuditSink(pub, "acme")

		sink.Record(guard.AuditRecord{
			Stage:         "CanaryDetection",
			Result:        guard.Rejected{Reason: "canary", Category: guard.CategoryCanaryLeak},
			IsOutputGuard: true,
		})
		require.Len(t, pub.events, 1)
		assert.True(t, pub.events[0].(*metric.GuardEvent).IsOutputGuard)
	})
}
