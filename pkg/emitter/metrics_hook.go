package emitter

import (
	"context"
	"log/slog"

	"github.com/wardenlabs/warden/pkg/hook"
	"github.com/wardenlabs/warden/pkg/metric"
)

// Publisher is the buffer side the emitters publish into. Publish returns
// false when the event was dropped.
type Publisher interface {
	Publish(e metric.Event) bool
}

// Metadata keys the orchestrator records for the metric collection hook.
const (
	MetaKeyLLMDurationMs   = "llmDurationMs"
	MetaKeyToolDurationMs  = "toolDurationMs"
	MetaKeyGuardDurationMs = "guardDurationMs"
	MetaKeyQueueWaitMs     = "queueWaitMs"
	MetaKeySessionID       = "sessionId"
	MetaKeyTotalTokens     = "totalTokens"
	MetaKeyPersonaID       = "personaId"
	MetaKeyIntentCategory  = "intentCategory"

	// Per-tool keys, suffixed with the tool name.
	MetaKeyToolSourcePrefix = "toolSource_"
	MetaKeyMCPServerPrefix  = "mcpServer_"
)

// ToolSourceLocal is the default tool source when the run recorded none.
const ToolSourceLocal = "local"

// MetricCollectionHook observes completed tool calls and agent runs and
// publishes the corresponding metric events. Order 200 puts it after all
// business hooks so it sees their metadata contributions.
type MetricCollectionHook struct {
	hook.Base
	pub    Publisher
	logger *slog.Logger
}

// NewMetricCollectionHook builds the hook over the given publisher.
func NewMetricCollectionHook(pub Publisher) *MetricCollectionHook {
	return &MetricCollectionHook{
		Base:   hook.Base{HookName: "MetricCollection", HookOrder: 200},
		pub:    pub,
		logger: slog.With("component", "emitter"),
	}
}

// AfterToolCall publishes one ToolCallEvent per completed tool invocation.
func (h *MetricCollectionHook) AfterToolCall(_ context.Context, tc *hook.ToolCallContext, result *hook.ToolResult) error {
	ev := &metric.ToolCallEvent{
		Meta:       metric.NewMeta(tc.Agent.TenantID()),
		RunID:      tc.Agent.RunID,
		ToolName:   tc.ToolName,
		ToolSource: ToolSourceLocal,
		CallIndex:  tc.CallIndex,
		Success:    !result.IsError,
		DurationMs: result.DurationMs,
	}
	if src := tc.Agent.MetaString(MetaKeyToolSourcePrefix + tc.ToolName); src != "" {
		ev.ToolSource = src
	}
	ev.MCPServerName = tc.Agent.MetaString(MetaKeyMCPServerPrefix + tc.ToolName)
	if result.IsError {
		ev.ErrorClass = ClassifyToolError(result.Content)
		ev.ErrorMessage = metric.Truncate(result.Content, metric.MaxMessageLen)
	}
	h.publish(ev)
	return nil
}

// AfterAgentComplete publishes the run-level AgentExecutionEvent.
func (h *MetricCollectionHook) AfterAgentComplete(_ context.Context, hctx *hook.Context, resp *hook.Response) error {
	meta := hctx.MetaSnapshot()
	ev := &metric.AgentExecutionEvent{
		Meta:            metric.NewMeta(hctx.TenantID()),
		RunID:           hctx.RunID,
		UserID:          hctx.UserID,
		SessionID:       metaString(meta, MetaKeySessionID),
		Success:         resp.Success,
		ToolCount:       len(hctx.ToolsUsed()),
		DurationMs:      resp.DurationMs,
		LLMDurationMs:   metaInt64(meta, MetaKeyLLMDurationMs),
		ToolDurationMs:  metaInt64(meta, MetaKeyToolDurationMs),
		GuardDurationMs: metaInt64(meta, MetaKeyGuardDurationMs),
		QueueWaitMs:     metaInt64(meta, MetaKeyQueueWaitMs),
		PersonaID:       metaString(meta, MetaKeyPersonaID),
		IntentCategory:  metaString(meta, MetaKeyIntentCategory),
	}
	if !resp.Success {
		ev.ErrorCode = resp.ErrorCode
	}
	h.publish(ev)
	return nil
}

func (h *MetricCollectionHook) publish(ev metric.Event) {
	if !h.pub.Publish(ev) {
		h.logger.Warn("Metric event dropped, buffer full", "type", ev.EventType())
	}
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// metaInt64 reads a numeric metadata value, tolerating the types callers
// actually store (int, int64, float64). Missing or non-numeric reads as 0.
func metaInt64(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
