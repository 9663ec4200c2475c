// Package metric defines the typed metric events produced by the platform,
// the lock-free ring buffer that carries them off the request hot path, and
// the batching writer that persists them.
package metric

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLen is the maximum length of free-text fields (error messages,
// guard reason details) on persisted events. Longer values are truncated.
const MaxMessageLen = 500

// Type identifies a metric event variant.
type Type string

const (
	TypeAgentExecution Type = "agent_execution"
	TypeToolCall       Type = "tool_call"
	TypeTokenUsage     Type = "token_usage"
	TypeGuard          Type = "guard"
	TypeQuota          Type = "quota"
	TypeHitl           Type = "hitl"
	TypeMCPHealth      Type = "mcp_health"
)

// Event is the closed sum of metric event variants. Every variant embeds
// Meta and is distinguished by EventType; call sites switch exhaustively
// on the concrete type.
type Event interface {
	EventMeta() Meta
	EventType() Type
	isEvent()
}

// Meta carries the fields shared by every event variant.
// Timestamp is the authoring time, not the persist time.
type Meta struct {
	EventID   string    `json:"event_id"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMeta stamps a fresh event identity for the given tenant.
func NewMeta(tenantID string) Meta {
	return Meta{
		EventID:   uuid.NewString(),
		TenantID:  tenantID,
		Timestamp: time.Now(),
	}
}

func (m Meta) EventMeta() Meta { return m }
func (m Meta) isEvent()        {}

// AgentExecutionEvent records one completed agent run.
type AgentExecutionEvent struct {
	Meta
	RunID           string `json:"run_id"`
	UserID          string `json:"user_id"`
	SessionID       string `json:"session_id,omitempty"`
	Success         bool   `json:"success"`
	ToolCount       int    `json:"tool_count"`
	DurationMs      int64  `json:"duration_ms"`
	LLMDurationMs   int64  `json:"llm_duration_ms"`
	ToolDurationMs  int64  `json:"tool_duration_ms"`
	GuardDurationMs int64  `json:"guard_duration_ms"`
	QueueWaitMs     int64  `json:"queue_wait_ms"`
	ErrorCode       string `json:"error_code,omitempty"`
	PersonaID       string `json:"persona_id,omitempty"`
	IntentCategory  string `json:"intent_category,omitempty"`
}

func (*AgentExecutionEvent) EventType() Type { return TypeAgentExecution }

// ToolCallEvent records one tool invocation within a run.
type ToolCallEvent struct {
	Meta
	RunID         string `json:"run_id"`
	ToolName      string `json:"tool_name"`
	ToolSource    string `json:"tool_source"` // "local" or "mcp"
	MCPServerName string `json:"mcp_server_name,omitempty"`
	CallIndex     int    `json:"call_index"`
	Success       bool   `json:"success"`
	DurationMs    int64  `json:"duration_ms"`
	ErrorClass    string `json:"error_class,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func (*ToolCallEvent) EventType() Type { return TypeToolCall }

// TokenUsageEvent records token consumption for one LLM call.
// Invariant: TotalTokens = PromptTokens + CompletionTokens.
type TokenUsageEvent struct {
	Meta
	RunID            string  `json:"run_id"`
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func (*TokenUsageEvent) EventType() Type { return TypeTokenUsage }

// GuardEvent records one guard-stage rejection (or action) decision.
type GuardEvent struct {
	Meta
	Stage         string `json:"stage"`
	Category      string `json:"category"`
	ReasonDetail  string `json:"reason_detail,omitempty"`
	IsOutputGuard bool   `json:"is_output_guard"`
	Action        string `json:"action,omitempty"`
}

func (*GuardEvent) EventType() Type { return TypeGuard }

// Quota event actions.
const (
	QuotaActionRejectedRequests  = "rejected_requests"
	QuotaActionRejectedTokens    = "rejected_tokens"
	QuotaActionRejectedSuspended = "rejected_suspended"
	QuotaActionWarning           = "warning"
)

// QuotaEvent records a quota enforcement decision for a tenant.
type QuotaEvent struct {
	Meta
	Action          string  `json:"action"`
	CurrentRequests int64   `json:"current_requests"`
	CurrentTokens   int64   `json:"current_tokens"`
	QuotaRequests   int64   `json:"quota_requests"`
	QuotaTokens     int64   `json:"quota_tokens"`
	UsagePercent    float64 `json:"usage_percent"`
}

func (*QuotaEvent) EventType() Type { return TypeQuota }

// HitlEvent records a human-in-the-loop approval result for one tool call.
type HitlEvent struct {
	Meta
	RunID           string `json:"run_id"`
	ToolName        string `json:"tool_name"`
	Approved        bool   `json:"approved"`
	WaitMs          int64  `json:"wait_ms"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func (*HitlEvent) EventType() Type { return TypeHitl }

// MCPHealthEvent records the result of one MCP server health probe.
type MCPHealthEvent struct {
	Meta
	ServerName     string `json:"server_name"`
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	ToolCount      int    `json:"tool_count"`
	ErrorClass     string `json:"error_class,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

func (*MCPHealthEvent) EventType() Type { return TypeMCPHealth }

// Truncate caps s at max bytes, backing up to the nearest rune boundary so
// the result is always valid UTF-8. Free-text fields on events must pass
// through this before publication.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
