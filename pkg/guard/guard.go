// Package guard implements the input and output guard pipelines: ordered
// safety checks with fail-close semantics around every agent request.
package guard

import (
	"context"
	"time"
)

// Rejection categories surfaced on guard results and audit records.
type Category string

const (
	CategoryRateLimited     Category = "rate_limited"
	CategoryInvalidInput    Category = "invalid_input"
	CategoryPromptInjection Category = "prompt_injection"
	CategoryOffTopic        Category = "off_topic"
	CategoryUnauthorized    Category = "unauthorized"
	CategorySystemError     Category = "system_error"
	CategoryPIILeak         Category = "pii_leak"
	CategoryCanaryLeak      Category = "canary_leak"
	CategoryPolicyRule      Category = "policy_rule"
)

// Metadata keys consumed by guard stages.
const (
	MetaKeyTenantID            = "tenantId"
	MetaKeySessionID           = "sessionId"
	MetaKeyConversationHistory = "conversationHistory"
	MetaKeyPromptTemplateID    = "promptTemplateId"
)

// HistoryEntry is one turn of prior conversation, read from command metadata
// by history-aware stages.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Command is the unit of work flowing through the input pipeline.
type Command struct {
	UserID   string
	Text     string
	Channel  string
	Metadata map[string]any
}

// NewCommand builds a command; userID defaults to "anonymous".
func NewCommand(userID, text string) *Command {
	if userID == "" {
		userID = "anonymous"
	}
	return &Command{
		UserID:   userID,
		Text:     text,
		Metadata: make(map[string]any),
	}
}

// TenantID returns the tenant recorded in metadata, or "" when absent.
func (c *Command) TenantID() string {
	if v, ok := c.Metadata[MetaKeyTenantID].(string); ok {
		return v
	}
	return ""
}

// History returns the conversation history from metadata, if present.
func (c *Command) History() []HistoryEntry {
	if v, ok := c.Metadata[MetaKeyConversationHistory].([]HistoryEntry); ok {
		return v
	}
	return nil
}

// Result is the closed sum of input-guard outcomes.
type Result interface {
	isResult()
}

// Allowed passes the command on. Hints of the form "normalized:<text>"
// instruct the pipeline to replace the current text for downstream stages.
type Allowed struct {
	Hints []string
}

// Rejected stops the pipeline. Stage is stamped by the pipeline.
type Rejected struct {
	Reason   string
	Category Category
	Stage    string
}

func (Allowed) isResult()  {}
func (Rejected) isResult() {}

// NormalizedHintPrefix marks an Allowed hint that carries replacement text.
const NormalizedHintPrefix = "normalized:"

// Stage is a single input-guard check. Stages are filtered by Enabled and
// sorted by Order once at pipeline construction.
type Stage interface {
	Name() string
	Order() int
	Enabled() bool
	Check(ctx context.Context, cmd *Command) Result
}

// AuditRecord describes one stage invocation.
type AuditRecord struct {
	Stage         string
	Result        Result
	Duration      time.Duration
	IsOutputGuard bool
}

// AuditSink receives one record per stage invocation. Implementations must
// be cheap and non-blocking; they run on the request path.
type AuditSink interface {
	Record(rec AuditRecord)
}
