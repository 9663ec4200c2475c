// Package llm abstracts chat-completion providers behind a small interface
// and layers error classification and retry policy on top.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int64
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Response is a completed generation.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Provider is a chat-completion backend. Implementations must honor context
// cancellation and return classifiable errors (see ClassifyError).
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}
