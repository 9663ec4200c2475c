// Package agent provides the LLM-backed reasoning core the orchestrator
// wraps. The core is deliberately thin: guard pipelines, hooks, and tool
// dispatch all live outside it.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardenlabs/warden/pkg/emitter"
	"github.com/wardenlabs/warden/pkg/hook"
	"github.com/wardenlabs/warden/pkg/llm"
	"github.com/wardenlabs/warden/pkg/metric"
	"github.com/wardenlabs/warden/pkg/orchestrator"
)

// CoreConfig tunes the completion core.
type CoreConfig struct {
	Model     string
	System    string
	MaxTokens int64
}

// CompletionCore answers each request with a single LLM completion. It
// records the LLM wall time and token counts on the hook context and
// publishes a TokenUsageEvent per call.
type CompletionCore struct {
	client llm.Provider
	pub    emitter.Publisher // nil disables token usage events
	cfg    CoreConfig
	logger *slog.Logger
}

// NewCompletionCore builds the core over a provider (typically the retrying
// client).
func NewCompletionCore(client llm.Provider, pub emitter.Publisher, cfg CoreConfig) *CompletionCore {
	return &CompletionCore{
		client: client,
		pub:    pub,
		cfg:    cfg,
		logger: slog.With("component", "agent"),
	}
}

// Execute implements orchestrator.AgentCore.
func (c *CompletionCore) Execute(ctx context.Context, hctx *hook.Context, _ orchestrator.ToolRunner) (string, error) {
	start := time.Now()
	resp, err := c.client.Complete(ctx, llm.Request{
		Model:     c.cfg.Model,
		System:    c.cfg.System,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: hctx.UserPrompt},
		},
	})
	hctx.SetMeta(emitter.MetaKeyLLMDurationMs, time.Since(start).Milliseconds())
	if err != nil {
		return "", err
	}

	total := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	hctx.SetMeta(emitter.MetaKeyTotalTokens, total)

	if c.pub != nil {
		model := resp.Model
		if model == "" {
			model = c.cfg.Model
		}
		ev := &metric.TokenUsageEvent{
			Meta:             metric.NewMeta(hctx.TenantID()),
			RunID:            hctx.RunID,
			Model:            model,
			Provider:         c.client.Name(),
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      total,
		}
		if !c.pub.Publish(ev) {
			c.logger.Warn("Token usage event dropped, buffer full", "run_id", hctx.RunID)
		}
	}
	return resp.Content, nil
}
