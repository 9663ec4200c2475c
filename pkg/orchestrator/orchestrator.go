package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/emitter"
	"github.com/wardenlabs/warden/pkg/guard"
	"github.com/wardenlabs/warden/pkg/hook"
	"github.com/wardenlabs/warden/pkg/llm"
	"github.com/wardenlabs/warden/pkg/tenant"
	"github.com/wardenlabs/warden/pkg/tool"
)

// Defaults for request handling.
const (
	DefaultRequestTimeout = 30 * time.Second
	// DefaultCompleteGrace bounds the AfterAgentComplete hooks after the
	// request deadline has already fired.
	DefaultCompleteGrace = 5 * time.Second
)

// ErrCircuitOpen is returned by agent cores when a downstream circuit
// breaker refuses the call.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrToolFailed wraps a tool failure the agent core could not recover from
// in-conversation.
var ErrToolFailed = errors.New("tool failed")

// Config wires the orchestrator's collaborators. Stage slices are shared
// across requests; the per-request pipelines are rebuilt cheaply so each
// run gets an audit sink bound to its tenant.
type Config struct {
	Registry     *hook.Registry
	InputStages  []guard.Stage
	OutputStages []guard.OutputStage
	Resolver     *tenant.Resolver
	Tools        *tool.Registry
	Core         AgentCore
	Publisher    emitter.Publisher // nil disables guard event emission
	Messages     MessageResolver

	RequestTimeout time.Duration
	CompleteGrace  time.Duration
}

// Orchestrator runs the full request lifecycle: resolve tenant, before
// hooks, input guard, agent core, output guard, after hooks.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New builds an orchestrator, filling config defaults.
func New(cfg Config) *Orchestrator {
	if cfg.Registry == nil {
		cfg.Registry = hook.NewRegistry()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = tenant.NewResolver("")
	}
	if cfg.Messages == nil {
		cfg.Messages = DefaultMessageResolver{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.CompleteGrace <= 0 {
		cfg.CompleteGrace = DefaultCompleteGrace
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: slog.With("component", "orchestrator"),
	}
}

// Run executes one agent request end to end. The returned response is never
// nil; failures are expressed through its error fields.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Response {
	start := time.Now()
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	resp := &Response{RunID: runID}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	hctx := hook.NewContext(runID, req.UserID, req.Prompt)
	hctx.UserEmail = req.UserEmail
	hctx.Channel = req.Channel
	hctx.MergeMeta(req.Metadata)

	tenantID := o.cfg.Resolver.Resolve(req.TenantHeader, req.AmbientTenant)
	hctx.SetMeta(hook.MetaKeyTenantID, tenantID)

	var guardMs atomic.Int64
	var toolMs atomic.Int64

	// AfterAgentComplete always runs, with a grace window that survives the
	// request deadline so observers still fire on timed-out runs.
	defer func() {
		resp.DurationMs = time.Since(start).Milliseconds()
		resp.ToolsUsed = hctx.ToolsUsed()
		hctx.SetMeta(emitter.MetaKeyGuardDurationMs, guardMs.Load())
		if ms := toolMs.Load(); ms > 0 {
			hctx.SetMeta(emitter.MetaKeyToolDurationMs, ms)
		}

		graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CompleteGrace)
		defer cancel()
		if err := o.cfg.Registry.RunAfterAgentComplete(graceCtx, hctx, &hook.Response{
			Success:      resp.Success,
			Output:       resp.Output,
			ErrorCode:    resp.ErrorCode,
			ErrorMessage: resp.ErrorMessage,
			DurationMs:   resp.DurationMs,
		}); err != nil {
			o.logger.Warn("AfterAgentComplete dispatch failed",
				"run_id", runID, "error", err)
		}
	}()

	var sink guard.AuditSink
	if o.cfg.Publisher != nil {
		sink = emitter.NewMetricAuditSink(o.cfg.Publisher, tenantID)
	}

	// Before hooks.
	res, err := o.cfg.Registry.RunBeforeAgentStart(ctx, hctx)
	if err != nil {
		return o.cancelled(resp, err)
	}
	switch v := res.(type) {
	case hook.Reject:
		code := v.Code
		if code == "" || canonicalMessages[code] == "" {
			code = CodeHookRejected
		}
		return o.fail(resp, code, v.Reason)
	case hook.Modify:
		if v.Prompt != "" {
			hctx.UserPrompt = v.Prompt
		}
		hctx.MergeMeta(v.Metadata)
	case hook.PendingApproval:
		return o.fail(resp, CodeHookRejected, "awaiting human approval: "+v.Message)
	}

	// Input guard.
	guardStart := time.Now()
	cmd := guard.NewCommand(req.UserID, hctx.UserPrompt)
	cmd.Channel = req.Channel
	cmd.Metadata = hctx.MetaSnapshot()
	inputResult := guard.NewPipeline(sink, o.cfg.InputStages...).Run(ctx, cmd)
	guardMs.Add(time.Since(guardStart).Milliseconds())

	if rejected, ok := inputResult.(guard.Rejected); ok {
		if ctx.Err() != nil {
			return o.cancelled(resp, ctx.Err())
		}
		code := CodeGuardRejected
		if rejected.Category == guard.CategoryRateLimited {
			code = CodeRateLimited
		}
		return o.fail(resp, code, fmt.Sprintf("%s: %s", rejected.Stage, rejected.Reason))
	}
	hctx.UserPrompt = cmd.Text

	// Agent core.
	runner := newToolRunner(hctx, o.cfg.Registry, o.cfg.Tools)
	runner.recordDuration = func(ms int64) { toolMs.Add(ms) }
	output, err := o.cfg.Core.Execute(ctx, hctx, runner)
	if err != nil {
		if isCancellation(err) || ctx.Err() != nil {
			return o.cancelled(resp, err)
		}
		return o.fail(resp, classifyCoreError(err), err.Error())
	}

	// Output guard.
	guardStart = time.Now()
	ocmd := &guard.OutputCommand{
		TenantID: tenantID,
		RunID:    runID,
		Content:  output,
		Metadata: hctx.MetaSnapshot(),
	}
	content, outputResult := guard.NewOutputPipeline(sink, o.cfg.OutputStages...).Run(ctx, ocmd)
	guardMs.Add(time.Since(guardStart).Milliseconds())

	if rejected, ok := outputResult.(guard.OutputRejected); ok {
		if ctx.Err() != nil {
			return o.cancelled(resp, ctx.Err())
		}
		return o.fail(resp, CodeGuardRejected, fmt.Sprintf("%s: %s", rejected.Stage, rejected.Reason))
	}

	resp.Success = true
	resp.Output = content
	return resp
}

// fail stamps the response with the code and the resolved user message.
func (o *Orchestrator) fail(resp *Response, code, original string) *Response {
	resp.Success = false
	resp.ErrorCode = code
	resp.ErrorMessage = o.cfg.Messages.Resolve(code, original)
	o.logger.Info("Request failed",
		"run_id", resp.RunID, "code", code, "detail", original)
	return resp
}

// cancelled maps a cancellation signal onto the response. Deadline expiry
// is a TIMEOUT; a caller-initiated cancel is not an error taxonomy case but
// still needs a terminal response.
func (o *Orchestrator) cancelled(resp *Response, err error) *Response {
	if errors.Is(err, context.DeadlineExceeded) {
		return o.fail(resp, CodeTimeout, err.Error())
	}
	resp.Success = false
	resp.ErrorCode = CodeUnknown
	resp.ErrorMessage = "request cancelled"
	return resp
}

// classifyCoreError maps agent-core failures onto the taxonomy.
func classifyCoreError(err error) string {
	if errors.Is(err, ErrCircuitOpen) || strings.Contains(strings.ToLower(err.Error()), "circuit breaker") {
		return CodeCircuitBreakerOpen
	}
	if errors.Is(err, ErrToolFailed) {
		return CodeToolError
	}
	switch llm.ClassifyError(err) {
	case llm.ErrorRateLimited:
		return CodeRateLimited
	case llm.ErrorTimeout:
		return CodeTimeout
	case llm.ErrorContextTooLong:
		return CodeContextTooLong
	default:
		return CodeUnknown
	}
}
