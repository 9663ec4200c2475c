package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// OutputCommand is the unit of work for the output pipeline: the collected
// LLM response plus the request metadata it was produced for.
type OutputCommand struct {
	TenantID string
	RunID    string
	Content  string
	Metadata map[string]any
}

// OutputResult is the closed sum of output-guard outcomes.
type OutputResult interface {
	isOutputResult()
}

// OutputAllowed passes the content through unchanged.
type OutputAllowed struct{}

// OutputModified replaces the content (e.g. masked PII) and continues.
type OutputModified struct {
	Content string
	Reason  string
}

// OutputRejected suppresses the response entirely. Stage is stamped by the
// pipeline.
type OutputRejected struct {
	Reason   string
	Category Category
	Stage    string
}

func (OutputAllowed) isOutputResult()  {}
func (OutputModified) isOutputResult() {}
func (OutputRejected) isOutputResult() {}

// OutputStage is a single output-guard check. Each stage sees the content
// as modified by earlier stages.
type OutputStage interface {
	Name() string
	Order() int
	Enabled() bool
	Inspect(ctx context.Context, cmd *OutputCommand) OutputResult
}

// OutputPipeline runs the LLM response through its stages in order. The
// first Rejected wins; Modified content feeds the next stage. On streaming
// responses the pipeline runs once over the collected content after
// completion.
//
// Fail-close like the input pipeline: a stage panic rejects the output.
type OutputPipeline struct {
	stages []OutputStage
	audit  AuditSink // may be nil
	logger *slog.Logger
}

// NewOutputPipeline builds a pipeline from the given stages, dropping
// disabled ones and sorting by ascending order.
func NewOutputPipeline(audit AuditSink, stages ...OutputStage) *OutputPipeline {
	enabled := make([]OutputStage, 0, len(stages))
	for _, s := range stages {
		if s.Enabled() {
			enabled = append(enabled, s)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Order() < enabled[j].Order() })
	return &OutputPipeline{
		stages: enabled,
		audit:  audit,
		logger: slog.With("component", "output_guard"),
	}
}

// Run inspects the content. Returns the final (possibly modified) content
// and the terminal result: OutputAllowed, OutputModified (when any stage
// changed the content), or the first OutputRejected.
func (p *OutputPipeline) Run(ctx context.Context, cmd *OutputCommand) (string, OutputResult) {
	modified := false
	var lastReason string

	for _, stage := range p.stages {
		start := time.Now()
		result := p.inspectStage(ctx, stage, cmd)
		p.record(AuditRecord{
			Stage:         stage.Name(),
			Result:        auditResultFor(result),
			Duration:      time.Since(start),
			IsOutputGuard: true,
		})

		switch res := result.(type) {
		case OutputAllowed:
			// next stage
		case OutputModified:
			cmd.Content = res.Content
			modified = true
			lastReason = res.Reason
		case OutputRejected:
			res.Stage = stage.Name()
			p.logger.Info("Output guard rejected response",
				"stage", stage.Name(),
				"category", res.Category,
				"run_id", cmd.RunID,
				"tenant_id", cmd.TenantID)
			return cmd.Content, res
		}
	}

	if modified {
		return cmd.Content, OutputModified{Content: cmd.Content, Reason: lastReason}
	}
	return cmd.Content, OutputAllowed{}
}

func (p *OutputPipeline) inspectStage(ctx context.Context, stage OutputStage, cmd *OutputCommand) (result OutputResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Output guard stage panicked",
				"stage", stage.Name(), "panic", r)
			result = OutputRejected{
				Reason:   fmt.Sprintf("stage failure: %v", r),
				Category: CategorySystemError,
				Stage:    stage.Name(),
			}
		}
	}()
	return stage.Inspect(ctx, cmd)
}

func (p *OutputPipeline) record(rec AuditRecord) {
	if p.audit != nil {
		p.audit.Record(rec)
	}
}

// auditResultFor maps output results onto the input-result union the audit
// sink consumes, so one sink serves both pipelines.
func auditResultFor(res OutputResult) Result {
	switch r := res.(type) {
	case OutputRejected:
		return Rejected{Reason: r.Reason, Category: r.Category, Stage: r.Stage}
	case OutputModified:
		return Allowed{Hints: []string{"modified:" + r.Reason}}
	default:
		return Allowed{}
	}
}
