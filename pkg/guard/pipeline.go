package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Pipeline runs a command through its stages in order and returns the first
// Rejected, or Allowed when every stage passes. Normalization hints emitted
// by a stage replace cmd.Text for all later stages (and for the caller).
//
// Fail-close: a stage panic becomes Rejected{SYSTEM_ERROR}. A programming
// error must never bypass safety checks.
type Pipeline struct {
	stages []Stage
	audit  AuditSink // may be nil
	logger *slog.Logger
}

// NewPipeline builds a pipeline from the given stages, dropping disabled
// ones and sorting by ascending order.
func NewPipeline(audit AuditSink, stages ...Stage) *Pipeline {
	enabled := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s.Enabled() {
			enabled = append(enabled, s)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Order() < enabled[j].Order() })
	return &Pipeline{
		stages: enabled,
		audit:  audit,
		logger: slog.With("component", "guard"),
	}
}

// Stages returns the ordered, enabled stage names (for diagnostics).
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run evaluates the command. The returned Rejected (if any) is stamped with
// the stage name.
func (p *Pipeline) Run(ctx context.Context, cmd *Command) Result {
	for _, stage := range p.stages {
		start := time.Now()
		result := p.checkStage(ctx, stage, cmd)
		p.record(AuditRecord{
			Stage:    stage.Name(),
			Result:   result,
			Duration: time.Since(start),
		})

		switch res := result.(type) {
		case Allowed:
			if text, ok := normalizedText(res.Hints); ok {
				cmd.Text = text
			}
		case Rejected:
			res.Stage = stage.Name()
			p.logger.Info("Guard rejected request",
				"stage", stage.Name(),
				"category", res.Category,
				"user_id", cmd.UserID,
				"tenant_id", cmd.TenantID())
			return res
		}
	}
	return Allowed{}
}

// checkStage invokes one stage, converting panics into SYSTEM_ERROR
// rejections (fail-close).
func (p *Pipeline) checkStage(ctx context.Context, stage Stage, cmd *Command) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Guard stage panicked",
				"stage", stage.Name(), "panic", r)
			result = Rejected{
				Reason:   fmt.Sprintf("stage failure: %v", r),
				Category: CategorySystemError,
				Stage:    stage.Name(),
			}
		}
	}()
	return stage.Check(ctx, cmd)
}

func (p *Pipeline) record(rec AuditRecord) {
	if p.audit != nil {
		p.audit.Record(rec)
	}
}

func normalizedText(hints []string) (string, bool) {
	for _, h := range hints {
		if strings.HasPrefix(h, NormalizedHintPrefix) {
			return strings.TrimPrefix(h, NormalizedHintPrefix), true
		}
	}
	return "", false
}
