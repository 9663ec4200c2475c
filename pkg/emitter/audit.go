package emitter

import (
	"log/slog"

	"github.com/wardenlabs/warden/pkg/guard"
	"github.com/wardenlabs/warden/pkg/metric"
)

// MetricAuditSink publishes a GuardEvent for every guard rejection. Allowed
// stage passes are not persisted; only decisions that changed the outcome
// produce events.
//
// The sink is a cheap per-run value: the orchestrator constructs one with
// the resolved tenant before running the pipelines.
type MetricAuditSink struct {
	pub      Publisher
	tenantID string
	logger   *slog.Logger
}

// NewMetricAuditSink builds a sink bound to one tenant.
func NewMetricAuditSink(pub Publisher, tenantID string) *MetricAuditSink {
	return &MetricAuditSink{
		pub:      pub,
		tenantID: tenantID,
		logger:   slog.With("component", "emitter"),
	}
}

// Record implements guard.AuditSink.
func (s *MetricAuditSink) Record(rec guard.AuditRecord) {
	rejected, ok := rec.Result.(guard.Rejected)
	if !ok {
		return
	}
	ev := &metric.GuardEvent{
		Meta:          metric.NewMeta(s.tenantID),
		Stage:         rec.Stage,
		Category:      string(rejected.Category),
		ReasonDetail:  metric.Truncate(rejected.Reason, metric.MaxMessageLen),
		IsOutputGuard: rec.IsOutputGuard,
		Action:        "rejected",
	}
	if !s.pub.Publish(ev) {
		s.logger.Warn("Guard event dropped, buffer full", "stage", rec.Stage)
	}
}
