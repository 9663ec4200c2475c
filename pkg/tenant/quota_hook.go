package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenlabs/warden/pkg/emitter"
	"github.com/wardenlabs/warden/pkg/hook"
	"github.com/wardenlabs/warden/pkg/metric"
)

// DefaultWarningPercent triggers the near-quota warning event.
const DefaultWarningPercent = 0.9

// CodeQuotaExceeded is the error-taxonomy code surfaced for quota
// rejections.
const CodeQuotaExceeded = "QUOTA_EXCEEDED"

// UsageReader is the read side the enforcer consults. Satisfied by both
// UsageStore implementations and UsageCache.
type UsageReader interface {
	MonthUsage(ctx context.Context, tenantID string, month time.Time) (Usage, error)
}

// QuotaEnforcementHook rejects requests from suspended or over-quota
// tenants before any downstream work happens. Order 5 runs it ahead of all
// business hooks.
//
// Every decision that blocks a request emits a QuotaEvent; the 90% warning
// is emitted at most once per (tenant, month).
type QuotaEnforcementHook struct {
	hook.Base
	tenants        Store
	usage          UsageReader
	pub            emitter.Publisher
	warningPercent float64
	now            func() time.Time
	logger         *slog.Logger

	warned sync.Map // MonthKey -> struct{}
}

// NewQuotaEnforcementHook builds the hook. warningPercent <= 0 uses the
// default.
func NewQuotaEnforcementHook(tenants Store, usage UsageReader, pub emitter.Publisher, warningPercent float64) *QuotaEnforcementHook {
	if warningPercent <= 0 {
		warningPercent = DefaultWarningPercent
	}
	return &QuotaEnforcementHook{
		Base:           hook.Base{HookName: "QuotaEnforcement", HookOrder: 5},
		tenants:        tenants,
		usage:          usage,
		pub:            pub,
		warningPercent: warningPercent,
		now:            time.Now,
		logger:         slog.With("component", "quota"),
	}
}

// BeforeAgentStart implements the enforcement decision tree.
func (h *QuotaEnforcementHook) BeforeAgentStart(ctx context.Context, hctx *hook.Context) (hook.Result, error) {
	tenantID := hctx.TenantID()
	if tenantID == "" {
		tenantID = DefaultTenantID
	}

	t, err := h.tenants.Get(ctx, tenantID)
	if err != nil {
		// Fail-open: an unknown tenant is a configuration problem, not a
		// reason to drop the request.
		return hook.Continue{}, fmt.Errorf("loading tenant %q: %w", tenantID, err)
	}

	if t.Status != StatusActive {
		h.emit(tenantID, metric.QuotaActionRejectedSuspended, Usage{}, t.Quota)
		return hook.Reject{
			Reason: fmt.Sprintf("tenant %q is %s", tenantID, t.Status),
			Code:   CodeQuotaExceeded,
		}, nil
	}

	month := h.now()
	usage, err := h.usage.MonthUsage(ctx, tenantID, month)
	if err != nil {
		return hook.Continue{}, fmt.Errorf("loading usage for tenant %q: %w", tenantID, err)
	}

	if usage.Requests >= t.Quota.MaxRequestsPerMonth {
		h.emit(tenantID, metric.QuotaActionRejectedRequests, usage, t.Quota)
		return hook.Reject{
			Reason: fmt.Sprintf("monthly request quota exhausted (%d/%d)", usage.Requests, t.Quota.MaxRequestsPerMonth),
			Code:   CodeQuotaExceeded,
		}, nil
	}
	if usage.Tokens >= t.Quota.MaxTokensPerMonth {
		h.emit(tenantID, metric.QuotaActionRejectedTokens, usage, t.Quota)
		return hook.Reject{
			Reason: fmt.Sprintf("monthly token quota exhausted (%d/%d)", usage.Tokens, t.Quota.MaxTokensPerMonth),
			Code:   CodeQuotaExceeded,
		}, nil
	}

	if float64(usage.Requests) >= h.warningPercent*float64(t.Quota.MaxRequestsPerMonth) {
		key := MonthKey(tenantID, month)
		if _, already := h.warned.LoadOrStore(key, struct{}{}); !already {
			h.emit(tenantID, metric.QuotaActionWarning, usage, t.Quota)
			h.logger.Warn("Tenant approaching request quota",
				"tenant_id", tenantID,
				"requests", usage.Requests,
				"quota", t.Quota.MaxRequestsPerMonth)
		}
	}
	return hook.Continue{}, nil
}

func (h *QuotaEnforcementHook) emit(tenantID, action string, usage Usage, quota Quota) {
	var percent float64
	if quota.MaxRequestsPerMonth > 0 {
		percent = float64(usage.Requests) / float64(quota.MaxRequestsPerMonth) * 100
	}
	ev := &metric.QuotaEvent{
		Meta:            metric.NewMeta(tenantID),
		Action:          action,
		CurrentRequests: usage.Requests,
		CurrentTokens:   usage.Tokens,
		QuotaRequests:   quota.MaxRequestsPerMonth,
		QuotaTokens:     quota.MaxTokensPerMonth,
		UsagePercent:    percent,
	}
	if !h.pub.Publish(ev) {
		h.logger.Warn("Quota event dropped, buffer full", "tenant_id", tenantID)
	}
}
