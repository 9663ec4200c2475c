package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenlabs/warden/pkg/emitter"
	"github.com/wardenlabs/warden/pkg/hook"
)

// UsageRecordingHook accumulates per-month usage counters after each run.
// Order 210 places it after the metric emitters so it never delays them.
//
// Runs rejected before any model work (no tokens, not successful) are not
// charged against the tenant.
type UsageRecordingHook struct {
	hook.Base
	store  UsageStore
	cache  *UsageCache // invalidated after writes when set
	now    func() time.Time
	logger *slog.Logger
}

// NewUsageRecordingHook builds the hook. cache may be nil.
func NewUsageRecordingHook(store UsageStore, cache *UsageCache) *UsageRecordingHook {
	return &UsageRecordingHook{
		Base:   hook.Base{HookName: "UsageRecording", HookOrder: 210},
		store:  store,
		cache:  cache,
		now:    time.Now,
		logger: slog.With("component", "usage"),
	}
}

// AfterAgentComplete charges one request plus the run's token total.
func (h *UsageRecordingHook) AfterAgentComplete(ctx context.Context, hctx *hook.Context, resp *hook.Response) error {
	var tokens int64
	if v, ok := hctx.Meta(emitter.MetaKeyTotalTokens); ok {
		if n, ok := v.(int64); ok {
			tokens = n
		}
	}
	if !resp.Success && tokens == 0 {
		return nil
	}

	tenantID := hctx.TenantID()
	if tenantID == "" {
		tenantID = DefaultTenantID
	}

	month := h.now()
	if err := h.store.AddUsage(ctx, tenantID, month, 1, tokens); err != nil {
		return fmt.Errorf("recording usage for tenant %q: %w", tenantID, err)
	}
	if h.cache != nil {
		h.cache.Invalidate(tenantID, month)
	}
	return nil
}
