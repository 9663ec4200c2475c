package emitter

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/wardenlabs/warden/pkg/hook"
	"github.com/wardenlabs/warden/pkg/metric"
)

// Metadata key prefixes for human-in-the-loop approval results. The indexed
// form "<prefix><tool>_<idx>" records one entry per invocation; the legacy
// unindexed form "<prefix><tool>" carries only the last approval for a tool
// and is read only when no indexed entry exists for that tool.
const (
	MetaKeyHitlWaitMsPrefix          = "hitlWaitMs_"
	MetaKeyHitlApprovedPrefix        = "hitlApproved_"
	MetaKeyHitlRejectionReasonPrefix = "hitlRejectionReason_"
)

// HitlEmitterHook publishes one HitlEvent per approval decision recorded in
// the run metadata. Order 201 runs it right after metric collection.
type HitlEmitterHook struct {
	hook.Base
	pub    Publisher
	logger *slog.Logger
}

// NewHitlEmitterHook builds the hook over the given publisher.
func NewHitlEmitterHook(pub Publisher) *HitlEmitterHook {
	return &HitlEmitterHook{
		Base:   hook.Base{HookName: "HitlEmitter", HookOrder: 201},
		pub:    pub,
		logger: slog.With("component", "emitter"),
	}
}

// hitlEntry is one approval decision recovered from metadata.
type hitlEntry struct {
	tool    string
	idx     int
	indexed bool
}

// AfterAgentComplete scans the metadata snapshot for approval records and
// publishes them.
func (h *HitlEmitterHook) AfterAgentComplete(_ context.Context, hctx *hook.Context, _ *hook.Response) error {
	meta := hctx.MetaSnapshot()

	var entries []hitlEntry
	indexedTools := make(map[string]bool)
	for key := range meta {
		rest, ok := strings.CutPrefix(key, MetaKeyHitlWaitMsPrefix)
		if !ok {
			continue
		}
		tool, idx, indexed := splitIndexedKey(rest)
		entries = append(entries, hitlEntry{tool: tool, idx: idx, indexed: indexed})
		if indexed {
			indexedTools[tool] = true
		}
	}

	// Deterministic emission order: tool name, then call index.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].tool != entries[j].tool {
			return entries[i].tool < entries[j].tool
		}
		return entries[i].idx < entries[j].idx
	})

	for _, e := range entries {
		// Indexed entries supersede the legacy unindexed one.
		if !e.indexed && indexedTools[e.tool] {
			continue
		}
		suffix := e.tool
		if e.indexed {
			suffix = e.tool + "_" + strconv.Itoa(e.idx)
		}

		waitMs, ok := metaNumeric(meta, MetaKeyHitlWaitMsPrefix+suffix)
		if !ok {
			h.logger.Warn("Skipping approval record with non-numeric wait",
				"tool", e.tool, "key", MetaKeyHitlWaitMsPrefix+suffix)
			continue
		}

		approved := metaBool(meta, MetaKeyHitlApprovedPrefix+suffix)
		reason, _ := meta[MetaKeyHitlRejectionReasonPrefix+suffix].(string)

		h.publish(&metric.HitlEvent{
			Meta:            metric.NewMeta(hctx.TenantID()),
			RunID:           hctx.RunID,
			ToolName:        e.tool,
			Approved:        approved,
			WaitMs:          waitMs,
			RejectionReason: metric.Truncate(reason, metric.MaxMessageLen),
		})
	}
	return nil
}

func (h *HitlEmitterHook) publish(ev metric.Event) {
	if !h.pub.Publish(ev) {
		h.logger.Warn("Metric event dropped, buffer full", "type", ev.EventType())
	}
}

// splitIndexedKey separates "<tool>_<idx>" into its parts. Tool names may
// themselves contain underscores, so only a trailing all-digit segment
// counts as an index.
func splitIndexedKey(rest string) (tool string, idx int, indexed bool) {
	cut := strings.LastIndex(rest, "_")
	if cut <= 0 || cut == len(rest)-1 {
		return rest, 0, false
	}
	n, err := strconv.Atoi(rest[cut+1:])
	if err != nil || n < 0 {
		return rest, 0, false
	}
	return rest[:cut], n, true
}

// metaNumeric reads a numeric metadata value. Approval metadata arriving
// over the wire is often string-typed, so numeric strings parse too. The
// second return is false for missing or non-numeric values.
func metaNumeric(meta map[string]any, key string) (int64, bool) {
	switch v := meta[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// metaBool reads a bool metadata value, accepting string forms. Missing or
// unparseable values default to false: approval is never assumed.
func metaBool(meta map[string]any, key string) bool {
	switch v := meta[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	default:
		return false
	}
}
