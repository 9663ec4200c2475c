package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/guard"
	"github.com/wardenlabs/warden/pkg/metric"
	"github.com/wardenlabs/warden/pkg/orchestrator"
	"github.com/wardenlabs/warden/pkg/pricing"
	"github.com/wardenlabs/warden/pkg/services"
	"github.com/wardenlabs/warden/pkg/tenant"
)

type discardStore struct{}

func (discardStore) BatchInsert(context.Context, []metric.Event) error { return nil }

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *metric.Pipeline) {
	t.Helper()
	pipeline := metric.NewPipeline(discardStore{}, nil, metric.PipelineConfig{BufferCapacity: 64})
	cfg := Config{
		Pipeline: pipeline,
		Tenants:  tenant.NewMemoryStore(),
		Rules:    MemoryRuleAdmin{Store: guard.NewMemoryRuleStore()},
		Pricing:  MemoryPricingAdmin{Store: pricing.NewMemoryStore()},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewServer(cfg), pipeline
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestOne(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		s, pipeline := newTestServer(t, nil)
		w := doJSON(t, s, http.MethodPost, "/admin/metrics/ingest/guard",
			map[string]any{"stage": "RateLimit", "category": "rate_limited"},
			map[string]string{tenant.HeaderTenantID: "acme"})

		require.Equal(t, http.StatusAccepted, w.Code)
		assert.NotEmpty(t, decodeBody(t, w)["event_id"])

		events := pipeline.Buffer().Drain(10)
		require.Len(t, events, 1)
		g, ok := events[0].(*metric.GuardEvent)
		require.True(t, ok)
		assert.Equal(t, "acme", g.TenantID, "tenant stamped from header")
		assert.Equal(t, "RateLimit", g.Stage)
		assert.False(t, g.Timestamp.IsZero())
	})

	t.Run("default tenant without header", func(t *testing.T) {
		s, pipeline := newTestServer(t, nil)
		w := doJSON(t, s, http.MethodPost, "/admin/metrics/ingest/tool_call",
			map[string]any{"tool_name": "search"}, nil)

		require.Equal(t, http.StatusAccepted, w.Code)
		events := pipeline.Buffer().Drain(10)
		require.Len(t, events, 1)
		assert.Equal(t, "default", events[0].EventMeta().TenantID)
	})

	t.Run("unknown type", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		w := doJSON(t, s, http.MethodPost, "/admin/metrics/ingest/bogus",
			map[string]any{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("buffer full returns 503", func(t *testing.T) {
		s, pipeline := newTestServer(t, nil)
		for i := 0; i < pipeline.Buffer().Capacity(); i++ {
			require.True(t, pipeline.Publish(&metric.GuardEvent{Meta: metric.NewMeta("t")}))
		}
		w := doJSON(t, s, http.MethodPost, "/admin/metrics/ingest/guard",
			map[string]any{"stage": "x"}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestIngestBatch(t *testing.T) {
	t.Run("mixed batch reports counts", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		batch := []map[string]any{
			{"type": "guard", "payload": map[string]any{"stage": "PIIMasking"}},
			{"type": "token_usage", "payload": map[string]any{"model": "m", "prompt_tokens": 10}},
			{"type": "nonsense", "payload": map[string]any{}},
		}
		w := doJSON(t, s, http.MethodPost, "/admin/metrics/ingest/batch", batch, nil)

		require.Equal(t, http.StatusAccepted, w.Code)
		body := decodeBody(t, w)
		assert.EqualValues(t, 2, body["accepted"])
		assert.EqualValues(t, 1, body["dropped"])
	})

	t.Run("oversized batch rejected", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		batch := make([]map[string]any, MaxBatchSize+1)
		for i := range batch {
			batch[i] = map[string]any{"type": "guard", "payload": map[string]any{}}
		}
		w := doJSON(t, s, http.MethodPost, "/admin/metrics/ingest/batch", batch, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("eval results shares the envelope", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		batch := []map[string]any{
			{"type": "agent_execution", "payload": map[string]any{"run_id": "r1", "success": true}},
		}
		w := doJSON(t, s, http.MethodPost, "/admin/metrics/ingest/eval-results", batch, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.EqualValues(t, 1, decodeBody(t, w)["accepted"])
	})
}

func TestPlatformHealth(t *testing.T) {
	s, pipeline := newTestServer(t, nil)

	// Overflow two events so the dropped counter is visible.
	for i := 0; i < pipeline.Buffer().Capacity()+2; i++ {
		pipeline.Publish(&metric.GuardEvent{Meta: metric.NewMeta("t")})
	}

	w := doJSON(t, s, http.MethodGet, "/admin/platform/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)

	pipelineHealth, ok := body["pipeline"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, pipelineHealth["dropped_total"])

	buffer, ok := body["buffer"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 64, buffer["capacity"])
	assert.EqualValues(t, 2, buffer["dropped_total"])
	assert.Equal(t, healthStatusDegraded, body["status"], "full buffer degrades status")
}

func TestTenantCRUD(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/admin/tenants", map[string]any{
		"id": "acme", "name": "Acme", "plan": "PRO", "status": "ACTIVE",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodGet, "/admin/tenants/acme", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got tenant.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, tenant.PlanPro, got.Plan)
	assert.Equal(t, tenant.DefaultQuotaFor(tenant.PlanPro), got.Quota, "plan quota defaulted")

	// Invalid slug rejected.
	w = doJSON(t, s, http.MethodPost, "/admin/tenants", map[string]any{
		"id": "Not A Slug", "name": "x", "plan": "FREE", "status": "ACTIVE",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPut, "/admin/tenants/acme", map[string]any{
		"name": "Acme", "plan": "PRO", "status": "SUSPENDED",
		"quota": tenant.DefaultQuotaFor(tenant.PlanPro),
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/admin/tenants/acme", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/admin/tenants/acme", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodGet, "/admin/tenants", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRuleAdmin(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPut, "/admin/guard/rules/block-internal", map[string]any{
		"pattern": "(?i)internal-only", "action": "block", "priority": 5, "enabled": true,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPut, "/admin/guard/rules/bad-pattern", map[string]any{
		"pattern": "[unclosed", "action": "block",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPut, "/admin/guard/rules/bad-action", map[string]any{
		"pattern": "x", "action": "nuke",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/admin/guard/rules", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rules, ok := decodeBody(t, w)["rules"].([]any)
	require.True(t, ok)
	assert.Len(t, rules, 1)

	w = doJSON(t, s, http.MethodDelete, "/admin/guard/rules/block-internal", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPricingAdmin(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/admin/pricing", map[string]any{
		"provider": "anthropic", "model": "claude-sonnet-4-20250514",
		"valid_from": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		"prompt_per_1k": 0.003, "completion_per_1k": 0.015,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/admin/pricing", map[string]any{
		"provider": "anthropic",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/admin/pricing", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	records, ok := decodeBody(t, w)["records"].([]any)
	require.True(t, ok)
	assert.Len(t, records, 1)
}

type fakeRunner struct{ last orchestrator.Request }

func (r *fakeRunner) Run(_ context.Context, req orchestrator.Request) *orchestrator.Response {
	r.last = req
	if req.Prompt == "busy" {
		return &orchestrator.Response{
			RunID:     "r1",
			ErrorCode: orchestrator.CodeRateLimited,
		}
	}
	return &orchestrator.Response{RunID: "r1", Success: true, Output: "ok"}
}

func TestRunAgent(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{}
		s, _ := newTestServer(t, func(cfg *Config) { cfg.Runner = runner })
		w := doJSON(t, s, http.MethodPost, "/v1/run",
			map[string]any{"user_id": "u1", "prompt": "hi"},
			map[string]string{tenant.HeaderTenantID: "acme"})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", decodeBody(t, w)["output"])
		assert.Equal(t, "acme", runner.last.TenantHeader)
	})

	t.Run("rate limited maps to 429", func(t *testing.T) {
		s, _ := newTestServer(t, func(cfg *Config) { cfg.Runner = &fakeRunner{} })
		w := doJSON(t, s, http.MethodPost, "/v1/run", map[string]any{"prompt": "busy"}, nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("missing prompt", func(t *testing.T) {
		s, _ := newTestServer(t, func(cfg *Config) { cfg.Runner = &fakeRunner{} })
		w := doJSON(t, s, http.MethodPost, "/v1/run", map[string]any{"user_id": "u1"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not configured", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		w := doJSON(t, s, http.MethodPost, "/v1/run", map[string]any{"prompt": "hi"}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

type fakeQuerier struct{ events []services.StoredEvent }

func (q fakeQuerier) RecentEvents(_ context.Context, tenantID string, _ int) ([]services.StoredEvent, error) {
	if tenantID == "" {
		return q.events, nil
	}
	var out []services.StoredEvent
	for _, ev := range q.events {
		if ev.TenantID == tenantID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestRecentEvents(t *testing.T) {
	querier := fakeQuerier{events: []services.StoredEvent{
		{EventID: "e1", TenantID: "acme", EventType: "guard"},
		{EventID: "e2", TenantID: "globex", EventType: "tool_call"},
	}}
	s, _ := newTestServer(t, func(cfg *Config) { cfg.Events = querier })

	w := doJSON(t, s, http.MethodGet, "/admin/metrics/recent", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events, ok := decodeBody(t, w)["events"].([]any)
	require.True(t, ok)
	assert.Len(t, events, 2)

	w = doJSON(t, s, http.MethodGet, "/admin/metrics/recent?tenant=acme", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events, ok = decodeBody(t, w)["events"].([]any)
	require.True(t, ok)
	assert.Len(t, events, 1)

	t.Run("not configured", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		w := doJSON(t, s, http.MethodGet, "/admin/metrics/recent", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPrometheusEndpoint(t *testing.T) {
	s, pipeline := newTestServer(t, nil)
	pipeline.Publish(&metric.GuardEvent{Meta: metric.NewMeta("t")})

	w := doJSON(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "warden_metric_buffer_usage_percent")
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestBatchEnvelopeErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/admin/metrics/ingest/batch",
		bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
