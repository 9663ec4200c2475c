package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/metric"
)

// MaxBatchSize bounds one ingest batch.
const MaxBatchSize = 1000

// decodeEvent unmarshals a raw payload into the typed event for eventType,
// stamping missing identity fields from the request context.
func decodeEvent(eventType string, data []byte, tenantID string) (metric.Event, error) {
	var ev metric.Event
	switch metric.Type(eventType) {
	case metric.TypeAgentExecution:
		ev = &metric.AgentExecutionEvent{}
	case metric.TypeToolCall:
		ev = &metric.ToolCallEvent{}
	case metric.TypeTokenUsage:
		ev = &metric.TokenUsageEvent{}
	case metric.TypeGuard:
		ev = &metric.GuardEvent{}
	case metric.TypeQuota:
		ev = &metric.QuotaEvent{}
	case metric.TypeHitl:
		ev = &metric.HitlEvent{}
	case metric.TypeMCPHealth:
		ev = &metric.MCPHealthEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", eventType, err)
	}
	stampMeta(ev, tenantID)
	return ev, nil
}

// stampMeta fills identity fields the caller omitted. The Meta struct is
// embedded by value, so reach it through the concrete type.
func stampMeta(ev metric.Event, tenantID string) {
	meta := ev.EventMeta()
	if meta.EventID == "" {
		meta.EventID = uuid.NewString()
	}
	if meta.TenantID == "" {
		meta.TenantID = tenantID
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	switch v := ev.(type) {
	case *metric.AgentExecutionEvent:
		v.Meta = meta
	case *metric.ToolCallEvent:
		v.Meta = meta
	case *metric.TokenUsageEvent:
		v.Meta = meta
	case *metric.GuardEvent:
		v.Meta = meta
	case *metric.QuotaEvent:
		v.Meta = meta
	case *metric.HitlEvent:
		v.Meta = meta
	case *metric.MCPHealthEvent:
		v.Meta = meta
	}
}

// ingestOne handles POST /admin/metrics/ingest/:type. 202 when buffered,
// 503 when the buffer refuses the event.
func (s *Server) ingestOne(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	ev, err := decodeEvent(c.Param("type"), body, requestTenant(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.cfg.Pipeline.Publish(ev) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metric buffer full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event_id": ev.EventMeta().EventID})
}

type batchItem struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ingestBatch handles POST /admin/metrics/ingest/batch (and eval-results,
// which shares the envelope). Accepts up to MaxBatchSize items and reports
// per-batch counts; undecodable or unbuffered items count as dropped.
func (s *Server) ingestBatch(c *gin.Context) {
	var items []batchItem
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch envelope"})
		return
	}
	if len(items) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("batch exceeds %d items", MaxBatchSize)})
		return
	}

	tenantID := requestTenant(c)
	accepted, dropped := 0, 0
	for _, item := range items {
		ev, err := decodeEvent(item.Type, item.Payload, tenantID)
		if err != nil {
			dropped++
			continue
		}
		if s.cfg.Pipeline.Publish(ev) {
			accepted++
		} else {
			dropped++
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "dropped": dropped})
}

// recentEvents handles GET /admin/metrics/recent?tenant=&limit=.
func (s *Server) recentEvents(c *gin.Context) {
	if s.cfg.Events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event store not configured"})
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	events, err := s.cfg.Events.RecentEvents(c.Request.Context(), c.Query("tenant"), limit)
	if err != nil {
		s.logger.Error("Recent events query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
