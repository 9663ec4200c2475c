package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wardenlabs/warden/pkg/database"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// platformHealth handles GET /admin/platform/health: pipeline counters,
// buffer pressure, and the database check when one is configured.
func (s *Server) platformHealth(c *gin.Context) {
	status := healthStatusHealthy
	resp := gin.H{}

	if s.cfg.Pipeline != nil {
		snap := s.cfg.Pipeline.Health()
		resp["pipeline"] = snap
		resp["buffer"] = gin.H{
			"capacity":      s.cfg.Pipeline.Buffer().Capacity(),
			"usage_percent": s.cfg.Pipeline.Buffer().UsagePercent(),
			"dropped_total": s.cfg.Pipeline.Buffer().DroppedCount(),
		}
		if snap.WriteErrorsTotal > 0 || snap.BufferUsagePercent > 90 {
			status = healthStatusDegraded
		}
	}

	if s.cfg.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(ctx, s.cfg.DB.DB())
		resp["database"] = dbHealth
		if err != nil {
			status = healthStatusUnhealthy
		}
	}

	resp["status"] = status
	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}
