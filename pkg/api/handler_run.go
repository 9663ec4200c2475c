package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wardenlabs/warden/pkg/orchestrator"
	"github.com/wardenlabs/warden/pkg/tenant"
)

// AgentRunner executes one guarded agent request end to end.
type AgentRunner interface {
	Run(ctx context.Context, req orchestrator.Request) *orchestrator.Response
}

type runRequest struct {
	UserID    string         `json:"user_id"`
	UserEmail string         `json:"user_email"`
	Prompt    string         `json:"prompt"`
	Channel   string         `json:"channel"`
	Metadata  map[string]any `json:"metadata"`
}

// runAgent handles POST /v1/run. The response body is the full run outcome
// either way; the HTTP status reflects the error code so plain clients can
// branch without parsing it.
func (s *Server) runAgent(c *gin.Context) {
	if s.cfg.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent runner not configured"})
		return
	}

	var body runRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run payload"})
		return
	}
	if body.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	resp := s.cfg.Runner.Run(c.Request.Context(), orchestrator.Request{
		UserID:       body.UserID,
		UserEmail:    body.UserEmail,
		Prompt:       body.Prompt,
		Channel:      body.Channel,
		TenantHeader: c.GetHeader(tenant.HeaderTenantID),
		Metadata:     body.Metadata,
	})
	c.JSON(runStatus(resp), resp)
}

func runStatus(resp *orchestrator.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.ErrorCode {
	case orchestrator.CodeRateLimited, orchestrator.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case orchestrator.CodeTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.CodeGuardRejected, orchestrator.CodeHookRejected, orchestrator.CodeContextTooLong:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
