package api

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/wardenlabs/warden/pkg/guard"
	"github.com/wardenlabs/warden/pkg/services"
)

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.cfg.Rules.List(c.Request.Context())
	if err != nil {
		s.serverError(c, "list rules", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) upsertRule(c *gin.Context) {
	var r guard.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload"})
		return
	}
	r.ID = c.Param("id")

	if r.Action != guard.RuleActionBlock && r.Action != guard.RuleActionMask {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be block or mask"})
		return
	}
	// Reject invalid patterns here rather than letting the stage skip them
	// silently at evaluation time.
	if _, err := regexp.Compile(r.Pattern); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pattern: " + err.Error()})
		return
	}

	if err := s.cfg.Rules.Upsert(c.Request.Context(), r); err != nil {
		s.serverError(c, "upsert rule", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) deleteRule(c *gin.Context) {
	err := s.cfg.Rules.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
	case err != nil:
		s.serverError(c, "delete rule", err)
	default:
		c.Status(http.StatusNoContent)
	}
}
