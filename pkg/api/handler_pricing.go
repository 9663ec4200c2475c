package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wardenlabs/warden/pkg/pricing"
)

func (s *Server) listPricing(c *gin.Context) {
	records, err := s.cfg.Pricing.List(c.Request.Context())
	if err != nil {
		s.serverError(c, "list pricing", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) createPricing(c *gin.Context) {
	var rec pricing.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pricing payload"})
		return
	}
	if rec.Provider == "" || rec.Model == "" || rec.ValidFrom.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider, model, and valid_from are required"})
		return
	}
	if rec.ValidTo != nil && !rec.ValidTo.After(rec.ValidFrom) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid_to must be after valid_from"})
		return
	}

	if err := s.cfg.Pricing.Upsert(c.Request.Context(), rec); err != nil {
		s.serverError(c, "create pricing", err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}
