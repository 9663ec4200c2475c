package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wardenlabs/warden/pkg/services"
	"github.com/wardenlabs/warden/pkg/tenant"
)

func (s *Server) listTenants(c *gin.Context) {
	tenants, err := s.cfg.Tenants.List(c.Request.Context())
	if err != nil {
		s.serverError(c, "list tenants", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

func (s *Server) getTenant(c *gin.Context) {
	t, err := s.cfg.Tenants.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, tenant.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	}
	if err != nil {
		s.serverError(c, "get tenant", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) createTenant(c *gin.Context) {
	var t tenant.Tenant
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant payload"})
		return
	}
	if t.Quota == (tenant.Quota{}) {
		t.Quota = tenant.DefaultQuotaFor(t.Plan)
	}

	err := s.cfg.Tenants.Create(c.Request.Context(), t)
	switch {
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "tenant already exists"})
	case err != nil:
		// Validation failures surface as 400 with the reason.
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, t)
	}
}

func (s *Server) updateTenant(c *gin.Context) {
	var t tenant.Tenant
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant payload"})
		return
	}
	t.ID = c.Param("id")

	err := s.cfg.Tenants.Update(c.Request.Context(), t)
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, t)
	}
}

func (s *Server) deleteTenant(c *gin.Context) {
	err := s.cfg.Tenants.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) serverError(c *gin.Context, op string, err error) {
	s.logger.Error("Request failed", "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
