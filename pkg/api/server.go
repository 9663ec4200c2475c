// Package api serves the admin HTTP surface: metric ingest, platform
// health, tenant/rule/pricing administration, and prometheus exposition.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardenlabs/warden/pkg/database"
	"github.com/wardenlabs/warden/pkg/guard"
	"github.com/wardenlabs/warden/pkg/metric"
	"github.com/wardenlabs/warden/pkg/pricing"
	"github.com/wardenlabs/warden/pkg/services"
	"github.com/wardenlabs/warden/pkg/tenant"
	"github.com/wardenlabs/warden/pkg/version"
)

// RuleAdmin mutates the output-guard rule store at runtime.
type RuleAdmin interface {
	List(ctx context.Context) ([]guard.Rule, error)
	Upsert(ctx context.Context, r guard.Rule) error
	Delete(ctx context.Context, id string) error
}

// PricingAdmin mutates the pricing store at runtime.
type PricingAdmin interface {
	List(ctx context.Context) ([]pricing.Record, error)
	Upsert(ctx context.Context, rec pricing.Record) error
}

// EventQuerier reads back persisted metric events.
type EventQuerier interface {
	RecentEvents(ctx context.Context, tenantID string, limit int) ([]services.StoredEvent, error)
}

// Config wires the server's collaborators. Nil optional fields disable the
// corresponding endpoints with 404 (Events) or omit the check (DB).
type Config struct {
	Pipeline *metric.Pipeline
	Tenants  tenant.Store
	Rules    RuleAdmin
	Pricing  PricingAdmin
	Events   EventQuerier
	DB       *database.Client
	Runner   AgentRunner
}

// Server is the admin HTTP server.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	httpSrv *http.Server
}

// NewServer creates a server. Call Router for a handler or Start to listen.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: slog.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	if s.cfg.Pipeline != nil {
		registry.MustRegister(s.cfg.Pipeline.Collector())
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	r.POST("/v1/run", s.runAgent)

	admin := r.Group("/admin", resolveTenant())
	{
		admin.POST("/metrics/ingest/batch", s.ingestBatch)
		admin.POST("/metrics/ingest/eval-results", s.ingestBatch)
		admin.POST("/metrics/ingest/:type", s.ingestOne)
		admin.GET("/metrics/recent", s.recentEvents)
		admin.GET("/platform/health", s.platformHealth)

		admin.GET("/tenants", s.listTenants)
		admin.POST("/tenants", s.createTenant)
		admin.GET("/tenants/:id", s.getTenant)
		admin.PUT("/tenants/:id", s.updateTenant)
		admin.DELETE("/tenants/:id", s.deleteTenant)

		admin.GET("/guard/rules", s.listRules)
		admin.PUT("/guard/rules/:id", s.upsertRule)
		admin.DELETE("/guard/rules/:id", s.deleteRule)

		admin.GET("/pricing", s.listPricing)
		admin.POST("/pricing", s.createPricing)
	}

	return r
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
