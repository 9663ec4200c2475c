// Warden server — runs the metric pipeline, the admin HTTP surface, and the
// guarded agent endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wardenlabs/warden/pkg/agent"
	"github.com/wardenlabs/warden/pkg/api"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/database"
	"github.com/wardenlabs/warden/pkg/emitter"
	"github.com/wardenlabs/warden/pkg/guard"
	"github.com/wardenlabs/warden/pkg/hook"
	"github.com/wardenlabs/warden/pkg/llm"
	"github.com/wardenlabs/warden/pkg/metric"
	"github.com/wardenlabs/warden/pkg/orchestrator"
	"github.com/wardenlabs/warden/pkg/pricing"
	"github.com/wardenlabs/warden/pkg/services"
	"github.com/wardenlabs/warden/pkg/tenant"
	"github.com/wardenlabs/warden/pkg/tool"
	"github.com/wardenlabs/warden/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("WARDEN_CONFIG", "warden.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	// 1. Configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// 2. Stores: Postgres when enabled, in-memory otherwise
	var (
		dbClient *database.Client

		eventStore   metric.EventStore
		eventQuerier api.EventQuerier
		tenantStore  tenant.Store
		usageStore   tenant.UsageStore
		pricingStore pricing.Store
		pricingAdmin api.PricingAdmin
		ruleStore    guard.RuleStore
		ruleAdmin    api.RuleAdmin
	)
	if cfg.Database.Enabled {
		dbClient, err = database.NewClient(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")

		pgEvents := services.NewPostgresEventStore(dbClient.DB())
		eventStore = pgEvents
		eventQuerier = pgEvents

		tenantStore, err = services.NewPostgresTenantStore(ctx, dbClient.DB())
		if err != nil {
			slog.Error("Failed to initialize tenant store", "error", err)
			os.Exit(1)
		}
		usageStore = services.NewPostgresUsageStore(dbClient.DB())

		pgPricing, err := services.NewPostgresPricingStore(ctx, dbClient.DB())
		if err != nil {
			slog.Error("Failed to initialize pricing store", "error", err)
			os.Exit(1)
		}
		pricingStore = pgPricing
		pricingAdmin = pgPricing

		pgRules, err := services.NewPostgresRuleStore(ctx, dbClient.DB())
		if err != nil {
			slog.Error("Failed to initialize rule store", "error", err)
			os.Exit(1)
		}
		ruleStore = pgRules
		ruleAdmin = pgRules
	} else {
		slog.Warn("Database disabled, using in-memory stores")
		eventStore = metric.NewMemoryEventStore(0)
		tenantStore = tenant.NewMemoryStore()
		usageStore = tenant.NewMemoryUsageStore()

		memPricing := pricing.NewMemoryStore()
		pricingStore = memPricing
		pricingAdmin = api.MemoryPricingAdmin{Store: memPricing}

		memRules := guard.NewMemoryRuleStore()
		ruleStore = memRules
		ruleAdmin = api.MemoryRuleAdmin{Store: memRules}
	}

	// 3. Metric pipeline
	calculator := pricing.NewCalculator(pricingStore, 0)
	pipeline := metric.NewPipeline(eventStore, calculator, metric.PipelineConfig{
		BufferCapacity: cfg.Buffer.Capacity,
		Writer: metric.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval(),
			Threads:       cfg.Writer.Threads,
			WriteTimeout:  cfg.Writer.WriteTimeout(),
		},
	})
	pipeline.Start(ctx)
	slog.Info("Metric pipeline started",
		"capacity", pipeline.Buffer().Capacity(),
		"batch_size", cfg.Writer.BatchSize)

	// 4. Retention loop (needs the database's delete path)
	var retention *database.Retention
	if pgEvents, ok := eventStore.(*services.PostgresEventStore); ok {
		retention = database.NewRetention(cfg.Retention, pgEvents)
		retention.Start(ctx)
		slog.Info("Retention service started",
			"retention_days", cfg.Retention.EventRetentionDays)
	}

	// 5. Hooks
	usageCache := tenant.NewUsageCache(usageStore, 0)
	registry := hook.NewRegistry(
		tenant.NewQuotaEnforcementHook(tenantStore, usageCache, pipeline, cfg.Quota.WarningPercent),
		emitter.NewMetricCollectionHook(pipeline),
		emitter.NewHitlEmitterHook(pipeline),
		tenant.NewUsageRecordingHook(usageStore, usageCache),
	)

	// 6. Guard stages
	overrides := make(map[string]guard.RateLimits, len(cfg.Guard.TenantRateLimits))
	for id, l := range cfg.Guard.TenantRateLimits {
		overrides[id] = guard.RateLimits{PerMinute: l.PerMinute, PerHour: l.PerHour}
	}
	inputStages := []guard.Stage{
		guard.NewUnicodeNormalizationStage(guard.UnicodeConfig{
			MaxZeroWidthRatio: cfg.Guard.UnicodeMaxZeroWidthRatio,
		}),
		guard.NewRateLimitStage(guard.RateLimitConfig{
			Defaults: guard.RateLimits{
				PerMinute: cfg.Guard.RatePerMinute,
				PerHour:   cfg.Guard.RatePerHour,
			},
			TenantOverrides: overrides,
		}),
		guard.NewInputValidationStage(guard.ValidationConfig{
			MinChars:             cfg.Guard.InputMinChars,
			MaxChars:             cfg.Guard.InputMaxChars,
			SystemPromptMaxChars: cfg.Guard.SystemPromptMaxChars,
		}),
		guard.NewInjectionDetectionStage(),
		guard.NewTopicDriftStage(guard.TopicDriftConfig{
			Enabled:    cfg.Guard.TopicDriftEnabled,
			Threshold:  cfg.Guard.TopicDriftThreshold,
			WindowSize: cfg.Guard.TopicDriftWindowSize,
		}),
	}
	outputStages := []guard.OutputStage{
		guard.NewCanaryDetectionStage(),
		guard.NewRuleStage(ruleStore, 0),
		guard.NewPIIMaskingStage(),
	}

	// 7. Agent runner, when an LLM key is configured
	var runner api.AgentRunner
	if apiKey := os.Getenv(cfg.LLM.APIKeyEnv); apiKey != "" {
		provider, err := llm.NewAnthropicProvider(apiKey, cfg.LLM.Model)
		if err != nil {
			slog.Error("Failed to initialize LLM provider", "error", err)
			os.Exit(1)
		}
		client := llm.NewRetryingClient(provider, llm.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay(),
			Multiplier:   cfg.Retry.Multiplier,
			MaxDelay:     cfg.Retry.MaxDelay(),
		})
		core := agent.NewCompletionCore(client, pipeline, agent.CoreConfig{
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		runner = orchestrator.New(orchestrator.Config{
			Registry:       registry,
			InputStages:    inputStages,
			OutputStages:   outputStages,
			Resolver:       tenant.NewResolver(""),
			Tools:          tool.NewRegistry(),
			Core:           core,
			Publisher:      pipeline,
			RequestTimeout: cfg.Request.Timeout(),
			CompleteGrace:  cfg.Request.CompleteGrace(),
		})
		slog.Info("Agent runner initialized",
			"provider", cfg.LLM.Provider,
			"model", cfg.LLM.Model)
	} else {
		slog.Warn("LLM API key not set, /v1/run disabled", "env", cfg.LLM.APIKeyEnv)
	}

	// 8. HTTP server
	server := api.NewServer(api.Config{
		Pipeline: pipeline,
		Tenants:  tenantStore,
		Rules:    ruleAdmin,
		Pricing:  pricingAdmin,
		Events:   eventQuerier,
		DB:       dbClient,
		Runner:   runner,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Warden started", "version", version.Full(), "port", cfg.Server.Port)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: drain HTTP, stop retention, flush the pipeline
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if retention != nil {
		retention.Stop()
	}
	pipeline.Stop()

	slog.Info("Shutdown complete")
}
