package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration. path points at a
// warden.yaml; an empty path or a missing file yields the built-in defaults.
//
// Steps performed:
//  1. Read warden.yaml (optional)
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Info("Config file not found, using defaults", "path", path)
		case err != nil:
			return nil, &LoadError{File: path, Err: err}
		default:
			var user Config
			if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
				return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
			}
			// Non-zero user values override defaults; unset keys keep them.
			if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
				return nil, &LoadError{File: path, Err: err}
			}
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	slog.Info("Configuration initialized",
		"buffer_capacity", cfg.Buffer.Capacity,
		"writer_batch_size", cfg.Writer.BatchSize,
		"database_enabled", cfg.Database.Enabled)
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("must be in 1..65535, got %d", cfg.Server.Port))
	}
	if cfg.Database.Enabled && cfg.Database.URL == "" {
		return NewValidationError("database", "url", fmt.Errorf("required when database is enabled"))
	}
	if cfg.Buffer.Capacity <= 0 {
		return NewValidationError("buffer", "capacity", fmt.Errorf("must be positive, got %d", cfg.Buffer.Capacity))
	}
	if cfg.Writer.BatchSize <= 0 {
		return NewValidationError("writer", "batchSize", fmt.Errorf("must be positive, got %d", cfg.Writer.BatchSize))
	}
	if cfg.Writer.FlushIntervalMs <= 0 {
		return NewValidationError("writer", "flushIntervalMs", fmt.Errorf("must be positive, got %d", cfg.Writer.FlushIntervalMs))
	}
	if cfg.Writer.Threads <= 0 {
		return NewValidationError("writer", "threads", fmt.Errorf("must be positive, got %d", cfg.Writer.Threads))
	}
	if cfg.Guard.InputMinChars < 0 || cfg.Guard.InputMaxChars < cfg.Guard.InputMinChars {
		return NewValidationError("guard", "inputMaxChars",
			fmt.Errorf("bounds must satisfy 0 <= min <= max, got min=%d max=%d", cfg.Guard.InputMinChars, cfg.Guard.InputMaxChars))
	}
	if cfg.Guard.UnicodeMaxZeroWidthRatio < 0 || cfg.Guard.UnicodeMaxZeroWidthRatio > 1 {
		return NewValidationError("guard", "unicodeMaxZeroWidthRatio",
			fmt.Errorf("must be in [0, 1], got %g", cfg.Guard.UnicodeMaxZeroWidthRatio))
	}
	if cfg.Guard.TopicDriftThreshold < 0 || cfg.Guard.TopicDriftThreshold > 1 {
		return NewValidationError("guard", "topicDriftThreshold",
			fmt.Errorf("must be in [0, 1], got %g", cfg.Guard.TopicDriftThreshold))
	}
	if cfg.Guard.TopicDriftWindowSize <= 0 {
		return NewValidationError("guard", "topicDriftWindowSize",
			fmt.Errorf("must be positive, got %d", cfg.Guard.TopicDriftWindowSize))
	}
	for tenantID, limits := range cfg.Guard.TenantRateLimits {
		if limits.PerMinute < 0 || limits.PerHour < 0 {
			return NewValidationError("guard", "tenantRateLimits",
				fmt.Errorf("tenant '%s': limits must be non-negative", tenantID))
		}
	}
	if cfg.Quota.WarningPercent <= 0 || cfg.Quota.WarningPercent > 1 {
		return NewValidationError("quota", "warningPercent",
			fmt.Errorf("must be in (0, 1], got %g", cfg.Quota.WarningPercent))
	}
	if cfg.Request.TimeoutMs <= 0 {
		return NewValidationError("request", "timeoutMs", fmt.Errorf("must be positive, got %d", cfg.Request.TimeoutMs))
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return NewValidationError("retry", "maxAttempts", fmt.Errorf("must be positive, got %d", cfg.Retry.MaxAttempts))
	}
	if cfg.Retry.Multiplier < 1 {
		return NewValidationError("retry", "multiplier", fmt.Errorf("must be >= 1, got %g", cfg.Retry.Multiplier))
	}
	if cfg.Retention.EventRetentionDays <= 0 {
		return NewValidationError("retention", "eventRetentionDays",
			fmt.Errorf("must be positive, got %d", cfg.Retention.EventRetentionDays))
	}
	return nil
}
