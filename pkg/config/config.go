// Package config loads warden.yaml, expands environment variables, merges
// the result over built-in defaults, and validates it.
package config

import "time"

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Writer    WriterConfig    `yaml:"writer"`
	Guard     GuardConfig     `yaml:"guard"`
	Quota     QuotaConfig     `yaml:"quota"`
	Request   RequestConfig   `yaml:"request"`
	Retry     RetryConfig     `yaml:"retry"`
	LLM       LLMConfig       `yaml:"llm"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds the admin HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds Postgres connection settings. When Enabled is false
// the platform runs entirely on in-memory stores.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	MaxConns       int    `yaml:"maxConns"`
	MigrateOnStart bool   `yaml:"migrateOnStart"`
}

// BufferConfig sizes the metric ring buffer. Capacity is rounded up to the
// next power of two by the buffer itself, minimum 64.
type BufferConfig struct {
	Capacity int `yaml:"capacity"`
}

// WriterConfig controls the batching metric writer.
type WriterConfig struct {
	BatchSize       int `yaml:"batchSize"`
	FlushIntervalMs int `yaml:"flushIntervalMs"`
	Threads         int `yaml:"threads"`
	WriteTimeoutMs  int `yaml:"writeTimeoutMs"`
}

// FlushInterval returns the flush period as a duration.
func (w WriterConfig) FlushInterval() time.Duration {
	return time.Duration(w.FlushIntervalMs) * time.Millisecond
}

// WriteTimeout returns the per-batch insert timeout as a duration.
func (w WriterConfig) WriteTimeout() time.Duration {
	return time.Duration(w.WriteTimeoutMs) * time.Millisecond
}

// TenantRateLimit overrides the global rate limits for one tenant.
type TenantRateLimit struct {
	PerMinute int `yaml:"perMinute"`
	PerHour   int `yaml:"perHour"`
}

// GuardConfig tunes the input guard stages.
type GuardConfig struct {
	RatePerMinute            int                        `yaml:"ratePerMinute"`
	RatePerHour              int                        `yaml:"ratePerHour"`
	TenantRateLimits         map[string]TenantRateLimit `yaml:"tenantRateLimits"`
	InputMinChars            int                        `yaml:"inputMinChars"`
	InputMaxChars            int                        `yaml:"inputMaxChars"`
	SystemPromptMaxChars     int                        `yaml:"systemPromptMaxChars"`
	UnicodeMaxZeroWidthRatio float64                    `yaml:"unicodeMaxZeroWidthRatio"`
	TopicDriftEnabled        bool                       `yaml:"topicDriftEnabled"`
	TopicDriftThreshold      float64                    `yaml:"topicDriftThreshold"`
	TopicDriftWindowSize     int                        `yaml:"topicDriftWindowSize"`
}

// QuotaConfig tunes quota enforcement.
type QuotaConfig struct {
	WarningPercent float64 `yaml:"warningPercent"`
}

// RequestConfig bounds request handling.
type RequestConfig struct {
	TimeoutMs       int `yaml:"timeoutMs"`
	CompleteGraceMs int `yaml:"completeGraceMs"`
}

// Timeout returns the request wall-clock deadline as a duration.
func (r RequestConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// CompleteGrace returns the after-complete hook budget as a duration.
func (r RequestConfig) CompleteGrace() time.Duration {
	return time.Duration(r.CompleteGraceMs) * time.Millisecond
}

// RetryConfig is the LLM retry policy.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"maxAttempts"`
	InitialDelayMs int     `yaml:"initialDelayMs"`
	Multiplier     float64 `yaml:"multiplier"`
	MaxDelayMs     int     `yaml:"maxDelayMs"`
}

// InitialDelay returns the first backoff delay as a duration.
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff ceiling as a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
	MaxTokens int64  `yaml:"maxTokens"`
}

// RetentionConfig controls metric event retention.
type RetentionConfig struct {
	EventRetentionDays     int `yaml:"eventRetentionDays"`
	CleanupIntervalMinutes int `yaml:"cleanupIntervalMinutes"`
}

// CleanupInterval returns how often the retention loop runs.
func (r RetentionConfig) CleanupInterval() time.Duration {
	return time.Duration(r.CleanupIntervalMinutes) * time.Minute
}

// EventTTL returns the maximum metric event age.
func (r RetentionConfig) EventTTL() time.Duration {
	return time.Duration(r.EventRetentionDays) * 24 * time.Hour
}

// DefaultConfig returns the built-in defaults a warden.yaml merges over.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Enabled:        false,
			MaxConns:       10,
			MigrateOnStart: true,
		},
		Buffer: BufferConfig{
			Capacity: 8192,
		},
		Writer: WriterConfig{
			BatchSize:       500,
			FlushIntervalMs: 1000,
			Threads:         1,
			WriteTimeoutMs:  5000,
		},
		Guard: GuardConfig{
			RatePerMinute:            20,
			RatePerHour:              300,
			InputMinChars:            1,
			InputMaxChars:            10000,
			SystemPromptMaxChars:     32000,
			UnicodeMaxZeroWidthRatio: 0.10,
			TopicDriftThreshold:      0.7,
			TopicDriftWindowSize:     6,
		},
		Quota: QuotaConfig{
			WarningPercent: 0.9,
		},
		Request: RequestConfig{
			TimeoutMs:       30000,
			CompleteGraceMs: 5000,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 500,
			Multiplier:     2.0,
			MaxDelayMs:     8000,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
		},
		Retention: RetentionConfig{
			EventRetentionDays:     90,
			CleanupIntervalMinutes: 720,
		},
	}
}
