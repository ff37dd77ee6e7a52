package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// LLMConfig contains all settings for the Gemini generation client and the
// backoff controller that wraps it.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name"     validate:"required"`

	// MaxRetries bounds in-call retry attempts inside the backoff controller.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0,lte=10"`

	// TotalTimeoutSeconds is the overall deadline budget for one generation
	// call, retries included.
	TotalTimeoutSeconds int `mapstructure:"total_timeout_seconds" validate:"gt=0"`

	// MaxConcurrent caps simultaneous in-flight generation calls per process.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gt=0"`

	// RequestsPerSecond smooths the request rate to the Gemini API.
	RequestsPerSecond int `mapstructure:"requests_per_second" validate:"gt=0"`
}

// WorkerConfig contains settings for the background queue workers and sweeps.
type WorkerConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize   int `mapstructure:"queue_size" validate:"gt=0"`

	// StaleClaimMinutes is how long a queue entry may sit in processing
	// before the sweep reclaims it.
	StaleClaimMinutes int `mapstructure:"stale_claim_minutes" validate:"gt=0"`

	// SweepSchedule is a cron expression for the stale-claim and
	// pending-usage sweeps.
	SweepSchedule string `mapstructure:"sweep_schedule" validate:"required"`

	// BatchBudgetSeconds is the wall-clock budget for one sweep batch; the
	// sweep stops claiming new entries once it is exhausted.
	BatchBudgetSeconds int `mapstructure:"batch_budget_seconds" validate:"gt=0"`
}

// TotalTimeout returns the configured overall generation deadline budget.
func (c LLMConfig) TotalTimeout() time.Duration {
	return time.Duration(c.TotalTimeoutSeconds) * time.Second
}

// StaleClaimAge returns the stale-claim threshold as a duration.
func (c WorkerConfig) StaleClaimAge() time.Duration {
	return time.Duration(c.StaleClaimMinutes) * time.Minute
}

// BatchBudget returns the per-batch wall-clock budget as a duration.
func (c WorkerConfig) BatchBudget() time.Duration {
	return time.Duration(c.BatchBudgetSeconds) * time.Second
}
