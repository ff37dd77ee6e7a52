package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults cover everything that has a sane zero-config value; secrets
	// (API key, database URL) must come from the environment.
	v.SetDefault("server.port", 8080)
	// Empty defaults register the secret keys with viper so AutomaticEnv
	// overrides reach Unmarshal; validation rejects them if left empty.
	v.SetDefault("database.url", "")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.total_timeout_seconds", 120)
	v.SetDefault("llm.max_concurrent", 4)
	v.SetDefault("llm.requests_per_second", 5)
	v.SetDefault("worker.worker_count", 2)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.stale_claim_minutes", 10)
	v.SetDefault("worker.sweep_schedule", "@every 1m")
	v.SetDefault("worker.batch_budget_seconds", 45)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DECKGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the environment can carry everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
