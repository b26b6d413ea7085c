package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// Validate checks a loaded configuration for inconsistencies
func (v *Validator) Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if cfg.Providers.OpenAIAPIKey == "" && cfg.Providers.AnthropicAPIKey == "" {
		return fmt.Errorf("at least one completion provider API key is required")
	}

	if cfg.Engine.CompletionTimeout <= 0 {
		return fmt.Errorf("completion timeout must be positive")
	}
	if cfg.Engine.ClassifierTimeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive")
	}

	if cfg.Sweeper.Enabled {
		if cfg.Sweeper.Schedule == "" {
			return fmt.Errorf("sweeper schedule cannot be empty when sweeper is enabled")
		}
		if cfg.Sweeper.IdleTTL <= 0 {
			return fmt.Errorf("sweeper idle TTL must be positive")
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}
