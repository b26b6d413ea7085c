package config

import (
	"time"
)

// Config represents the main Stateflow configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// SQLite storage
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Completion providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Model selection
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Turn engine tuning
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Stale conversation sweeper
	Sweeper SweeperConfig `json:"sweeper" mapstructure:"sweeper"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `json:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// ProvidersConfig holds completion provider credentials
type ProvidersConfig struct {
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
}

// ModelsConfig holds model selection configuration
type ModelsConfig struct {
	Default string   `json:"default" mapstructure:"default"`
	Allowed []string `json:"allowed" mapstructure:"allowed"`
}

// EngineConfig holds turn engine configuration
type EngineConfig struct {
	CompletionTimeout time.Duration `json:"completion_timeout" mapstructure:"completion_timeout"`
	ClassifierTimeout time.Duration `json:"classifier_timeout" mapstructure:"classifier_timeout"`
}

// SweeperConfig holds stale conversation sweeper configuration
type SweeperConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Schedule string        `json:"schedule" mapstructure:"schedule"`
	IdleTTL  time.Duration `json:"idle_ttl" mapstructure:"idle_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a configuration with sane defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ShutdownTimeout: 15 * time.Second,
		},
		Models: ModelsConfig{
			Default: "gpt-3.5-turbo",
		},
		Engine: EngineConfig{
			CompletionTimeout: 60 * time.Second,
			ClassifierTimeout: 30 * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "*/10 * * * *",
			IdleTTL:  2 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}
