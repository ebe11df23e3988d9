package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken      string `env:"GITHUB_TOKEN"`
	GraphQLURL       string `env:"GITHUB_GRAPHQL_URL" env-default:"https://api.github.com/graphql"`
	APIURL           string `env:"GITHUB_API_URL" env-default:"https://api.github.com/"`
	HideMergeCommits bool   `env:"HIDE_MERGE_COMMITS" env-default:"true"`

	// Collection
	StatsRetries    int           `env:"STATS_RETRIES" env-default:"3"`
	StatsRetryDelay time.Duration `env:"STATS_RETRY_DELAY" env-default:"2s"`
	RequestMinDelay time.Duration `env:"REQUEST_MIN_DELAY" env-default:"100ms"`

	// Run journal
	StorageType string `env:"STORAGE_TYPE" env-default:"sqlite"` // "sqlite", "postgres" or "none"
	SQLitePath  string `env:"SQLITE_PATH" env-default:"./runs.db"`
	PostgresURL string `env:"POSTGRES_URL"`

	// Finished batch runs kept in memory by the API server
	BatchRetention   time.Duration `env:"BATCH_RETENTION" env-default:"15m"`
	BatchMaxFinished int           `env:"BATCH_MAX_FINISHED" env-default:"100"`

	// API Server
	APIPort string `env:"API_PORT" env-default:"8080"`
	APIHost string `env:"API_HOST" env-default:"localhost"`

	// CLI
	APIEndpoint string `env:"API_ENDPOINT" env-default:"http://localhost:8080"`

	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.StorageType {
	case "sqlite", "postgres", "none":
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'none'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.GraphQLURL == "" {
		return &ConfigError{Field: "GITHUB_GRAPHQL_URL", Message: "must not be empty"}
	}
	if c.StatsRetries < 0 {
		return &ConfigError{Field: "STATS_RETRIES", Message: "must not be negative"}
	}
	if c.BatchRetention <= 0 {
		return &ConfigError{Field: "BATCH_RETENTION", Message: "must be positive"}
	}
	if c.BatchMaxFinished <= 0 {
		return &ConfigError{Field: "BATCH_MAX_FINISHED", Message: "must be positive"}
	}
	return nil
}

// RequireToken validates that a GitHub token is configured
func (c *Config) RequireToken() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
