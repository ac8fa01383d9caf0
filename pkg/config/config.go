// Package config loads engine configuration from YAML and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ErrMissingCredentialsKey is returned when CREDENTIALS_KEY is not set.
// The engine refuses to start without it: generating an ephemeral key would
// orphan every stored credential on the next restart.
var ErrMissingCredentialsKey = errors.New("CREDENTIALS_KEY is not set; generate one with: openssl rand -base64 32")

// Config holds all configuration for matwana-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Uploads   UploadsConfig   `yaml:"uploads"`

	// CredentialsKey encrypts data source credentials at rest.
	// Must be a 32-byte key, base64 encoded. Load fails if unset.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"matwana"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"matwana_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// URL builds a connection string for pgx.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds optional Redis payload cache configuration.
// Leave Host empty to disable Redis; cached payloads then live only in
// the data_sources row.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AuthConfig holds JWT verification settings.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// SigningSecret verifies HS256 tokens issued by the web layer.
	SigningSecret string `yaml:"-" env:"AUTH_SIGNING_SECRET"` // Secret - not in YAML
}

// FetcherConfig bounds outbound fetch behavior.
type FetcherConfig struct {
	// DefaultTimeoutSeconds applies when a data source has no timeout set.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds" env:"FETCH_DEFAULT_TIMEOUT_SECONDS" env-default:"30"`
	// MinTimeoutSeconds / MaxTimeoutSeconds clamp per-source timeouts.
	MinTimeoutSeconds int `yaml:"min_timeout_seconds" env:"FETCH_MIN_TIMEOUT_SECONDS" env-default:"5"`
	MaxTimeoutSeconds int `yaml:"max_timeout_seconds" env:"FETCH_MAX_TIMEOUT_SECONDS" env-default:"300"`
	// DownloadTimeoutSeconds bounds link-source file downloads.
	DownloadTimeoutSeconds int `yaml:"download_timeout_seconds" env:"FETCH_DOWNLOAD_TIMEOUT_SECONDS" env-default:"60"`
}

// ClampTimeout returns the effective timeout for a per-source setting.
func (c *FetcherConfig) ClampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = c.DefaultTimeoutSeconds
	}
	if seconds < c.MinTimeoutSeconds {
		seconds = c.MinTimeoutSeconds
	}
	if seconds > c.MaxTimeoutSeconds {
		seconds = c.MaxTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// SchedulerConfig controls the auto-refresh loop.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	// TickSpec is a cron expression for the due-source scan.
	TickSpec string `yaml:"tick_spec" env:"SCHEDULER_TICK_SPEC" env-default:"@every 30s"`
	// Workers bounds concurrent refreshes per tick.
	Workers int `yaml:"workers" env:"SCHEDULER_WORKERS" env-default:"4"`
	// LogRetentionDays prunes refresh logs older than this. Zero disables
	// pruning.
	LogRetentionDays int `yaml:"log_retention_days" env:"SCHEDULER_LOG_RETENTION_DAYS" env-default:"30"`
}

// UploadsConfig locates uploaded data source files.
type UploadsConfig struct {
	Dir string `yaml:"dir" env:"UPLOADS_DIR" env-default:"uploads"`
}

// Load reads configuration from config.yaml (if present) and environment.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if cfg.CredentialsKey == "" {
		return nil, ErrMissingCredentialsKey
	}
	if cfg.Auth.EnableVerification && cfg.Auth.SigningSecret == "" {
		return nil, fmt.Errorf("AUTH_SIGNING_SECRET is required when auth verification is enabled")
	}
	if cfg.Fetcher.MinTimeoutSeconds > cfg.Fetcher.MaxTimeoutSeconds {
		return nil, fmt.Errorf("fetcher min timeout %ds exceeds max %ds",
			cfg.Fetcher.MinTimeoutSeconds, cfg.Fetcher.MaxTimeoutSeconds)
	}

	return cfg, nil
}
