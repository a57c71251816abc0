package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage backend names accepted in Config.Storage.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all configuration for guest-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the pseudonymization key, database password) must only come from
// environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Storage selects the session store backend: "memory" or "postgres".
	Storage string `yaml:"storage" env:"STORAGE_BACKEND" env-default:"memory"`

	// Guest session lifecycle parameters.
	Guest GuestConfig `yaml:"guest"`

	// Database configuration (PostgreSQL; used when storage is "postgres").
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is the directory holding SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// PseudonymSecretKey keys the HMAC used to fingerprint IP addresses and
	// user-agents, and salts audit checksums. It must be identical across
	// all instances; rotating it orphans every stored fingerprint.
	// Generate with: openssl rand -base64 32
	PseudonymSecretKey string `yaml:"-" env:"PSEUDONYM_SECRET_KEY"` // Secret - not in YAML
}

// GuestConfig holds guest session lifecycle settings.
type GuestConfig struct {
	// SessionTTLMinutes is how long a guest session stays active.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" env:"GUEST_SESSION_TTL_MINUTES" env-default:"30"`
	// AIRequestsLimit caps AI generations per guest session.
	AIRequestsLimit int `yaml:"ai_requests_limit" env:"GUEST_AI_REQUESTS_LIMIT" env-default:"10"`
	// DeletionGraceDays is the right-to-erasure grace period.
	DeletionGraceDays int `yaml:"deletion_grace_days" env:"GUEST_DELETION_GRACE_DAYS" env-default:"30"`
	// RetentionDays is the storage-limitation cutoff for the sweep.
	RetentionDays int `yaml:"retention_days" env:"GUEST_RETENTION_DAYS" env-default:"30"`
	// SweepIntervalMinutes is how often the lifecycle sweep runs.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" env:"GUEST_SWEEP_INTERVAL_MINUTES" env-default:"15"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"guestengine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"guest_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that cleanenv defaults cannot.
func (c *Config) Validate() error {
	if c.Storage != StorageMemory && c.Storage != StoragePostgres {
		return fmt.Errorf("invalid storage backend %q (want %q or %q)", c.Storage, StorageMemory, StoragePostgres)
	}
	if c.PseudonymSecretKey == "" {
		return fmt.Errorf("PSEUDONYM_SECRET_KEY must be set")
	}
	if c.Guest.SessionTTLMinutes <= 0 {
		return fmt.Errorf("guest session TTL must be positive, got %d", c.Guest.SessionTTLMinutes)
	}
	if c.Guest.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative, got %d", c.Guest.RetentionDays)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
