package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/leadscore/internal/pkg/logger"
	"github.com/ignite/leadscore/internal/scoring"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Scoring  scoring.Config `yaml:"scoring"`
	Decay    DecayConfig    `yaml:"decay"`
	Segments SegmentsConfig `yaml:"segments"`
	Events   EventsConfig   `yaml:"events"`
	Storage  StorageConfig  `yaml:"storage"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the HTTP listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig is optional; without a URL events fall back to the log sink
// and sweeps lock through Postgres advisory locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level            string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	DisableRedaction bool   `yaml:"disable_redaction"`
	File             string `yaml:"file"`
	MaxSizeMB        int    `yaml:"max_size_mb"`
	MaxBackups       int    `yaml:"max_backups"`
	MaxAgeDays       int    `yaml:"max_age_days"`
}

// Options converts the section into logger options.
func (c LoggingConfig) Options() logger.Options {
	return logger.Options{
		Level:      c.Level,
		RedactPII:  !c.DisableRedaction,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}

// DecayConfig is the decay policy plus how sweeps page through leads.
type DecayConfig struct {
	scoring.DecayPolicy `yaml:",inline"`

	PageSize int `yaml:"page_size" validate:"min=0"`
	// PagesPerSecond throttles sweeps; zero means unthrottled.
	PagesPerSecond float64 `yaml:"pages_per_second" validate:"min=0"`
}

// SegmentsConfig tunes the segment synchronizer.
type SegmentsConfig struct {
	PageSize    int `yaml:"page_size" validate:"min=0"`
	Concurrency int `yaml:"concurrency" validate:"min=0,max=256"`
	// SnapshotTTL bounds how stale the active segments seen by single-lead
	// syncs may be. Unset means one minute; a negative value disables caching.
	SnapshotTTL  time.Duration `yaml:"snapshot_ttl"`
	RequireRules bool          `yaml:"require_rules"`
	OwnerScope   bool          `yaml:"owner_scope"`
}

// EventsConfig selects where score and segment events are published.
type EventsConfig struct {
	Sinks           []string          `yaml:"sinks" validate:"dive,oneof=redis log"`
	Queue           string            `yaml:"queue"`
	MaxLen          int64             `yaml:"max_len" validate:"min=0"`
	ReasonTemplates map[string]string `yaml:"reason_templates"`
}

// StorageConfig holds storage configuration for sweep reports
type StorageConfig struct {
	Type          string `yaml:"type" validate:"oneof=local aws none"`
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket" validate:"required_if=Type aws"`
	DynamoDBTable string `yaml:"dynamodb_table" validate:"required_if=Type aws"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"`                                    // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// WorkerConfig schedules the background sweeps. A zero interval disables
// that sweep.
type WorkerConfig struct {
	DecayInterval time.Duration `yaml:"decay_interval" validate:"min=0"`
	SyncInterval  time.Duration `yaml:"sync_interval" validate:"min=0"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	RunOnStart    bool          `yaml:"run_on_start"`
}

// Load reads and parses the configuration file. Scoring tables start from
// the built-in defaults; YAML values override them.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		Scoring: scoring.DefaultConfig(),
		Decay:   DecayConfig{DecayPolicy: scoring.DefaultDecayPolicy()},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Decay.PageSize == 0 {
		cfg.Decay.PageSize = 500
	}
	if cfg.Segments.PageSize == 0 {
		cfg.Segments.PageSize = 500
	}
	if cfg.Segments.Concurrency == 0 {
		cfg.Segments.Concurrency = 8
	}
	if cfg.Segments.SnapshotTTL == 0 {
		cfg.Segments.SnapshotTTL = time.Minute
	}
	if len(cfg.Events.Sinks) == 0 {
		cfg.Events.Sinks = []string{"log"}
	}
	if cfg.Events.Queue == "" {
		cfg.Events.Queue = "leadscore:events"
	}
	if cfg.Events.MaxLen == 0 {
		cfg.Events.MaxLen = 10000
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Worker.LockTTL == 0 {
		cfg.Worker.LockTTL = 10 * time.Minute
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides and
// validates the result. A .env file is loaded first when present, so
// secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STORAGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("STORAGE_DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDBTable = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and that custom scoring rules compile.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Decay.Window < 0 {
		return fmt.Errorf("invalid config: decay window must not be negative")
	}
	if _, err := scoring.NewCalculator(c.Scoring, nil); err != nil {
		return fmt.Errorf("invalid config: scoring: %w", err)
	}
	return nil
}
