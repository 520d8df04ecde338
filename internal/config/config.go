// Package config loads runtime settings from an optional YAML file, COUNTERS_
// environment variables and built-in defaults, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/insights"
	"github.com/dvloznov/period-counters/internal/jobs/inmemory"
)

// EnvPrefix is prepended to every environment variable, e.g. COUNTERS_QUEUE_WORKERS.
const EnvPrefix = "COUNTERS"

// Store backends.
const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
)

// Config is the full runtime configuration.
type Config struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Store           string `mapstructure:"store"`
	DefaultUserID   string `mapstructure:"default_user_id"`

	Insights InsightsConfig `mapstructure:"insights"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Server   ServerConfig   `mapstructure:"server"`
	Export   ExportConfig   `mapstructure:"export"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// InsightsConfig configures the insight orchestrator and its model.
type InsightsConfig struct {
	// Enabled false skips the model entirely; every insight uses the fallback.
	Enabled             bool          `mapstructure:"enabled"`
	Model               string        `mapstructure:"model"`
	Timeout             time.Duration `mapstructure:"timeout"`
	Freshness           time.Duration `mapstructure:"freshness"`
	MaxTransactionLines int           `mapstructure:"max_transaction_lines"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
}

// QueueConfig configures the event queue.
type QueueConfig struct {
	BufferSize int           `mapstructure:"buffer_size"`
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

// ServerConfig configures the HTTP event receiver.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	// AuthToken, when set, is required as a bearer token on every API call.
	AuthToken string `mapstructure:"auth_token"`
}

// ExportConfig names the analytics and object storage targets.
type ExportConfig struct {
	BigQueryDataset string `mapstructure:"bigquery_dataset"`
	GCSBucket       string `mapstructure:"gcs_bucket"`

	NotionToken      string `mapstructure:"notion_token"`
	NotionDatabaseID string `mapstructure:"notion_database_id"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default on v. Registering all keys
// also lets AutomaticEnv resolve them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project_id", "")
	v.SetDefault("credentials_file", "")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("default_user_id", domain.DefaultUserID)

	v.SetDefault("insights.enabled", true)
	v.SetDefault("insights.model", insights.DefaultModelName)
	v.SetDefault("insights.timeout", insights.DefaultTimeout)
	v.SetDefault("insights.freshness", insights.DefaultFreshness)
	v.SetDefault("insights.max_transaction_lines", insights.DefaultMaxTransactionLines)
	v.SetDefault("insights.requests_per_second", insights.DefaultRequestsPerSecond)

	v.SetDefault("queue.buffer_size", 100)
	v.SetDefault("queue.workers", inmemory.DefaultWorkers)
	v.SetDefault("queue.max_retries", inmemory.DefaultMaxRetries)
	v.SetDefault("queue.backoff", inmemory.DefaultBackoff)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.auth_token", "")

	v.SetDefault("export.bigquery_dataset", "period_counters")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.notion_token", "")
	v.SetDefault("export.notion_database_id", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. When path is empty, config.yaml is searched for in
// the working directory and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// ReadFile reads the YAML file at path into v.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("ReadFile: reading config: %w", err)
	}
	return nil
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Decode: unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("Validate: project_id is required for the firestore store")
		}
	default:
		return fmt.Errorf("Validate: unknown store %q (want %s or %s)", c.Store, StoreMemory, StoreFirestore)
	}
	if c.DefaultUserID == "" {
		return fmt.Errorf("Validate: default_user_id must not be empty")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("Validate: queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.BufferSize < 0 {
		return fmt.Errorf("Validate: queue.buffer_size must not be negative, got %d", c.Queue.BufferSize)
	}
	if c.Insights.Timeout <= 0 {
		return fmt.Errorf("Validate: insights.timeout must be positive, got %s", c.Insights.Timeout)
	}
	return nil
}

// OrchestratorConfig maps the insights section to insights.Config.
func (c *Config) OrchestratorConfig() insights.Config {
	return insights.Config{
		Timeout:             c.Insights.Timeout,
		Freshness:           c.Insights.Freshness,
		MaxTransactionLines: c.Insights.MaxTransactionLines,
		RequestsPerSecond:   c.Insights.RequestsPerSecond,
	}
}

// QueueOptions maps the queue section to inmemory.QueueOptions.
func (c *Config) QueueOptions() inmemory.QueueOptions {
	return inmemory.QueueOptions{
		Workers:    c.Queue.Workers,
		MaxRetries: c.Queue.MaxRetries,
		Backoff:    c.Queue.Backoff,
	}
}
