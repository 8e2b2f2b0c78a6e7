// Package config loads the service configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (sc ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", sc.Host, sc.Port)
}

// DatabaseConfig holds the sqlite backend configuration
type DatabaseConfig struct {
	// Path to the database file. ":memory:" runs without persistence.
	Path string `mapstructure:"path"`
}

// WorkerConfig holds task processing configuration
type WorkerConfig struct {
	Pollers           int           `mapstructure:"pollers"`
	MaxParallelTasks  int           `mapstructure:"max_parallel_tasks"`
	PollingInterval   time.Duration `mapstructure:"polling_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ActivityTimeout   time.Duration `mapstructure:"activity_timeout"`
	MaxRetryAttempts  int           `mapstructure:"max_retry_attempts"`
}

// StorageConfig holds document storage configuration
type StorageConfig struct {
	// Directory generated invoice documents are written to
	DocumentDir string `mapstructure:"document_dir"`
}

// NotifyConfig holds email notification configuration. An empty SMTP address
// disables notifications.
type NotifyConfig struct {
	SMTPAddr string `mapstructure:"smtp_addr"`
	From     string `mapstructure:"from"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from the given file and environment variables.
// An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INVOICEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/invoiceflow.db")

	v.SetDefault("worker.pollers", 2)
	v.SetDefault("worker.max_parallel_tasks", 20)
	v.SetDefault("worker.polling_interval", 200*time.Millisecond)
	v.SetDefault("worker.heartbeat_interval", 25*time.Second)
	v.SetDefault("worker.activity_timeout", time.Minute)
	v.SetDefault("worker.max_retry_attempts", 3)

	v.SetDefault("storage.document_dir", "data/invoices")

	v.SetDefault("notify.smtp_addr", "")
	v.SetDefault("notify.from", "invoices@localhost")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")

	v.SetDefault("tracing.enabled", false)
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}

	if c.Worker.Pollers <= 0 {
		return fmt.Errorf("worker pollers must be positive, got %d", c.Worker.Pollers)
	}

	if c.Worker.MaxRetryAttempts <= 0 {
		return fmt.Errorf("worker max retry attempts must be positive, got %d", c.Worker.MaxRetryAttempts)
	}

	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logger.Level)
	}

	switch c.Logger.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logger.Format)
	}

	return nil
}
