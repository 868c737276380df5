// Package config loads the PhotoGate configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/photogate/photogate/internal/logger"
	"github.com/photogate/photogate/pkg/admission"
	"github.com/photogate/photogate/pkg/analyze"
	"github.com/photogate/photogate/pkg/api"
	"github.com/photogate/photogate/pkg/blob/local"
	"github.com/photogate/photogate/pkg/blob/s3"
	"github.com/photogate/photogate/pkg/record/store"
)

// Config is the PhotoGate service configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PHOTOGATE_*, plus the short aliases below)
//  2. Configuration file (YAML)
//  3. Default values
//
// Short environment aliases kept for operational compatibility:
// PORT, APP_URL, STORAGE_TYPE, DATABASE_URL, NODE_ENV=development.
type Config struct {
	// Logging controls log output behavior.
	Logging logger.Config `mapstructure:"logging" yaml:"logging" validate:"required"`

	// Server contains HTTP server settings.
	Server api.ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the image record store (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Storage selects and configures the blob backend.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Analyzer carries every pipeline stage threshold.
	Analyzer analyze.Config `mapstructure:"analyzer" yaml:"analyzer"`

	// Workers sizes the background pipeline worker pool.
	Workers admission.PoolConfig `mapstructure:"workers" yaml:"workers"`

	// Metrics toggles the Prometheus /metrics endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Development enables stack traces in error responses and raw error
	// detail on failed records.
	Development bool `mapstructure:"development" yaml:"development"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	// Type is "local" or "s3".
	Type string `mapstructure:"type" yaml:"type" validate:"oneof=local s3"`

	Local local.Config `mapstructure:"local" yaml:"local"`
	S3    s3.Config    `mapstructure:"s3" yaml:"s3"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment and defaults. An empty
// configPath uses the default location and falls back to pure defaults
// when no file exists there.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound || len(v.AllKeys()) > 0 {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration via struct tags plus the checks tags
// cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("invalid log format %q", cfg.Logging.Format)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Storage.Type == "s3" && cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage type s3 requires a bucket name")
	}
	return cfg.Database.Validate()
}

// SaveConfig writes the configuration as YAML. Restrictive permissions:
// the file may carry blob store credentials.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support and the config file
// search path.
func setupViper(v *viper.Viper, configPath string) {
	// PHOTOGATE_ prefixed variables map onto config keys, for example
	// PHOTOGATE_LOGGING_LEVEL=DEBUG.
	v.SetEnvPrefix("PHOTOGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases used by existing deployments.
	_ = v.BindEnv("server.port", "PHOTOGATE_SERVER_PORT", "PORT")
	_ = v.BindEnv("storage.type", "PHOTOGATE_STORAGE_TYPE", "STORAGE_TYPE")
	_ = v.BindEnv("storage.local.base_url", "PHOTOGATE_STORAGE_LOCAL_BASE_URL", "APP_URL")
	_ = v.BindEnv("storage.s3.bucket", "PHOTOGATE_STORAGE_S3_BUCKET", "S3_BUCKET")
	_ = v.BindEnv("storage.s3.region", "PHOTOGATE_STORAGE_S3_REGION", "S3_REGION")
	_ = v.BindEnv("storage.s3.access_key_id", "PHOTOGATE_STORAGE_S3_ACCESS_KEY_ID", "S3_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.s3.secret_access_key", "PHOTOGATE_STORAGE_S3_SECRET_ACCESS_KEY", "S3_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.s3.endpoint", "PHOTOGATE_STORAGE_S3_ENDPOINT", "S3_ENDPOINT")
	_ = v.BindEnv("database.postgres.host", "PHOTOGATE_DATABASE_POSTGRES_HOST", "DATABASE_HOST")
	_ = v.BindEnv("development", "PHOTOGATE_DEVELOPMENT")

	if env := os.Getenv("NODE_ENV"); strings.EqualFold(env, "development") {
		v.SetDefault("development", true)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is acceptable; defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks converts string durations like "30s" into
// time.Duration during unmarshalling.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/photogate, falling back to
// ~/.config/photogate, or the current directory as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "photogate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "photogate")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file is present at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
