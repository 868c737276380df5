package config

import (
	"strings"
	"time"

	"github.com/photogate/photogate/pkg/analyze"
)

// ApplyDefaults sets defaults for any unspecified configuration fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(cfg)
	cfg.Server.ApplyDefaults()
	cfg.Database.ApplyDefaults()
	applyStorageDefaults(&cfg.Storage)
	applyAnalyzerDefaults(&cfg.Analyzer)
	cfg.Workers.ApplyDefaults()

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "local"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.Local.BaseDir == "" {
		cfg.Local.BaseDir = "uploads"
	}
	if cfg.Local.BaseURL == "" {
		cfg.Local.BaseURL = "http://localhost:3000/uploads"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// applyAnalyzerDefaults fills any zeroed threshold with the canonical
// value, section by section, so a config file can override a single
// threshold without restating the rest.
func applyAnalyzerDefaults(cfg *analyze.Config) {
	def := analyze.DefaultConfig()
	if cfg.Size == (analyze.SizeConfig{}) {
		cfg.Size = def.Size
	}
	if cfg.Face == (analyze.FaceConfig{}) {
		cfg.Face = def.Face
	}
	if cfg.Blur == (analyze.BlurConfig{}) {
		cfg.Blur = def.Blur
	}
	if cfg.Hash == (analyze.HashConfig{}) {
		cfg.Hash = def.Hash
	}
}

// GetDefaultConfig returns the full default configuration, used when no
// config file exists and by the init command to write a starter file.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
