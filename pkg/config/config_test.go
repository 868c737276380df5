package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/photogate/photogate/pkg/record/store"
)

// isolateConfigDir points the default config location at an empty
// directory so a developer's real config never leaks into tests.
func isolateConfigDir(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolateConfigDir(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "INFO" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Storage.Type != "local" {
		t.Errorf("expected local storage, got %s", cfg.Storage.Type)
	}
	if cfg.Storage.Local.BaseURL != "http://localhost:3000/uploads" {
		t.Errorf("unexpected base url %s", cfg.Storage.Local.BaseURL)
	}
	if cfg.Database.Type != store.DatabaseTypeSQLite {
		t.Errorf("expected sqlite default, got %s", cfg.Database.Type)
	}
	if cfg.Analyzer.Size.MinWidth != 800 || cfg.Analyzer.Size.MinHeight != 800 {
		t.Errorf("unexpected analyzer size defaults %+v", cfg.Analyzer.Size)
	}
	if cfg.Analyzer.Hash.MaxHammingDistance != 3 {
		t.Errorf("unexpected hash defaults %+v", cfg.Analyzer.Hash)
	}
	if cfg.Workers.Workers < 1 || cfg.Workers.QueueSize < 1 {
		t.Errorf("worker defaults not applied: %+v", cfg.Workers)
	}
	if cfg.Development {
		t.Error("development must default to off")
	}
}

func TestLoadEnvAliases(t *testing.T) {
	isolateConfigDir(t)
	t.Setenv("PORT", "8080")
	t.Setenv("APP_URL", "https://cdn.example.com/uploads")
	t.Setenv("STORAGE_TYPE", "local")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("PORT alias ignored, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Local.BaseURL != "https://cdn.example.com/uploads" {
		t.Errorf("APP_URL alias ignored, got %s", cfg.Storage.Local.BaseURL)
	}
}

func TestLoadNodeEnvDevelopment(t *testing.T) {
	isolateConfigDir(t)
	t.Setenv("NODE_ENV", "development")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Development {
		t.Error("NODE_ENV=development must enable development mode")
	}
}

func TestLoadConfigFile(t *testing.T) {
	isolateConfigDir(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 4321
logging:
  level: debug
analyzer:
  size:
    min_width: 1024
    min_height: 1024
    min_bytes: 1
`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 4321 {
		t.Errorf("expected port 4321, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected level DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Analyzer.Size.MinWidth != 1024 {
		t.Errorf("expected min width 1024, got %d", cfg.Analyzer.Size.MinWidth)
	}
	// Sections absent from the file still get defaults.
	if cfg.Analyzer.Hash.MaxHammingDistance != 3 {
		t.Errorf("hash defaults missing: %+v", cfg.Analyzer.Hash)
	}
}

func TestValidate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		if err := Validate(GetDefaultConfig()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = "LOUD"
		if err := Validate(cfg); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Server.Port = 70000
		if err := Validate(cfg); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("s3 requires bucket", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Storage.Type = "s3"
		if err := Validate(cfg); err == nil {
			t.Error("expected error")
		}
	})
}

func TestSaveAndReloadConfig(t *testing.T) {
	isolateConfigDir(t)

	cfg := GetDefaultConfig()
	cfg.Server.Port = 4500
	cfg.Storage.Local.BaseDir = "/var/photogate/uploads"

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Server.Port != 4500 {
		t.Errorf("expected port 4500, got %d", loaded.Server.Port)
	}
	if loaded.Storage.Local.BaseDir != "/var/photogate/uploads" {
		t.Errorf("unexpected base dir %s", loaded.Storage.Local.BaseDir)
	}
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := InitConfigToPath(path, false); err == nil {
		t.Error("expected refusal to overwrite without force")
	}
	if err := InitConfigToPath(path, true); err != nil {
		t.Errorf("force overwrite failed: %v", err)
	}
}
