package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/photogate/photogate/internal/logger"
	"github.com/photogate/photogate/pkg/admission"
	"github.com/photogate/photogate/pkg/api"
	"github.com/photogate/photogate/pkg/blob"
	"github.com/photogate/photogate/pkg/blob/local"
	"github.com/photogate/photogate/pkg/blob/s3"
	"github.com/photogate/photogate/pkg/config"
	"github.com/photogate/photogate/pkg/metrics"
	"github.com/photogate/photogate/pkg/pipeline"
	"github.com/photogate/photogate/pkg/record/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the PhotoGate server",
	Long: `Start the PhotoGate server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/photogate/config.yaml. Without a
config file the server starts with defaults: SQLite records, local blob
storage under ./uploads and port 3000.

Examples:
  # Start with default config location
  photogate start

  # Start with custom config file
  photogate start --config /etc/photogate/config.yaml

  # Start with environment variable overrides
  PHOTOGATE_LOGGING_LEVEL=DEBUG PORT=8080 photogate start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting PhotoGate", "version", Version,
		"log_level", cfg.Logging.Level, "storage", cfg.Storage.Type,
		"database", cfg.Database.Type)

	records, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			logger.Error("record store close error", "error", err)
		}
	}()

	blobs, staticDir, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	runner := pipeline.New(records, blobs, cfg.Analyzer, pipeline.Config{
		Development: cfg.Development,
	})
	svc := admission.New(records, blobs, runner, admission.Config{Pool: cfg.Workers})
	defer func() {
		if err := svc.Shutdown(); err != nil {
			logger.Error("worker pool shutdown error", "error", err)
		}
	}()

	deps := api.RouterDeps{
		Service:     svc,
		Records:     records,
		Development: cfg.Development,
		StaticDir:   staticDir,
	}
	if cfg.Metrics.Enabled {
		m := metrics.New()
		runner.SetMetrics(m)
		svc.SetQueueMetrics(m)
		deps.Metrics = m
	}

	server := api.NewServer(cfg.Server, api.NewRouter(deps))
	return server.Start(ctx)
}

// buildBlobStore opens the configured blob backend. For local storage it
// also returns the directory the HTTP layer serves under /uploads/.
func buildBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, string, error) {
	switch cfg.Storage.Type {
	case "s3":
		s, err := s3.NewFromConfig(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, "", err
		}
		return s, "", nil
	default:
		s, err := local.New(cfg.Storage.Local)
		if err != nil {
			return nil, "", err
		}
		return s, s.BaseDir(), nil
	}
}
