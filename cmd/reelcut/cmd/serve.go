package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reelcut/reelcut/internal/admission"
	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/database"
	internalhttp "github.com/reelcut/reelcut/internal/http"
	"github.com/reelcut/reelcut/internal/media"
	"github.com/reelcut/reelcut/internal/modelgw"
	"github.com/reelcut/reelcut/internal/observability"
	"github.com/reelcut/reelcut/internal/pipeline/core"
	"github.com/reelcut/reelcut/internal/pipeline/stages/compileclips"
	"github.com/reelcut/reelcut/internal/pipeline/stages/contentanalyze"
	"github.com/reelcut/reelcut/internal/pipeline/stages/imageextract"
	"github.com/reelcut/reelcut/internal/pipeline/stages/layoutdetect"
	"github.com/reelcut/reelcut/internal/pipeline/stages/segmentselect"
	"github.com/reelcut/reelcut/internal/pipeline/stages/silencedetect"
	"github.com/reelcut/reelcut/internal/pipeline/stages/transcribe"
	"github.com/reelcut/reelcut/internal/progress"
	"github.com/reelcut/reelcut/internal/repository"
	"github.com/reelcut/reelcut/internal/scheduler"
	"github.com/reelcut/reelcut/internal/service"
	"github.com/reelcut/reelcut/internal/storage"
	"github.com/reelcut/reelcut/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reelcut server",
	Long: `Start the reelcut HTTP server, processing workers and retention sweeper.

The server provides:
- REST API for submitting jobs and fetching clips, summaries and quizzes
- Grant-authorized raw media upload endpoint
- WebSocket progress streaming per job
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().Int("workers", 0, "Processing worker count (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	signingKey, err := cfg.Auth.SigningKey()
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}
	masterKey, err := cfg.Auth.MasterKey()
	if err != nil {
		return fmt.Errorf("loading credential master key: %w", err)
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	jobRepo := repository.NewJobRepository(db.DB)
	credRepo := repository.NewCredentialRepository(db.DB)
	artifacts := repository.NewArtifactStore(db.DB)

	blobs, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing blob store: %w", err)
	}
	granter := storage.NewGranter(signingKey, cfg.Storage.GrantTTL)

	vault, err := service.NewVault(masterKey)
	if err != nil {
		return fmt.Errorf("initializing credential vault: %w", err)
	}

	bus := progress.NewBus()

	svc := service.NewJobService(
		jobRepo,
		credRepo,
		artifacts,
		blobs,
		granter,
		bus,
		vault,
		nil,
		cfg,
		logger,
	)

	toolkit := media.NewToolkit(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, logger)
	gateway := modelgw.New(cfg.Models, logger)

	executor := core.NewExecutor(cfg.Pipeline, artifacts, blobs, toolkit, bus, core.Stages{
		SilenceDetect:  silencedetect.New(cfg.Pipeline, toolkit, artifacts),
		LayoutDetect:   layoutdetect.New(toolkit, artifacts),
		Transcribe:     transcribe.New(cfg.Pipeline, toolkit, gateway, artifacts),
		ImageExtract:   imageextract.New(toolkit, gateway, artifacts),
		ContentAnalyze: contentanalyze.New(cfg.Pipeline, gateway, artifacts),
		SegmentSelect:  segmentselect.New(cfg.Pipeline, artifacts),
		CompileClips:   compileclips.New(cfg.Pipeline, toolkit, blobs, artifacts),
	}, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	runner := scheduler.NewRunner(jobRepo, executor, svc, cfg.Runner, cfg.Pipeline.CancelGrace, logger)
	svc.SetCanceller(runner)
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}
	defer runner.Stop()

	sweeper := scheduler.NewSweeper(cfg.Retention, jobRepo, artifacts, blobs, bus, logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting retention sweeper: %w", err)
	}
	defer sweeper.Stop()

	limits := admission.NewController(cfg.Limits, jobRepo)
	go limits.Janitor(ctx)

	server := internalhttp.NewServer(internalhttp.Deps{
		Version:    version.Version,
		Config:     cfg,
		SigningKey: signingKey,
		DB:         db,
		Jobs:       svc,
		Bus:        bus,
		Blobs:      blobs,
		Granter:    granter,
		Limits:     limits,
		Logger:     logger,
	})

	logger.Info("starting reelcut server",
		slog.String("address", cfg.Server.Address()),
		slog.Int("workers", cfg.Runner.Workers),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// applyServeFlags overlays explicitly set CLI flags onto the loaded
// configuration.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Runner.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if level, format := logOverrides(); level != "" || format != "" {
		if level != "" {
			cfg.Logging.Level = level
		}
		if format != "" {
			cfg.Logging.Format = format
		}
	}
}
