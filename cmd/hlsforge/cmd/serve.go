package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsforge/internal/config"
	"github.com/jmylchreest/hlsforge/internal/database"
	"github.com/jmylchreest/hlsforge/internal/database/migrations"
	"github.com/jmylchreest/hlsforge/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/hlsforge/internal/http"
	"github.com/jmylchreest/hlsforge/internal/http/handlers"
	"github.com/jmylchreest/hlsforge/internal/ingest"
	"github.com/jmylchreest/hlsforge/internal/repository"
	"github.com/jmylchreest/hlsforge/internal/service"
	"github.com/jmylchreest/hlsforge/internal/startup"
	"github.com/jmylchreest/hlsforge/internal/storage"
	"github.com/jmylchreest/hlsforge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hlsforge server",
	Long: `Start the hlsforge HTTP server.

The server provides:
- POST /upload and GET /upload/ws for streaming uploads
- GET /stream/{id} and /segment/{id}/{segment} for HLS playback
- REST API for listing and deleting streams
- Health check endpoints (/health, /livez, /readyz)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "hlsforge.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("resources-dir", "resources", "Directory holding per-stream working directories")
	serveCmd.Flags().String("ffmpeg", "", "Path to the ffmpeg binary (default: search $HLSFORGE_FFMPEG_BINARY, ./ffmpeg, PATH)")
	serveCmd.Flags().String("public-prefix", "", "URL prefix written into playlists, e.g. https://cdn.example.com")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.resources_dir", serveCmd.Flags().Lookup("resources-dir"))
	mustBindPFlag("ffmpeg.binary_path", serveCmd.Flags().Lookup("ffmpeg"))
	mustBindPFlag("server.public_prefix", serveCmd.Flags().Lookup("public-prefix"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := runMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	sandbox, err := storage.NewSandbox(cfg.Storage.ResourcesDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	binary, err := ffmpeg.ResolveBinary(cfg.FFmpeg.BinaryPath)
	if err != nil {
		return fmt.Errorf("resolving transcoder: %w", err)
	}

	repo := repository.NewStreamRepository(db.DB)
	orch := ingest.NewOrchestrator(ingest.Deps{
		Sandbox: sandbox,
		Repo:    repo,
		Spawner: ffmpeg.NewRunner(binary, logger),
		Server:  cfg.Server,
		FFmpeg:  cfg.FFmpeg,
		Ingest:  cfg.Ingest,
		Logger:  logger,
	})
	streams := service.NewStreamService(repo, sandbox, cfg.FFmpeg.PlaylistName).
		WithLogger(logger).
		WithActiveCheck(orch.IsActive)

	// Nothing is uploading yet, so the startup sweep sees only leftovers.
	sweeper := startup.NewSweeper(sandbox, repo, orch.IsActive, cfg.Storage.OrphanMaxAge, logger)
	if _, err := sweeper.Sweep(ctx); err != nil {
		logger.Warn("startup sweep failed", slog.String("error", err.Error()))
	}

	if cfg.Storage.SweepSchedule != "" {
		scheduler, err := startup.NewScheduler(sweeper, cfg.Storage.SweepSchedule, logger)
		if err != nil {
			return fmt.Errorf("creating sweep scheduler: %w", err)
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting sweep scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	registerHandlers(server, cfg, db, orch, streams, binary, logger)

	logger.Info("starting hlsforge server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.String("ffmpeg", binary),
		slog.String("resources_dir", sandbox.BaseDir()),
		slog.String("max_upload_size", humanize.Bytes(uint64(cfg.Ingest.MaxUploadSize.Int64()))),
		slog.Int("max_concurrent_sessions", cfg.Ingest.MaxConcurrentSessions),
	)

	return server.ListenAndServe(ctx)
}

func registerHandlers(
	server *internalhttp.Server,
	cfg *config.Config,
	db *database.DB,
	orch *ingest.Orchestrator,
	streams *service.StreamService,
	binary string,
	logger *slog.Logger,
) {
	handlers.NewHealthHandler().
		WithDB(db).
		WithActiveSessions(orch.ActiveSessions).
		WithFFmpegBinary(binary).
		Register(server.API())

	handlers.NewStreamHandler(streams, cfg.Server).Register(server.API())

	handlers.NewMediaHandler(streams).
		WithLogger(logger).
		RegisterFileServer(server.Router())

	handlers.NewUploadHandler(orch, cfg.Ingest, cfg.Server.CORSOrigins).
		WithLogger(logger).
		RegisterChiRoutes(server.Router())
}

func runMigrations(ctx context.Context, db *database.DB, logger *slog.Logger) error {
	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	return migrator.Up(ctx)
}
