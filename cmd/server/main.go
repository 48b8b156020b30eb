package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ezclips/ezclips-server/internal/acquire"
	"github.com/ezclips/ezclips-server/internal/api"
	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/cleanup"
	"github.com/ezclips/ezclips-server/internal/config"
	"github.com/ezclips/ezclips-server/internal/db"
	"github.com/ezclips/ezclips-server/internal/ingest"
	"github.com/ezclips/ezclips-server/internal/jobs"
	"github.com/ezclips/ezclips-server/internal/lifecycle"
	"github.com/ezclips/ezclips-server/internal/logging"
	"github.com/ezclips/ezclips-server/internal/media"
	"github.com/ezclips/ezclips-server/internal/metrics"
	"github.com/ezclips/ezclips-server/internal/playback"
	"github.com/ezclips/ezclips-server/internal/publish"
	"github.com/ezclips/ezclips-server/internal/series"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.UploadsDir(), cfg.DownloadsDir(), cfg.SeriesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting ezclips server",
		"version", api.Version,
		"data_dir", cfg.DataDir(),
		"store", cfg.StoreDriver(),
		"queue", cfg.QueueDriver(),
	)

	database, err := openDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := catalog.NewRegistry(catalog.NewSQLRepository(database), logger)
	machine := lifecycle.NewMachine(lifecycle.NewSQLStore(database), logger, m)
	jobStore := jobs.NewSQLStore(database)

	var queue jobs.Queue
	switch cfg.QueueDriver() {
	case "amqp":
		bq, err := jobs.DialBroker(cfg.AMQPURL(), cfg.AMQPQueuePrefix(), jobStore, cfg.Workers(), logger, m)
		if err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		queue = bq
	default:
		queue = jobs.NewLocalQueue(jobStore, cfg.Workers(), logger, m)
	}
	defer queue.Close()

	runner := media.NewSubprocessRunner(logger)
	probe := media.NewProbe(runner, cfg.FFprobePath(), cfg.ProbeTimeout(), logger)
	cutter := media.NewFFmpegCutter(runner, cfg.FFmpegPath(), cfg.CutTimeout(), logger)
	fetcher := acquire.NewYtDlp(runner, acquire.Config{
		Path:    cfg.YtDlpPath(),
		Timeout: cfg.AcquireTimeout(),
	}, logger)

	ytdlpPath := cfg.YtDlpPath()
	if ytdlpPath == "" {
		ytdlpPath = media.ToolYtDlp
	}
	doctor := media.NewCachedDoctor(media.NewToolchain(runner, logger,
		media.Tool{Name: media.ToolFFmpeg, Version: media.Command{Path: cfg.FFmpegPath(), Args: []string{"-version"}}},
		media.Tool{Name: media.ToolFFprobe, Version: media.Command{Path: cfg.FFprobePath(), Args: []string{"-version"}}},
		media.Tool{Name: media.ToolYtDlp, Version: media.Command{Path: ytdlpPath, Args: []string{"--version"}}},
	), logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial toolchain probe failed", "error", err)
	} else if !caps.CanCut {
		logger.Warn("ffmpeg toolchain incomplete, series generation will fail",
			"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total))
	}
	initCancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ingestSvc := ingest.NewService(ingest.Config{
		UploadsDir:     cfg.UploadsDir(),
		DownloadsDir:   cfg.DownloadsDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}, registry, machine, probe, cutter, fetcher, m, logger)

	orchestrator := series.New(cfg.SeriesDir(), registry, machine, probe, cutter, queue, publisher, m, logger)
	if err := orchestrator.Register(); err != nil {
		return fmt.Errorf("failed to register series handler: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}

	sweeper := cleanup.NewSweeper(cleanup.Config{
		FileDirs:  []string{cfg.UploadsDir(), cfg.DownloadsDir()},
		SeriesDir: cfg.SeriesDir(),
		MaxAge:    cfg.CleanupMaxAge(),
		Interval:  cfg.CleanupInterval(),
	}, machine, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	apiServer := api.NewServer(api.ServerConfig{
		Port:          cfg.Port(),
		Ingest:        ingestSvc,
		Series:        orchestrator,
		Registry:      registry,
		Streamer:      playback.NewStreamer(logger),
		Doctor:        doctor,
		Gatherer:      reg,
		Logger:        logger,
		StartTime:     startTime,
		PublicBaseURL: cfg.PublicBaseURL(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func openDB(cfg config.Config, logger *slog.Logger) (*db.DB, error) {
	if cfg.StoreDriver() == "postgres" {
		return db.NewPostgres(cfg.PostgresDSN(), logger)
	}
	return db.New(cfg.DBPath(), logger)
}

func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (series.Publisher, error) {
	if cfg.S3Bucket() == "" {
		return publish.NoopPublisher{}, nil
	}
	client, err := publish.NewS3Client(ctx, cfg.S3Region())
	if err != nil {
		return nil, fmt.Errorf("failed to configure S3: %w", err)
	}
	logger.Info("publishing series to S3", "bucket", cfg.S3Bucket(), "prefix", cfg.S3Prefix())
	return publish.NewS3Publisher(client, cfg.S3Bucket(), cfg.S3Prefix(), logger), nil
}
