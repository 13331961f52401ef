package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"

	"github.com/petscheit/bankai-sub001/internal/api"
	"github.com/petscheit/bankai-sub001/internal/clients/beacon"
	"github.com/petscheit/bankai-sub001/internal/clients/prover"
	"github.com/petscheit/bankai-sub001/internal/clients/settlement"
	"github.com/petscheit/bankai-sub001/internal/clients/trace"
	"github.com/petscheit/bankai-sub001/internal/core/config"
	"github.com/petscheit/bankai-sub001/internal/daemon"
	redisclient "github.com/petscheit/bankai-sub001/internal/infra/redis"
	"github.com/petscheit/bankai-sub001/internal/infra/storage/postgres"
	"github.com/petscheit/bankai-sub001/internal/pipeline"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// .env is optional; config values reference its variables via ${VAR}
	_ = godotenv.Load()

	// Load Configuration first (before setting up logger)
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	// Initialize stylelog with tint.Options for level control
	stylelog.InitDefault(
		&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	slog.Info("Logger initialized", "level", slogLevel.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	jobRepo := postgres.NewJobRepo(db)
	proofRepo := postgres.NewProofRepo(db)
	stateRepo := postgres.NewStateRepo(db)

	// Operator control queue (optional)
	var control *redisclient.Client
	if cfg.Redis.URL != "" {
		control, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer control.Close()
	} else {
		slog.Warn("Redis not configured, operator control queue disabled")
	}

	// External collaborators
	beaconClient := beacon.NewHTTPClient(cfg.Beacon)
	proverClient := prover.NewHTTPClient(cfg.Prover)
	settleClient := settlement.NewRPCClient(cfg.Settlement)
	tracer := trace.NewLocalRunner(cfg.Trace)

	retry := &pipeline.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Classifier:   pipeline.DefaultClassifier,
	}
	exec := pipeline.NewExecutor(jobRepo, proofRepo, beaconClient, proverClient, settleClient, tracer, retry)

	scheduler := daemon.NewScheduler(jobRepo, settleClient)
	listener := daemon.NewHeadListener(beaconClient, cfg.Beacon.PollInterval)
	d := daemon.New(cfg.Daemon, jobRepo, stateRepo, exec, scheduler, listener, control)

	// Reporting API runs in-process
	apiServer := api.NewServer(cfg.Server, jobRepo, proofRepo, stateRepo)
	go func() {
		if err := apiServer.Start(); err != nil {
			slog.Error("API server failed", "error", err)
			cancel()
		}
	}()

	// Handle OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	runErr := d.Run(ctx)

	// Graceful Shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		slog.Error("Error stopping API server", "error", err)
	}

	if runErr != nil {
		slog.Error("Daemon exited with error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Daemon stopped gracefully")
}
