package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/capture"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/config"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/merge"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/metrics"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/recovery"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/server"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/session"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/status"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audio-recorder-manager"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	duration := flag.Duration("duration", 0, "Recording duration (0 records until interrupted)")
	format := flag.String("format", "", "Output format: wav or m4a (overrides config)")
	quality := flag.String("quality", "", "Quality preset: professional, standard, quick, high (overrides config)")
	recoverOnly := flag.Bool("recover", false, "Recover orphaned sessions and exit")
	flag.Parse()

	// Load configuration, falling back to defaults when no file exists
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}
	if *format != "" {
		cfg.Audio.Format = *format
	}
	if *quality != "" {
		cfg.Audio.Quality = *quality
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	sessionFormat, err := audio.ParseFormat(cfg.Audio.Format)
	if err != nil {
		logger.Error("Invalid format", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sessionQuality, err := audio.ParseQuality(cfg.Audio.Quality)
	if err != nil {
		logger.Error("Invalid quality preset", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Error("Failed to create working directories", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Configuration loaded",
		slog.String("recordings_dir", cfg.Storage.RecordingsDir),
		slog.String("status_dir", cfg.Storage.StatusDir),
		slog.String("quality", sessionQuality.Name),
		slog.String("format", sessionFormat.String()),
		slog.Duration("merge_timeout", cfg.Merge.GetMergeTimeout()),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	encoder := merge.NewEncoder(cfg.Merge.FFmpegPath, cfg.Merge.GetMergeTimeout(), logger)

	sessionCfg := session.Config{
		Duration:    *duration,
		Format:      sessionFormat,
		Quality:     sessionQuality,
		BitrateKbps: cfg.Merge.BitrateKbps,
	}

	// Finalize anything a previous crash left behind before recording.
	scanner := recovery.NewScanner(cfg.Storage.RecordingsDir, encoder, sessionCfg, logger, appMetrics)
	recovered, err := scanner.RecoverAll(ctx)
	if err != nil {
		logger.Error("Recovery pass failed", slog.String("error", err.Error()))
		if *recoverOnly {
			os.Exit(1)
		}
	}
	if recovered > 0 {
		logger.Info("Recovered orphaned sessions", slog.Int("count", recovered))
	}
	if *recoverOnly {
		return
	}

	publisher := status.NewPublisher(cfg.Storage.StatusDir, cfg.Status.GetPublishInterval(), logger, appMetrics)

	opener := &capture.FFmpegOpener{
		FFmpegPath:     cfg.Merge.FFmpegPath,
		LoopbackSource: cfg.Audio.LoopbackSource,
		MicSource:      cfg.Audio.MicSource,
		SampleRate:     sessionQuality.SampleRate,
		Channels:       sessionQuality.Channels,
	}

	coordinator := session.NewCoordinator(logger, appMetrics, opener, encoder, publisher, cfg.Storage.RecordingsDir)

	// Initialize HTTP monitoring server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, coordinator, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	id, err := coordinator.Start(sessionCfg)
	if err != nil {
		logger.Error("Failed to start recording session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sessionDone := make(chan struct{})
	go func() {
		coordinator.Wait(id)
		close(sessionDone)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		coordinator.Stop(id)
	case <-sessionDone:
	}

	logger.Info("Starting graceful shutdown...")

	coordinator.Shutdown()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if doc, ok := coordinator.Status(id); ok {
		logger.Info("Final session status",
			slog.String("session_id", doc.SessionID),
			slog.String("status", doc.Status),
			slog.String("file_path", doc.FilePath),
			slog.String("error", doc.Error),
		)
		if doc.Status == session.StateFailed.String() {
			os.Exit(1)
		}
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
