package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"proctorboard/internal/app"
	"proctorboard/internal/config"
	"proctorboard/internal/logging"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling
// and signal management; graceful shutdown on SIGINT/SIGTERM ensures live
// sessions are summarized before exit
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error
// handling; signal handling ensures graceful shutdown in production
func run() error {
	configDir := flag.String("config", "config", "directory containing config.yaml")
	logDir := flag.String("logs", "", "log directory (overrides config)")
	flag.Parse()

	// Bootstrap logger so config loading itself can log; replaced once the
	// configured directory is known.
	bootLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(*configDir, bootLogger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dir := cfg.Logging.Directory
	if *logDir != "" {
		dir = *logDir
	}
	logger, err := logging.Init(dir)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		logger.Info("received signal, shutting down gracefully", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()

		if err := application.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}

		return nil
	}
}
