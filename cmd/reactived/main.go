// Package main implements the entry point for reactived, the reactive
// data-flow daemon: it loads the configuration, assembles the service and
// runs it until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CFSY/meta-reactive/config"
	"github.com/CFSY/meta-reactive/service"
)

const appName = "reactived"

func main() {
	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "reactived.yaml", "path to the YAML configuration file")
	validate := flag.Bool("validate", false, "validate the configuration and exit")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown budget")
	flag.Parse()

	logger := setupLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if *validate {
		logger.Info("configuration is valid", "path", *configPath)
		return nil
	}

	svc := service.New(cfg, logger)
	if err := svc.Initialize(); err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	logger.Info("running", "name", cfg.Service.Name, "stream_addr", svc.StreamAddr())

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := svc.Stop(*shutdownTimeout); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return nil
}

// setupLogger builds the process logger; LOG_LEVEL selects the level and
// LOG_FORMAT=json switches to structured output.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("app", appName)
}
