// Command specforged runs the pipeline daemon: workers, the re-verification
// and stale-stage loops, grammar watching, and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"specforge/internal/api"
	"specforge/internal/config"
	"specforge/internal/daemon"
	"specforge/internal/logging"
	"specforge/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg, true)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("specforged exited", logging.Error(err))
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.RequireLLM(); err != nil {
		logging.WarnWithContext(logger, "text backend not configured", "llm_unconfigured",
			logging.Error(err),
			logging.String(logging.FieldImpact, "verify and compile stages will fail"),
		)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, "specforged", version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown", logging.Error(err))
		}
	}()

	svc, err := api.New(api.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	d, err := daemon.New(svc, logger)
	if err != nil {
		_ = svc.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return err
	}
	if addr := d.Addr(); addr != "" {
		logger.Info("api available", logging.String("address", addr))
	}

	<-ctx.Done()
	logger.Info("specforged shutting down")
	return nil
}
