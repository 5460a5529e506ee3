package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/internal/config"
	"github.com/jittakal/eventpipe/internal/observability"
	"github.com/jittakal/eventpipe/internal/pipeline"
	"github.com/jittakal/eventpipe/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	fs := pflag.NewFlagSet("eventpipe", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	// Priority: --config > CONFIG_PATH > default path
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	if err := loader.BindFlags(fs); err != nil {
		return err
	}
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting eventpipe",
		zap.String("version", cfg.Application.Version),
		zap.String("environment", cfg.Application.Environment),
		zap.String("config", cfgPath))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}

	obs := cfg.Observability
	metricsPort := obs.Metrics.Port
	if !obs.Metrics.Enabled {
		metricsPort = 0
	}
	httpServer := server.NewServer(server.Config{
		HealthPort:    obs.Health.Port,
		LivenessPath:  obs.Health.LivenessPath,
		ReadinessPath: obs.Health.ReadinessPath,
		MetricsPort:   metricsPort,
		MetricsPath:   obs.Metrics.Path,
	}, p.Health(), registry, logger)
	httpServer.Start()

	runErr := p.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if runErr != nil {
		logger.Error("eventpipe stopped with errors", zap.Error(runErr))
		return runErr
	}
	logger.Info("eventpipe stopped")
	return nil
}
