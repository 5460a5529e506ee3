// Package pipeline assembles the Kafka source, the buffer and the sink
// workers from configuration and runs them with an ordered shutdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/internal/acknowledgement"
	ibuffer "github.com/jittakal/eventpipe/internal/buffer"
	"github.com/jittakal/eventpipe/internal/config/dto"
	"github.com/jittakal/eventpipe/internal/kafka"
	"github.com/jittakal/eventpipe/internal/observability"
	"github.com/jittakal/eventpipe/internal/retry"
	"github.com/jittakal/eventpipe/internal/server"
	"github.com/jittakal/eventpipe/internal/sink"
	istorage "github.com/jittakal/eventpipe/internal/storage"
	"github.com/jittakal/eventpipe/internal/validator"
	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/consumer"
	"github.com/jittakal/eventpipe/pkg/event"
	"github.com/jittakal/eventpipe/pkg/storage"
)

// SinkStage names the buffer between the Kafka source and the sink workers.
const SinkStage = "sink"

// Pipeline owns every long-lived component.
type Pipeline struct {
	cfg     *dto.ApplicationConfig
	logger  *zap.Logger
	metrics *observability.Metrics

	tracker   *acknowledgement.Tracker
	validator event.Validator
	retrier   *retry.Retrier
	buffers   *ibuffer.Registry[*event.Record]
	buffer    buffer.Buffer[*event.Record]
	relay     *sink.PressureRelay
	sinks     *sink.Pool
	health    *server.PipelineHealth

	writer storage.Writer
	dlq    consumer.DLQPublisher
	source consumer.Source
}

// New connects to Kafka and the storage backend and builds the pipeline.
// Metrics are registered on registry.
func New(ctx context.Context, cfg *dto.ApplicationConfig, registry *prometheus.Registry, logger *zap.Logger) (*Pipeline, error) {
	metrics := observability.NewMetrics(registry)

	dlq, err := kafka.NewDLQPublisher(connConfig(cfg.Kafka), kafka.DLQConfig{
		Enabled:     cfg.Kafka.DLQ.Enabled,
		TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
	}, logger, processorID(cfg.Application.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ publisher: %w", err)
	}

	storeCfg, basePath := storageConfig(cfg)
	writer, err := istorage.Open(ctx, storeCfg, logger, metrics)
	if err != nil {
		_ = dlq.Close()
		return nil, fmt.Errorf("failed to create storage writer: %w", err)
	}

	p, err := assemble(cfg, registry, metrics, writer, istorage.NewRouter(basePath, "v10"), dlq, logger)
	if err != nil {
		_ = writer.Close()
		_ = dlq.Close()
		return nil, err
	}

	source, err := kafka.NewSource(sourceConfig(cfg), kafka.Downstream{
		Buffer:    p.buffer,
		Retrier:   p.retrier,
		Tracker:   p.tracker,
		Validator: p.validator,
		DLQ:       dlq,
	}, metrics, logger)
	if err != nil {
		_ = p.closeOutputs()
		_ = p.buffers.ShutdownAll()
		return nil, fmt.Errorf("failed to create kafka source: %w", err)
	}
	p.source = source
	return p, nil
}

// assemble builds everything between the source and the outputs.
func assemble(cfg *dto.ApplicationConfig, registry prometheus.Registerer, metrics *observability.Metrics,
	writer storage.Writer, router storage.Router, dlq consumer.DLQPublisher, logger *zap.Logger) (*Pipeline, error) {
	opts, err := validatorOptions(cfg.Processing)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		validator: validator.NewCloudEventsValidator(opts...),
		writer:    writer,
		dlq:       dlq,
	}
	p.tracker = acknowledgement.NewTracker(acknowledgement.WithObserver(func(success bool, _ time.Duration) {
		metrics.IncAcknowledgements(success)
	}))
	p.retrier = retry.New(retryPolicy(cfg.Retry), logger, retry.WithOnRetry(func(uint, error) {
		metrics.IncWriteRetries(SinkStage)
	}))

	workers := cfg.Processing.WorkerPoolSize
	p.relay = sink.NewPressureRelay(pressureHighWater(cfg.Buffer, cfg.Processing.PressureHighWater))
	factory := &bufferFactory{
		cfg:      cfg.Buffer,
		pipeline: cfg.Application.Name,
		registry: registry,
		releaser: p.tracker,
		decoder: &envelopeDecoder{
			validator: p.validator,
			dlq:       dlq,
			releaser:  p.tracker,
			metrics:   metrics,
			logger:    logger,
		},
		postProcess: p.relay.Observe,
		logger:      logger,
	}
	p.buffers = ibuffer.NewRegistry[*event.Record](factory.New, logger)

	p.buffer, err = p.buffers.GetOrCreate(SinkStage)
	if err != nil {
		return nil, err
	}

	p.sinks = sink.NewPool(workers, sink.Config{
		Stage:             SinkStage,
		Format:            event.FileFormat(cfg.Storage.Format),
		ReadTimeout:       cfg.Buffer.ReadTimeout,
		MaxPendingRecords: maxPendingRecords(cfg.Buffer, workers),
		FlushTimeout:      cfg.Shutdown.GracePeriod(),
	}, p.buffer, sink.Destination{
		Writer: writer,
		Router: router,
		Policy: istorage.NewPolicy(policyConfig(cfg.FileRotation)),
		DLQ:    dlq,
	}, metrics, logger)
	p.relay.Attach(p.sinks)

	p.health = server.NewPipelineHealth(p.buffers, p.tracker, cfg.Observability.Health.MaxAckAge)
	return p, nil
}

// Health returns the checker backing the health endpoints.
func (p *Pipeline) Health() *server.PipelineHealth {
	return p.health
}

// Run consumes until ctx is cancelled or the source fails, then shuts the
// pipeline down:
//
//  1. stop consuming from Kafka
//  2. let the sink workers drain the buffer, bounded by the grace period
//  3. stop the sink workers, which flush what they hold
//  4. shut the buffer down and fail any acknowledgement still owed
//  5. close the storage writer and the DLQ publisher
func (p *Pipeline) Run(ctx context.Context) error {
	sinkCtx, stopSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSinks()
	sinksDone := make(chan error, 1)
	go func() { sinksDone <- p.sinks.Run(sinkCtx) }()

	p.health.SetReady(true)
	p.logger.Info("pipeline started",
		zap.Strings("topics", p.cfg.Kafka.Consumer.Topics),
		zap.String("buffer", p.cfg.Buffer.Type),
		zap.String("format", p.cfg.Storage.Format))

	runErr := p.source.Run(ctx)
	p.health.SetReady(false)
	if runErr != nil {
		p.logger.Error("kafka source stopped", zap.Error(runErr))
	}

	return errors.Join(runErr, p.shutdown(stopSinks, sinksDone))
}

func (p *Pipeline) shutdown(stopSinks context.CancelFunc, sinksDone <-chan error) error {
	var errs []error
	p.logger.Info("shutting down pipeline")

	if err := p.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close source: %w", err))
	}

	p.sinks.Drain()
	drainCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Shutdown.GracePeriod())
	if err := p.buffers.DrainAll(drainCtx); err != nil {
		p.logger.Warn("buffers not drained, remaining records will be redelivered", zap.Error(err))
	}
	cancel()

	stopSinks()
	force := time.Duration(p.cfg.Shutdown.ForceTimeoutSeconds) * time.Second
	if force <= 0 {
		force = time.Minute
	}
	select {
	case err := <-sinksDone:
		if err != nil {
			errs = append(errs, fmt.Errorf("sink workers: %w", err))
		}
	case <-time.After(force):
		errs = append(errs, errors.New("sink workers did not stop before the force timeout"))
	}

	if err := p.buffers.ShutdownAll(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown buffers: %w", err))
	}
	if n := p.tracker.ReleaseAll(false); n > 0 {
		p.logger.Warn("released outstanding acknowledgements as failed", zap.Int("count", n))
	}

	errs = append(errs, p.closeOutputs())
	p.logger.Info("pipeline stopped")
	return errors.Join(errs...)
}

func (p *Pipeline) closeOutputs() error {
	var errs []error
	if err := p.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage writer: %w", err))
	}
	if err := p.dlq.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close DLQ publisher: %w", err))
	}
	return errors.Join(errs...)
}

func processorID(name string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return name
	}
	return name + "-" + host
}
