package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	ibuffer "github.com/jittakal/eventpipe/internal/buffer"
	"github.com/jittakal/eventpipe/internal/config/dto"
	"github.com/jittakal/eventpipe/internal/observability"
	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/event"
)

// bufferFactory builds the configured buffer for a stage and wraps it so
// that it reports metrics and releases acknowledgements on checkpoint.
type bufferFactory struct {
	cfg         dto.BufferConfig
	pipeline    string
	registry    prometheus.Registerer
	releaser    ibuffer.Releaser
	decoder     *envelopeDecoder
	postProcess func(recordsInBuffer int64)
	logger      *zap.Logger
}

func (f *bufferFactory) New(stage string) (buffer.Buffer[*event.Record], error) {
	inner, err := f.concrete()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s buffer for stage %s: %w", f.cfg.Type, stage, err)
	}

	var opts []ibuffer.MeteredOption
	if f.postProcess != nil {
		opts = append(opts, ibuffer.WithPostProcess(f.postProcess))
	}
	metered := ibuffer.NewMetered(inner, observability.NewBufferMetrics(f.registry, f.pipeline, stage), opts...)

	f.logger.Info("buffer created",
		zap.String("stage", stage),
		zap.String("type", f.cfg.Type),
		zap.Int("capacity", f.cfg.Capacity),
		zap.Int("batch_size", f.cfg.BatchSize))
	return ibuffer.NewAcknowledging[*event.Record](metered, f.releaser), nil
}

func (f *bufferFactory) concrete() (buffer.Buffer[*event.Record], error) {
	c := f.cfg
	switch c.Type {
	case "memory":
		return ibuffer.NewBlocking[*event.Record](ibuffer.BlockingConfig{
			Capacity:     c.Capacity,
			BatchSize:    c.BatchSize,
			DrainTimeout: c.DrainTimeout,
		})
	case "disk":
		compression, err := ibuffer.ParseCompression(c.Disk.Compression)
		if err != nil {
			return nil, err
		}
		return ibuffer.NewDisk[*event.Record](ibuffer.DiskConfig{
			Dir:            c.Disk.Dir,
			Capacity:       c.Capacity,
			BatchSize:      c.BatchSize,
			SegmentRecords: c.Disk.SegmentRecords,
			Compression:    compression,
			DrainTimeout:   c.DrainTimeout,
		}, ibuffer.CBORCodec[*event.Record]{}, f.logger)
	case "keyed":
		maxBytes, err := c.Keyed.MaxBytesValue()
		if err != nil {
			return nil, err
		}
		return ibuffer.NewKeyed[*event.Record](ibuffer.KeyedConfig{
			Partitions:   c.Keyed.Partitions,
			MaxBytes:     maxBytes,
			BatchSize:    c.BatchSize,
			DrainTimeout: c.DrainTimeout,
		}, f.decoder.Decode, event.EncodeRecord, f.logger)
	default:
		return nil, fmt.Errorf("unsupported buffer type: %s", c.Type)
	}
}

// maxPendingRecords bounds the records each sink worker may hold
// unacknowledged. Memory and disk buffers count held records against
// capacity, so together the workers must never be able to hold all of it
// while each waits for more. Keyed buffers release capacity on read.
func maxPendingRecords(cfg dto.BufferConfig, workers int) int {
	if cfg.Type == "keyed" || workers <= 0 {
		return 0
	}
	return max(1, cfg.Capacity/workers)
}

// pressureHighWater converts the configured fraction into a record count.
// Keyed buffers do not count records, so it is disabled for them.
func pressureHighWater(cfg dto.BufferConfig, fraction float64) int64 {
	if cfg.Type == "keyed" || fraction <= 0 {
		return 0
	}
	return max(1, int64(float64(cfg.Capacity)*fraction))
}
