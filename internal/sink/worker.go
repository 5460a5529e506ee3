// Package sink consumes the buffer and writes batches to storage.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	ibuffer "github.com/jittakal/eventpipe/internal/buffer"
	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/consumer"
	"github.com/jittakal/eventpipe/pkg/event"
	"github.com/jittakal/eventpipe/pkg/storage"
)

// Config configures a worker.
type Config struct {
	Stage  string
	Format event.FileFormat
	// ReadTimeout bounds each buffer read.
	ReadTimeout time.Duration
	// MaxPendingRecords flushes once this many records are held, however
	// the rotation policy decides. Zero disables the cap.
	MaxPendingRecords int
	// FlushTimeout bounds the final flush after the context ends.
	FlushTimeout time.Duration
	// ErrorBackoff is the pause after a failed buffer read.
	ErrorBackoff time.Duration
}

// Destination is where batches are written.
type Destination struct {
	Writer storage.Writer
	Router storage.Router
	Policy storage.RotationPolicy
	DLQ    consumer.DLQPublisher
}

// MetricsCollector defines the metrics a worker reports.
type MetricsCollector interface {
	IncEventsProcessed(stage, status string, n int)
	IncDLQPublished(reason string)
}

// Worker reads batches from a buffer, accumulates them until rotation and
// writes each destination directory as one object. Buffer reads are
// checkpointed only after their records were written or dead-lettered.
type Worker struct {
	id      int
	cfg     Config
	buf     buffer.Buffer[*event.Record]
	dest    Destination
	latency ibuffer.LatencyRecorder[*event.Record]
	metrics MetricsCollector
	logger  *zap.Logger
	now     func() time.Time

	pending  *batch
	draining atomic.Bool
	pressure atomic.Bool
}

// NewWorker creates a worker. If buf or any buffer it wraps records
// latency, the worker reports it for every batch read.
func NewWorker(id int, cfg Config, buf buffer.Buffer[*event.Record], dest Destination, metrics MetricsCollector, logger *zap.Logger) *Worker {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	w := &Worker{
		id:      id,
		cfg:     cfg,
		buf:     buf,
		dest:    dest,
		metrics: metrics,
		logger:  logger.With(zap.String("stage", cfg.Stage), zap.Int("worker", id)),
		now:     time.Now,
		pending: newBatch(dest.Router),
	}
	if r, ok := ibuffer.LatencyRecorderOf(buf); ok {
		w.latency = r
	}
	return w
}

// Drain makes the worker flush after every read so the buffer can empty.
func (w *Worker) Drain() {
	w.draining.Store(true)
}

// Pressure requests a flush at the next opportunity.
func (w *Worker) Pressure() {
	w.pressure.Store(true)
}

// Run consumes until ctx is cancelled or the buffer shuts down, then
// flushes what it holds.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("sink worker started")
	defer w.logger.Info("sink worker stopped")

	for {
		if ctx.Err() != nil {
			return w.finalFlush(ctx)
		}

		records, state, err := w.buf.Read(ctx, w.cfg.ReadTimeout)
		switch {
		case errors.Is(err, buffer.ErrShutdown):
			return w.finalFlush(ctx)
		case errors.Is(err, buffer.ErrInterrupted):
			continue
		case err != nil:
			w.logger.Error("buffer read failed", zap.Error(err), zap.Duration("backoff", w.cfg.ErrorBackoff))
			w.pause(ctx, w.cfg.ErrorBackoff)
			continue
		}

		if w.latency != nil && len(records) > 0 {
			w.latency.UpdateLatency(records)
		}
		w.pending.add(records, state, w.now())

		if w.shouldFlush() {
			w.flush(ctx)
		}
	}
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (w *Worker) shouldFlush() bool {
	if w.pending.empty() {
		return false
	}
	stats := w.pending.Stats()
	switch {
	case w.draining.Load():
		return true
	case w.pressure.CompareAndSwap(true, false):
		return true
	case w.cfg.MaxPendingRecords > 0 && stats.RecordCount >= w.cfg.MaxPendingRecords:
		return true
	case stats.RecordCount == 0:
		// Only empty reads are held; acknowledge them right away.
		return true
	default:
		return w.dest.Policy.ShouldRotate(stats)
	}
}

func (w *Worker) finalFlush(ctx context.Context) error {
	if w.pending.empty() {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FlushTimeout)
	defer cancel()
	w.flush(flushCtx)
	return nil
}

// flush writes every group and then checkpoints every held read. A group
// that cannot be written goes to the DLQ, so the checkpoint still follows.
func (w *Worker) flush(ctx context.Context) {
	groups, states := w.pending.take()

	for _, g := range groups {
		if _, err := w.dest.Writer.Write(ctx, g.records, g.dir, w.cfg.Format); err != nil {
			w.logger.Error("failed to write batch",
				zap.String("dir", g.dir),
				zap.Int("record_count", len(g.records)),
				zap.Error(err))
			w.metrics.IncEventsProcessed(w.cfg.Stage, "failed", len(g.records))
			w.deadLetter(ctx, g.records, err)
			continue
		}
		w.metrics.IncEventsProcessed(w.cfg.Stage, "success", len(g.records))
	}

	for _, state := range states {
		if err := w.buf.Checkpoint(state); err != nil {
			w.logger.Error("checkpoint failed",
				zap.Int("records", state.NumRecordsToBeChecked()),
				zap.Error(err))
		}
	}
}

func (w *Worker) deadLetter(ctx context.Context, records []*event.Record, cause error) {
	if w.dest.DLQ == nil {
		return
	}
	reason := fmt.Sprintf("storage_write_failed: %v", cause)
	for _, r := range records {
		payload, err := event.EncodeCloudEvent(r.Event)
		if err != nil {
			w.logger.Error("failed to encode event for DLQ", zap.String("event_id", r.Event.ID), zap.Error(err))
			continue
		}
		if err := w.dest.DLQ.Publish(ctx, payload, r.Kafka, reason); err != nil {
			w.logger.Error("failed to publish to DLQ",
				zap.String("topic", r.Kafka.Topic),
				zap.Int64("offset", r.Kafka.Offset),
				zap.Error(err))
			continue
		}
		w.metrics.IncDLQPublished("storage_write_failed")
	}
}
