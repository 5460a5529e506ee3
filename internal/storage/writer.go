// Package storage writes encoded record batches to object stores and the
// local filesystem, and decides where and when batches are written.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/jittakal/eventpipe/internal/errors"
	"github.com/jittakal/eventpipe/pkg/encoder"
	"github.com/jittakal/eventpipe/pkg/event"
	"github.com/jittakal/eventpipe/pkg/storage"
)

var _ storage.Writer = (*BlobWriter)(nil)

// MetricsCollector defines the storage metrics.
type MetricsCollector interface {
	IncFilesWritten(topic string, partition int32, format string, status string)
	ObserveFileSize(topic string, partition int32, format string, size float64)
	ObserveStorageWriteDuration(topic string, partition int32, duration float64)
	IncStorageErrors(backend string, operation string)
}

// uploader stores one object. Implementations exist per backend.
type uploader interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	Backend() string
	Close() error
}

// BlobWriter encodes a batch into a spool file and uploads it.
type BlobWriter struct {
	up       uploader
	encoders map[event.FileFormat]encoder.Encoder
	spoolDir string
	logger   *zap.Logger
	metrics  MetricsCollector
	now      func() time.Time
	closed   atomic.Bool
}

func newBlobWriter(up uploader, enc encoder.Encoder, logger *zap.Logger, metrics MetricsCollector) *BlobWriter {
	return &BlobWriter{
		up:       up,
		encoders: map[event.FileFormat]encoder.Encoder{enc.Format(): enc},
		spoolDir: os.TempDir(),
		logger:   logger.With(zap.String("backend", up.Backend())),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Write encodes records and stores them as a new object under dir.
func (w *BlobWriter) Write(ctx context.Context, records []*event.Record, dir string, format event.FileFormat) (int64, error) {
	if w.closed.Load() {
		return 0, apperrors.ErrWriterClosed
	}
	if len(records) == 0 {
		return 0, errors.New("no records to write")
	}
	enc, ok := w.encoders[format]
	if !ok {
		return 0, fmt.Errorf("writer is not configured for format %s", format)
	}

	start := w.now()
	backend := w.up.Backend()
	key := path.Join(dir, objectName(start, enc.FileExtension()))

	spool, err := os.CreateTemp(w.spoolDir, "eventpipe-spool-*"+enc.FileExtension())
	if err != nil {
		w.metrics.IncStorageErrors(backend, "spool")
		return 0, &apperrors.StorageError{Operation: "spool", Path: key, Err: err}
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	size, err := enc.Encode(spool, records)
	if err != nil {
		w.metrics.IncStorageErrors(backend, "encode")
		return 0, &apperrors.StorageError{Operation: "encode", Path: key, Err: err}
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		w.metrics.IncStorageErrors(backend, "spool")
		return 0, &apperrors.StorageError{Operation: "spool", Path: key, Err: err}
	}

	first := records[0].Kafka
	if err := w.up.Upload(ctx, key, spool, size, enc.ContentType()); err != nil {
		w.metrics.IncStorageErrors(backend, "upload")
		w.metrics.IncFilesWritten(first.Topic, first.Partition, string(format), "failure")
		return 0, &apperrors.StorageError{Operation: "upload", Path: key, Err: err}
	}

	elapsed := w.now().Sub(start)
	w.metrics.IncFilesWritten(first.Topic, first.Partition, string(format), "success")
	w.metrics.ObserveFileSize(first.Topic, first.Partition, string(format), float64(size))
	w.metrics.ObserveStorageWriteDuration(first.Topic, first.Partition, elapsed.Seconds())

	w.logger.Info("wrote records",
		zap.String("key", key),
		zap.Int("record_count", len(records)),
		zap.Int64("size_bytes", size),
		zap.String("format", string(format)),
		zap.Duration("duration", elapsed))
	return size, nil
}

// Close releases the backend client.
func (w *BlobWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.logger.Info("closing storage writer")
	return w.up.Close()
}

// objectName returns events_YYYYMMDD_HHMMSS_mmm_<id><ext>. The random
// suffix keeps names unique across concurrent writers.
func objectName(t time.Time, ext string) string {
	t = t.UTC()
	return fmt.Sprintf("events_%s_%03d_%s%s",
		t.Format("20060102_150405"),
		t.Nanosecond()/int(time.Millisecond),
		uuid.NewString()[:8],
		ext)
}
