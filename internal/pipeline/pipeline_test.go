package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/internal/config/dto"
	"github.com/jittakal/eventpipe/internal/observability"
	"github.com/jittakal/eventpipe/internal/retry"
	istorage "github.com/jittakal/eventpipe/internal/storage"
	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/event"
)

type fakeDLQ struct {
	mu      sync.Mutex
	reasons []string
	closed  bool
}

func (d *fakeDLQ) Publish(_ context.Context, _ []byte, _ event.KafkaMetadata, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
	return nil
}

func (d *fakeDLQ) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fakeSource writes records the way the Kafka source does and then waits
// for cancellation.
type fakeSource struct {
	p       *Pipeline
	records int
	written chan struct{}

	mu        sync.Mutex
	committed []int64
	failed    []int64
	closed    bool
}

func (s *fakeSource) Run(ctx context.Context) error {
	now := time.Now()
	for i := 0; i < s.records; i++ {
		offset := int64(i)
		h := s.p.tracker.Register(now, func(success bool) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if success {
				s.committed = append(s.committed, offset)
			} else {
				s.failed = append(s.failed, offset)
			}
		})
		r := &event.Record{
			Event: &event.CloudEvent{
				ID:          uuid.NewString(),
				Source:      "/orders",
				SpecVersion: "1.0",
				Type:        "order.created",
				Data:        []byte(`{"n":1}`),
			},
			Kafka:      event.KafkaMetadata{Topic: "orders", Partition: int32(i % 2), Offset: offset, Timestamp: now},
			ReceivedAt: now,
			Handle:     h,
		}
		if err := retry.Write(ctx, s.p.retrier, s.p.buffer, buffer.NewRecord(r), time.Second); err != nil {
			return err
		}
	}
	close(s.written)
	<-ctx.Done()
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) counts() (committed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed), len(s.failed)
}

func testConfig(t *testing.T, bufferType string) *dto.ApplicationConfig {
	t.Helper()
	return &dto.ApplicationConfig{
		Application: dto.ApplicationInfo{Name: "eventpipe_test"},
		Kafka: dto.KafkaConfig{
			Consumer: dto.ConsumerConfig{Topics: []string{"orders"}},
		},
		Buffer: dto.BufferConfig{
			Type:         bufferType,
			Capacity:     50,
			BatchSize:    10,
			DrainTimeout: 5 * time.Second,
			WriteTimeout: time.Second,
			ReadTimeout:  10 * time.Millisecond,
			Disk:         dto.DiskBufferConfig{Dir: t.TempDir(), SegmentRecords: 8, Compression: "zstd"},
			Keyed:        dto.KeyedBufferConfig{Partitions: 4, MaxBytes: "1MiB"},
		},
		Storage: dto.StorageConfig{
			Backend: "file",
			Format:  "parquet",
			File:    dto.FileConfig{BasePath: t.TempDir()},
		},
		FileRotation: dto.FileRotationConfig{
			MaxRecordsPerFile:  1000,
			MaxDurationSeconds: 300,
			Strategy:           "composite",
		},
		Parquet:    dto.ParquetConfig{Compression: "snappy"},
		Processing: dto.ProcessingConfig{WorkerPoolSize: 2, PressureHighWater: 0.8},
		Retry:      dto.RetryConfig{InitialBackoffMS: 1, MaxBackoffMS: 10},
		Shutdown:   dto.ShutdownConfig{GracePeriodSeconds: 5, ForceTimeoutSeconds: 5},
	}
}

func newTestPipeline(t *testing.T, cfg *dto.ApplicationConfig, dlq *fakeDLQ) *Pipeline {
	t.Helper()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	storeCfg, basePath := storageConfig(cfg)
	writer, err := istorage.Open(context.Background(), storeCfg, zap.NewNop(), metrics)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	p, err := assemble(cfg, registry, metrics, writer, istorage.NewRouter(basePath, "v10"), dlq, zap.NewNop())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return p
}

func parquetFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestPipeline_RunFlushesOnShutdown(t *testing.T) {
	for _, bufferType := range []string{"memory", "disk"} {
		t.Run(bufferType, func(t *testing.T) {
			cfg := testConfig(t, bufferType)
			dlq := &fakeDLQ{}
			p := newTestPipeline(t, cfg, dlq)
			src := &fakeSource{p: p, records: 20, written: make(chan struct{})}
			p.source = src

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- p.Run(ctx) }()

			select {
			case <-src.written:
			case <-time.After(5 * time.Second):
				t.Fatal("source did not write its records")
			}
			if !p.Health().Readiness(context.Background()) {
				t.Error("pipeline not ready while running")
			}
			cancel()

			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("Run() = %v", err)
				}
			case <-time.After(10 * time.Second):
				t.Fatal("pipeline did not stop")
			}

			committed, failed := src.counts()
			if committed != 20 || failed != 0 {
				t.Errorf("acks: %d committed, %d failed; want 20, 0", committed, failed)
			}
			files := parquetFiles(t, cfg.Storage.File.BasePath)
			// At least one file per partition; draining may split a batch.
			if len(files) < 2 {
				t.Errorf("wrote %d files, want at least one per partition: %v", len(files), files)
			}
			for _, f := range files {
				if !strings.Contains(filepath.ToSlash(f), "/orders/v10/dt=") {
					t.Errorf("unexpected layout: %s", f)
				}
			}
			if !src.closed || !dlq.closed {
				t.Error("source or DLQ not closed")
			}
			if p.Health().Readiness(context.Background()) {
				t.Error("pipeline still ready after shutdown")
			}
		})
	}
}

func TestPipeline_SourceFailureStillShutsDown(t *testing.T) {
	cfg := testConfig(t, "memory")
	dlq := &fakeDLQ{}
	p := newTestPipeline(t, cfg, dlq)
	boom := errors.New("broker gone")
	p.source = failingSource{err: boom}

	if err := p.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run() = %v, want %v", err, boom)
	}
	if !dlq.closed {
		t.Error("DLQ not closed after source failure")
	}
}

type failingSource struct{ err error }

func (s failingSource) Run(context.Context) error { return s.err }
func (s failingSource) Close() error              { return nil }
