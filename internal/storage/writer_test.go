package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/internal/encoder"
	apperrors "github.com/jittakal/eventpipe/internal/errors"
	"github.com/jittakal/eventpipe/pkg/event"
)

type fakeUploader struct {
	mu      sync.Mutex
	err     error
	objects map[string][]byte
	types   map[string]string
	closed  bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string][]byte{}, types: map[string]string{}}
}

func (u *fakeUploader) Upload(_ context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	if u.err != nil {
		return u.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size does not match body")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = data
	u.types[key] = contentType
	return nil
}

func (u *fakeUploader) Backend() string { return "fake" }

func (u *fakeUploader) Close() error {
	u.closed = true
	return nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	files  map[string]int
	errors map[string]int
	sizes  []float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{files: map[string]int{}, errors: map[string]int{}}
}

func (m *fakeMetrics) IncFilesWritten(_ string, _ int32, _ string, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[status]++
}

func (m *fakeMetrics) ObserveFileSize(_ string, _ int32, _ string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *fakeMetrics) ObserveStorageWriteDuration(string, int32, float64) {}

func (m *fakeMetrics) IncStorageErrors(_ string, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[operation]++
}

func records(n int) []*event.Record {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*event.Record, n)
	for i := range out {
		out[i] = &event.Record{
			Event:      &event.CloudEvent{ID: "e", Source: "s", SpecVersion: "1.0", Type: "t", Data: []byte(`{}`)},
			Kafka:      event.KafkaMetadata{Topic: "orders", Partition: 1, Offset: int64(i), Timestamp: now},
			ReceivedAt: now,
		}
	}
	return out
}

func newTestWriter(t *testing.T, up uploader, format event.FileFormat) (*BlobWriter, *fakeMetrics) {
	t.Helper()
	enc, err := encoder.New(format, "")
	if err != nil {
		t.Fatal(err)
	}
	m := newFakeMetrics()
	w := newBlobWriter(up, enc, zap.NewNop(), m)
	w.spoolDir = t.TempDir()
	return w, m
}

func TestBlobWriter_Write(t *testing.T) {
	up := newFakeUploader()
	w, m := newTestWriter(t, up, event.FormatParquet)

	n, err := w.Write(context.Background(), records(3), "events/orders/v10/dt=2024-05-01/pid=1/", event.FormatParquet)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(up.objects) != 1 {
		t.Fatalf("uploaded %d objects, want 1", len(up.objects))
	}
	for key, data := range up.objects {
		if !strings.HasPrefix(key, "events/orders/v10/dt=2024-05-01/pid=1/events_") || !strings.HasSuffix(key, ".parquet") {
			t.Errorf("key = %q", key)
		}
		if int64(len(data)) != n {
			t.Errorf("Write() = %d, object has %d bytes", n, len(data))
		}
		if up.types[key] != "application/vnd.apache.parquet" {
			t.Errorf("content type = %q", up.types[key])
		}
		rows, err := parquet.Read[encoder.ParquetRow](bytes.NewReader(data), int64(len(data)))
		if err != nil || len(rows) != 3 {
			t.Errorf("read back %d rows, err %v", len(rows), err)
		}
	}
	if m.files["success"] != 1 || len(m.sizes) != 1 {
		t.Errorf("metrics = %+v", m)
	}

	entries, _ := os.ReadDir(w.spoolDir)
	if len(entries) != 0 {
		t.Errorf("spool files left behind: %d", len(entries))
	}
}

func TestBlobWriter_Errors(t *testing.T) {
	t.Run("empty batch", func(t *testing.T) {
		w, _ := newTestWriter(t, newFakeUploader(), event.FormatAvro)
		if _, err := w.Write(context.Background(), nil, "d/", event.FormatAvro); err == nil {
			t.Error("Write(nil) succeeded")
		}
	})

	t.Run("wrong format", func(t *testing.T) {
		w, _ := newTestWriter(t, newFakeUploader(), event.FormatAvro)
		if _, err := w.Write(context.Background(), records(1), "d/", event.FormatParquet); err == nil {
			t.Error("Write() with unconfigured format succeeded")
		}
	})

	t.Run("encode", func(t *testing.T) {
		w, m := newTestWriter(t, newFakeUploader(), event.FormatAvro)
		_, err := w.Write(context.Background(), []*event.Record{{}}, "d/", event.FormatAvro)
		var se *apperrors.StorageError
		if !errors.As(err, &se) || se.Operation != "encode" {
			t.Errorf("Write() = %v, want encode StorageError", err)
		}
		if m.errors["encode"] != 1 {
			t.Errorf("errors = %v", m.errors)
		}
	})

	t.Run("upload", func(t *testing.T) {
		up := newFakeUploader()
		up.err = errors.New("503 slow down")
		w, m := newTestWriter(t, up, event.FormatAvro)

		_, err := w.Write(context.Background(), records(2), "d/", event.FormatAvro)
		if !errors.Is(err, up.err) {
			t.Errorf("Write() = %v, want wrapped upload error", err)
		}
		if m.errors["upload"] != 1 || m.files["failure"] != 1 {
			t.Errorf("metrics = %+v", m)
		}
	})
}

func TestBlobWriter_Close(t *testing.T) {
	up := newFakeUploader()
	w, _ := newTestWriter(t, up, event.FormatAvro)
	if err := w.Close(); err != nil || !up.closed {
		t.Errorf("Close() = %v, closed = %v", err, up.closed)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, err := w.Write(context.Background(), records(1), "d/", event.FormatAvro); !errors.Is(err, apperrors.ErrWriterClosed) {
		t.Errorf("Write() after Close = %v, want ErrWriterClosed", err)
	}
}

func TestOpen_File(t *testing.T) {
	base := t.TempDir()
	w, err := Open(context.Background(), Config{
		Backend: "file",
		Format:  event.FormatAvro,
		File:    FileConfig{BasePath: base},
	}, zap.NewNop(), newFakeMetrics())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	dir := NewRouter("events", "v1").Route(event.PartitionID{Topic: "orders", Partition: 1}, 0, "1.0")
	if _, err := w.Write(context.Background(), records(2), dir, event.FormatAvro); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(base, "events", "orders", "v10", "dt=1970-01-01", "pid=1", "events_*.avro"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("found %v, err %v", matches, err)
	}
	tmp, _ := filepath.Glob(filepath.Join(filepath.Dir(matches[0]), ".tmp-*"))
	if len(tmp) != 0 {
		t.Errorf("temporary files left: %v", tmp)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown backend", cfg: Config{Backend: "ftp", Format: event.FormatAvro}},
		{name: "unknown format", cfg: Config{Backend: "file", Format: "csv", File: FileConfig{BasePath: t.TempDir()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tt.cfg, zap.NewNop(), newFakeMetrics()); err == nil {
				t.Error("Open() succeeded")
			}
		})
	}
}

func TestObjectName(t *testing.T) {
	ts := time.Date(2024, 5, 1, 13, 4, 5, 123_000_000, time.UTC)
	a, b := objectName(ts, ".avro"), objectName(ts, ".avro")
	if a == b {
		t.Error("object names collide")
	}
	if !strings.HasPrefix(a, "events_20240501_130405_123_") || !strings.HasSuffix(a, ".avro") {
		t.Errorf("objectName() = %q", a)
	}
}
