package buffer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

func rec(s string) buffer.Record[string] {
	return buffer.NewRecord(s)
}

func recs(ss ...string) []buffer.Record[string] {
	out := make([]buffer.Record[string], len(ss))
	for i, s := range ss {
		out[i] = rec(s)
	}
	return out
}

func data(records []buffer.Record[string]) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Data
	}
	return out
}

func decodeString(payload []byte, _ string) ([]string, error) {
	return []string{string(payload)}, nil
}

func encodeString(s string) ([]byte, error) {
	return []byte(s), nil
}

type bufferFactory func(t *testing.T, capacity, batchSize int) buffer.Buffer[string]

// implementations returns constructors for every concrete buffer. The
// keyed buffer counts capacity in bytes, so one-byte strings make its
// capacity line up with the record-counting buffers.
func implementations() map[string]bufferFactory {
	return map[string]bufferFactory{
		"blocking": func(t *testing.T, capacity, batchSize int) buffer.Buffer[string] {
			b, err := NewBlocking[string](BlockingConfig{
				Capacity:     capacity,
				BatchSize:    batchSize,
				DrainTimeout: time.Second,
			})
			if err != nil {
				t.Fatalf("NewBlocking: %v", err)
			}
			t.Cleanup(func() { _ = b.Shutdown() })
			return b
		},
		"disk": func(t *testing.T, capacity, batchSize int) buffer.Buffer[string] {
			b, err := NewDisk[string](DiskConfig{
				Dir:            t.TempDir(),
				Capacity:       capacity,
				BatchSize:      batchSize,
				SegmentRecords: 2,
				Compression:    CompressionZstd,
				DrainTimeout:   time.Second,
			}, CBORCodec[string]{}, zap.NewNop())
			if err != nil {
				t.Fatalf("NewDisk: %v", err)
			}
			t.Cleanup(func() { _ = b.Shutdown() })
			return b
		},
		"keyed": func(t *testing.T, capacity, batchSize int) buffer.Buffer[string] {
			b, err := NewKeyed[string](KeyedConfig{
				Partitions:   1,
				MaxBytes:     int64(capacity),
				BatchSize:    batchSize,
				DrainTimeout: time.Second,
			}, decodeString, encodeString, zap.NewNop())
			if err != nil {
				t.Fatalf("NewKeyed: %v", err)
			}
			t.Cleanup(func() { _ = b.Shutdown() })
			return b
		},
	}
}

// fakeMetrics is an in-memory MetricsFactory for asserting exact values.
type fakeMetrics struct {
	mu       sync.Mutex
	counters map[string]*fakeCounter
	timers   map[string]*fakeTimer
	gauges   map[string]*fakeGauge
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		counters: map[string]*fakeCounter{},
		timers:   map[string]*fakeTimer{},
		gauges:   map[string]*fakeGauge{},
	}
}

func (f *fakeMetrics) Counter(name string) buffer.Counter { return f.counter(name) }

func (f *fakeMetrics) Timer(name string) buffer.Timer { return f.timer(name) }

func (f *fakeMetrics) Gauge(name string, initial int64) buffer.Gauge {
	g := f.gauge(name)
	g.v.Store(initial)
	return g
}

func (f *fakeMetrics) counter(name string) *fakeCounter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counters[name]; ok {
		return c
	}
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeMetrics) timer(name string) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.timers[name]; ok {
		return t
	}
	t := &fakeTimer{}
	f.timers[name] = t
	return t
}

func (f *fakeMetrics) gauge(name string) *fakeGauge {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gauges[name]; ok {
		return g
	}
	g := &fakeGauge{}
	f.gauges[name] = g
	return g
}

type fakeCounter struct {
	mu sync.Mutex
	v  float64
}

func (c *fakeCounter) Add(d float64) {
	c.mu.Lock()
	c.v += d
	c.mu.Unlock()
}

func (c *fakeCounter) value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

type fakeTimer struct {
	mu      sync.Mutex
	records []time.Duration
}

func (t *fakeTimer) Record(d time.Duration) {
	t.mu.Lock()
	t.records = append(t.records, d)
	t.mu.Unlock()
}

func (t *fakeTimer) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

type fakeGauge struct {
	v atomic.Int64
}

func (g *fakeGauge) Add(d int64) int64 { return g.v.Add(d) }

func (g *fakeGauge) Load() int64 { return g.v.Load() }
