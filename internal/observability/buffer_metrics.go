package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

var _ buffer.MetricsFactory = (*BufferMetrics)(nil)

// BufferMetrics is a buffer.MetricsFactory backed by Prometheus. Every
// metric it creates carries the pipeline and buffer names as constant
// labels, so one registry can hold the metrics of many buffers.
type BufferMetrics struct {
	factory promauto.Factory
	labels  prometheus.Labels

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	timers   map[string]*histogramTimer
	gauges   map[string]*atomicGauge
}

// NewBufferMetrics creates a factory for the buffer of one pipeline stage.
func NewBufferMetrics(registry prometheus.Registerer, pipeline, name string) *BufferMetrics {
	return &BufferMetrics{
		factory:  promauto.With(registry),
		labels:   prometheus.Labels{"pipeline": pipeline, "buffer": name},
		counters: make(map[string]prometheus.Counter),
		timers:   make(map[string]*histogramTimer),
		gauges:   make(map[string]*atomicGauge),
	}
}

// Counter returns the counter eventpipe_buffer_<name>_total.
func (f *BufferMetrics) Counter(name string) buffer.Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.counters[name]; ok {
		return c
	}
	c := f.factory.NewCounter(prometheus.CounterOpts{
		Namespace:   "eventpipe",
		Subsystem:   "buffer",
		Name:        name + "_total",
		Help:        "Buffer counter " + name,
		ConstLabels: f.labels,
	})
	f.counters[name] = c
	return c
}

// Timer returns the histogram eventpipe_buffer_<name>_seconds.
func (f *BufferMetrics) Timer(name string) buffer.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.timers[name]; ok {
		return t
	}
	t := &histogramTimer{h: f.factory.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "eventpipe",
		Subsystem:   "buffer",
		Name:        name + "_seconds",
		Help:        "Buffer timer " + name,
		ConstLabels: f.labels,
		Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})}
	f.timers[name] = t
	return t
}

// Gauge returns the gauge eventpipe_buffer_<name>. The value lives in an
// atomic and Prometheus reads it on scrape.
func (f *BufferMetrics) Gauge(name string, initial int64) buffer.Gauge {
	f.mu.Lock()
	defer f.mu.Unlock()

	if g, ok := f.gauges[name]; ok {
		return g
	}
	g := &atomicGauge{}
	g.v.Store(initial)
	f.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "eventpipe",
		Subsystem:   "buffer",
		Name:        name,
		Help:        "Buffer gauge " + name,
		ConstLabels: f.labels,
	}, func() float64 { return float64(g.v.Load()) })
	f.gauges[name] = g
	return g
}

type histogramTimer struct {
	h prometheus.Histogram
}

func (t *histogramTimer) Record(d time.Duration) {
	t.h.Observe(d.Seconds())
}

type atomicGauge struct {
	v atomic.Int64
}

func (g *atomicGauge) Add(delta int64) int64 { return g.v.Add(delta) }

func (g *atomicGauge) Load() int64 { return g.v.Load() }
