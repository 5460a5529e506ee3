package buffer

import (
	"context"
	"errors"
	"time"

	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/event"
)

// Names of the metrics a Metered buffer creates through its MetricsFactory.
const (
	MetricRecordsWritten        = "records_written"
	MetricRecordsRead           = "records_read"
	MetricRecordsProcessed      = "records_processed"
	MetricWriteTimeouts         = "write_timeouts"
	MetricRecordsWriteFailed    = "records_write_failed"
	MetricRecordsDropped        = "records_dropped"
	MetricRecordsInBuffer       = "records_in_buffer"
	MetricRecordsInFlight       = "records_in_flight"
	MetricWriteTimeElapsed      = "write_time_elapsed"
	MetricReadTimeElapsed       = "read_time_elapsed"
	MetricCheckpointTimeElapsed = "checkpoint_time_elapsed"
	MetricRecordsLatency        = "records_latency"
)

// MeteredOption configures a Metered buffer.
type MeteredOption func(*meteredOptions)

type meteredOptions struct {
	postProcess func(recordsInBuffer int64)
	now         func() time.Time
}

// WithPostProcess registers a hook called with the buffered-record gauge
// after every successful Write, WriteAll, WriteBytes and Read.
func WithPostProcess(fn func(recordsInBuffer int64)) MeteredOption {
	return func(o *meteredOptions) { o.postProcess = fn }
}

// WithClock overrides the clock used by UpdateLatency.
func WithClock(now func() time.Time) MeteredOption {
	return func(o *meteredOptions) { o.now = now }
}

// Metered instruments a buffer with counters, gauges and timers. It does
// not change queue semantics and returns every error unchanged. Record
// counters and gauges are left alone when the wrapped buffer is a byte
// buffer.
type Metered[T any] struct {
	Delegating[T]

	recordsWritten   buffer.Counter
	recordsRead      buffer.Counter
	recordsProcessed buffer.Counter
	writeTimeouts    buffer.Counter
	writeFailed      buffer.Counter
	recordsDropped   buffer.Counter

	recordsInBuffer buffer.Gauge
	recordsInFlight buffer.Gauge

	writeTimer      buffer.Timer
	readTimer       buffer.Timer
	checkpointTimer buffer.Timer
	latencyTimer    buffer.Timer

	postProcess func(int64)
	now         func() time.Time
}

// NewMetered wraps inner, creating its metrics from metrics.
func NewMetered[T any](inner buffer.Buffer[T], metrics buffer.MetricsFactory, opts ...MeteredOption) *Metered[T] {
	o := meteredOptions{
		postProcess: func(int64) {},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Metered[T]{
		Delegating:       NewDelegating(inner),
		recordsWritten:   metrics.Counter(MetricRecordsWritten),
		recordsRead:      metrics.Counter(MetricRecordsRead),
		recordsProcessed: metrics.Counter(MetricRecordsProcessed),
		writeTimeouts:    metrics.Counter(MetricWriteTimeouts),
		writeFailed:      metrics.Counter(MetricRecordsWriteFailed),
		recordsDropped:   metrics.Counter(MetricRecordsDropped),
		recordsInBuffer:  metrics.Gauge(MetricRecordsInBuffer, 0),
		recordsInFlight:  metrics.Gauge(MetricRecordsInFlight, 0),
		writeTimer:       metrics.Timer(MetricWriteTimeElapsed),
		readTimer:        metrics.Timer(MetricReadTimeElapsed),
		checkpointTimer:  metrics.Timer(MetricCheckpointTimeElapsed),
		latencyTimer:     metrics.Timer(MetricRecordsLatency),
		postProcess:      o.postProcess,
		now:              o.now,
	}
	if n, ok := DropNotifierOf(inner); ok {
		n.OnDrop(m.dropped)
	}
	return m
}

// Write forwards to the wrapped buffer and records the outcome.
func (m *Metered[T]) Write(ctx context.Context, record buffer.Record[T], timeout time.Duration) error {
	defer observe(m.writeTimer, time.Now())

	if err := m.Buffer.Write(ctx, record, timeout); err != nil {
		if errors.Is(err, buffer.ErrTimeout) {
			m.writeFailed.Add(1)
			m.writeTimeouts.Add(1)
		}
		return err
	}
	m.written(1)
	return nil
}

// WriteAll forwards to the wrapped buffer. Any failure counts the whole
// batch as failed.
func (m *Metered[T]) WriteAll(ctx context.Context, records []buffer.Record[T], timeout time.Duration) error {
	defer observe(m.writeTimer, time.Now())

	if err := m.Buffer.WriteAll(ctx, records, timeout); err != nil {
		m.writeFailed.Add(float64(len(records)))
		if errors.Is(err, buffer.ErrTimeout) {
			m.writeTimeouts.Add(1)
		}
		return err
	}
	m.written(len(records))
	return nil
}

// WriteBytes forwards to the wrapped buffer. Payloads are not records, so
// only the timer and timeout counter are touched.
func (m *Metered[T]) WriteBytes(ctx context.Context, payload []byte, key string, timeout time.Duration) error {
	defer observe(m.writeTimer, time.Now())

	if err := m.Buffer.WriteBytes(ctx, payload, key, timeout); err != nil {
		if errors.Is(err, buffer.ErrTimeout) {
			m.writeTimeouts.Add(1)
		}
		return err
	}
	m.postProcess(m.recordsInBuffer.Load())
	return nil
}

// Read forwards to the wrapped buffer and moves the batch from the
// buffered gauge to the in-flight gauge.
func (m *Metered[T]) Read(ctx context.Context, timeout time.Duration) ([]buffer.Record[T], *buffer.CheckpointState, error) {
	start := time.Now()
	records, state, err := m.Buffer.Read(ctx, timeout)
	m.readTimer.Record(time.Since(start))
	if err != nil {
		return records, state, err
	}

	inBuffer := m.recordsInBuffer.Load()
	if n := int64(state.NumRecordsToBeChecked()); n > 0 && !m.IsByteBuffer() {
		m.recordsRead.Add(float64(n))
		m.recordsInFlight.Add(n)
		inBuffer = m.recordsInBuffer.Add(-n)
	}
	m.postProcess(inBuffer)
	return records, state, nil
}

// Checkpoint forwards to the wrapped buffer and moves the batch from the
// in-flight gauge to the processed counter.
func (m *Metered[T]) Checkpoint(state *buffer.CheckpointState) error {
	defer observe(m.checkpointTimer, time.Now())

	if err := m.Buffer.Checkpoint(state); err != nil {
		return err
	}
	if n := int64(state.NumRecordsToBeChecked()); n > 0 && !m.IsByteBuffer() {
		m.recordsInFlight.Add(-n)
		m.recordsProcessed.Add(float64(n))
	}
	return nil
}

// UpdateLatency records now minus origination time for every record whose
// payload implements event.Originator. Callers decide when to invoke it,
// typically right after Read.
func (m *Metered[T]) UpdateLatency(records []buffer.Record[T]) {
	RecordLatency(m.latencyTimer, m.now(), records)
}

// RecordLatency records now minus origination time into timer for each
// record that knows its origination time.
func RecordLatency[T any](timer buffer.Timer, now time.Time, records []buffer.Record[T]) {
	for _, r := range records {
		o, ok := any(r.Data).(event.Originator)
		if !ok {
			continue
		}
		if t, ok := o.OriginationTime(); ok {
			timer.Record(now.Sub(t))
		}
	}
}

// dropped takes records the wrapped buffer discarded on read out of the
// buffered gauge.
func (m *Metered[T]) dropped(n int, _ []event.Handle) {
	if m.IsByteBuffer() {
		return
	}
	m.recordsDropped.Add(float64(n))
	m.postProcess(m.recordsInBuffer.Add(-int64(n)))
}

func (m *Metered[T]) written(n int) {
	inBuffer := m.recordsInBuffer.Load()
	if !m.IsByteBuffer() {
		m.recordsWritten.Add(float64(n))
		inBuffer = m.recordsInBuffer.Add(int64(n))
	}
	m.postProcess(inBuffer)
}

func observe(t buffer.Timer, start time.Time) {
	t.Record(time.Since(start))
}

// LatencyRecorder is implemented by buffers that time how old records are
// when they are consumed.
type LatencyRecorder[T any] interface {
	UpdateLatency(records []buffer.Record[T])
}

// LatencyRecorderOf returns the first LatencyRecorder in b's decorator chain.
func LatencyRecorderOf[T any](b buffer.Buffer[T]) (LatencyRecorder[T], bool) {
	for {
		if r, ok := b.(LatencyRecorder[T]); ok {
			return r, true
		}
		u, ok := b.(unwrapper[T])
		if !ok {
			return nil, false
		}
		b = u.Unwrap()
	}
}
