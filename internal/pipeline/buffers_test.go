package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/internal/acknowledgement"
	ibuffer "github.com/jittakal/eventpipe/internal/buffer"
	"github.com/jittakal/eventpipe/internal/config/dto"
	"github.com/jittakal/eventpipe/internal/observability"
	"github.com/jittakal/eventpipe/internal/validator"
	"github.com/jittakal/eventpipe/pkg/event"
)

func newFactory(t *testing.T, cfg dto.BufferConfig, tracker *acknowledgement.Tracker, dlq *fakeDLQ) *bufferFactory {
	t.Helper()
	registry := prometheus.NewRegistry()
	return &bufferFactory{
		cfg:      cfg,
		pipeline: "test",
		registry: registry,
		releaser: tracker,
		decoder: &envelopeDecoder{
			validator: validator.NewCloudEventsValidator(validator.WithAllowedTypes("order.created")),
			dlq:       dlq,
			releaser:  tracker,
			metrics:   observability.NewMetrics(registry),
			logger:    zap.NewNop(),
		},
		logger: zap.NewNop(),
	}
}

func TestBufferFactory_Types(t *testing.T) {
	tests := []struct {
		typ      string
		byteMode bool
		wantErr  bool
	}{
		{typ: "memory"},
		{typ: "disk"},
		{typ: "keyed", byteMode: true},
		{typ: "ring", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			cfg := testConfig(t, tt.typ).Buffer
			b, err := newFactory(t, cfg, acknowledgement.NewTracker(), &fakeDLQ{}).New("sink")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() = %v", err)
			}
			defer b.Shutdown()

			if b.IsByteBuffer() != tt.byteMode {
				t.Errorf("IsByteBuffer() = %v, want %v", b.IsByteBuffer(), tt.byteMode)
			}
			if _, ok := b.(*ibuffer.Acknowledging[*event.Record]); !ok {
				t.Errorf("outer buffer is %T, want Acknowledging", b)
			}
			if _, ok := ibuffer.LatencyRecorderOf(b); !ok {
				t.Error("buffer is not metered")
			}
		})
	}
}

func envelope(t *testing.T, h event.Handle, value string) []byte {
	t.Helper()
	payload, err := event.Envelope{
		Kafka:  event.KafkaMetadata{Topic: "orders", Offset: 5},
		Value:  []byte(value),
		Handle: h,
	}.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestEnvelopeDecoder(t *testing.T) {
	const (
		good = `{"specversion":"1.0","id":"a","source":"/s","type":"order.created"}`
		bad  = `{"specversion":"1.0","id":"b","source":"/s","type":"order.deleted"}`
	)
	tests := []struct {
		name        string
		value       string
		wantRecords int
		wantErr     bool
		wantDLQ     []string
		wantRelease bool
	}{
		{name: "valid", value: good, wantRecords: 1},
		{name: "mixed batch", value: "[" + good + "," + bad + "]", wantRecords: 1, wantDLQ: []string{"validation_error"}},
		{name: "all invalid", value: bad, wantDLQ: []string{"validation_error"}, wantRelease: true},
		{name: "not cloudevents", value: `{oops`, wantErr: true, wantDLQ: []string{"deserialization_error"}, wantRelease: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := acknowledgement.NewTracker()
			released := make(chan bool, 1)
			h := tracker.Register(time.Now(), func(success bool) { released <- success })
			dlq := &fakeDLQ{}
			d := newFactory(t, dto.BufferConfig{}, tracker, dlq).decoder

			records, err := d.Decode(envelope(t, h, tt.value), "key")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(records) != tt.wantRecords {
				t.Errorf("got %d records, want %d", len(records), tt.wantRecords)
			}
			if len(dlq.reasons) != len(tt.wantDLQ) {
				t.Fatalf("DLQ reasons = %v, want %v", dlq.reasons, tt.wantDLQ)
			}
			for i, r := range tt.wantDLQ {
				if dlq.reasons[i] != r {
					t.Errorf("DLQ reason %d = %q, want %q", i, dlq.reasons[i], r)
				}
			}
			select {
			case success := <-released:
				if !tt.wantRelease || !success {
					t.Errorf("handle released (success=%v), want release=%v", success, tt.wantRelease)
				}
			default:
				if tt.wantRelease {
					t.Error("handle not released")
				}
			}
		})
	}
}

func TestEnvelopeDecoder_KeyedRoundTrip(t *testing.T) {
	tracker := acknowledgement.NewTracker()
	released := make(chan bool, 1)
	h := tracker.Register(time.Now(), func(success bool) { released <- success })

	cfg := testConfig(t, "keyed").Buffer
	b, err := newFactory(t, cfg, tracker, &fakeDLQ{}).New("sink")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Shutdown()

	value := `[{"specversion":"1.0","id":"a","source":"/s","type":"order.created"},{"specversion":"1.0","id":"b","source":"/s","type":"order.created"}]`
	if err := b.WriteBytes(context.Background(), envelope(t, h, value), "k", time.Second); err != nil {
		t.Fatal(err)
	}
	records, state, err := b.Read(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("read %d records, want 2", len(records))
	}
	if err := b.Checkpoint(state); err != nil {
		t.Fatal(err)
	}
	select {
	case success := <-released:
		if !success {
			t.Error("handle released as failed")
		}
	case <-time.After(time.Second):
		t.Error("handle not released on checkpoint")
	}
}

func TestSinkLimits(t *testing.T) {
	tests := []struct {
		typ          string
		capacity     int
		workers      int
		fraction     float64
		wantPending  int
		wantHighMark int64
	}{
		{typ: "memory", capacity: 100, workers: 4, fraction: 0.8, wantPending: 25, wantHighMark: 80},
		{typ: "disk", capacity: 3, workers: 8, fraction: 0.1, wantPending: 1, wantHighMark: 1},
		{typ: "memory", capacity: 100, workers: 1, fraction: 0, wantPending: 100, wantHighMark: 0},
		{typ: "keyed", capacity: 100, workers: 4, fraction: 0.8, wantPending: 0, wantHighMark: 0},
	}
	for _, tt := range tests {
		cfg := dto.BufferConfig{Type: tt.typ, Capacity: tt.capacity}
		if got := maxPendingRecords(cfg, tt.workers); got != tt.wantPending {
			t.Errorf("maxPendingRecords(%s, %d/%d) = %d, want %d", tt.typ, tt.capacity, tt.workers, got, tt.wantPending)
		}
		if got := pressureHighWater(cfg, tt.fraction); got != tt.wantHighMark {
			t.Errorf("pressureHighWater(%s, %v) = %d, want %d", tt.typ, tt.fraction, got, tt.wantHighMark)
		}
	}
}
