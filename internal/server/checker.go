package server

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	ibuffer "github.com/jittakal/eventpipe/internal/buffer"
)

// StageSource reports the buffers of every pipeline stage.
type StageSource interface {
	Status() map[string]ibuffer.StageStatus
}

// AckSource reports acknowledgements that are still owed to Kafka.
type AckSource interface {
	Pending() int
	Oldest() (time.Time, bool)
}

// PipelineHealth derives probe results from the buffer registry and the
// acknowledgement tracker.
//
// The process is live until some acknowledgement has been pending for
// longer than maxAckAge, which means records stopped moving through the
// buffer. It is ready once marked ready and at least one buffer exists.
type PipelineHealth struct {
	stages    StageSource
	acks      AckSource
	maxAckAge time.Duration
	ready     atomic.Bool
	now       func() time.Time
}

var _ HealthChecker = (*PipelineHealth)(nil)

// NewPipelineHealth creates a checker. A zero maxAckAge disables the
// liveness check.
func NewPipelineHealth(stages StageSource, acks AckSource, maxAckAge time.Duration) *PipelineHealth {
	return &PipelineHealth{stages: stages, acks: acks, maxAckAge: maxAckAge, now: time.Now}
}

// SetReady marks the pipeline as accepting work, or not.
func (h *PipelineHealth) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Liveness reports whether acknowledgements are still flowing.
func (h *PipelineHealth) Liveness() bool {
	if h.maxAckAge <= 0 || h.acks == nil {
		return true
	}
	oldest, ok := h.acks.Oldest()
	return !ok || h.now().Sub(oldest) <= h.maxAckAge
}

// Readiness reports whether the pipeline is running.
func (h *PipelineHealth) Readiness(ctx context.Context) bool {
	if ctx.Err() != nil || !h.ready.Load() {
		return false
	}
	return len(h.stages.Status()) > 0
}

// IsHealthy reports whether the pipeline is both live and ready.
func (h *PipelineHealth) IsHealthy() bool {
	return h.Liveness() && h.Readiness(context.Background())
}

// GetStatus returns one entry per buffer plus the acknowledgement backlog.
func (h *PipelineHealth) GetStatus() map[string]string {
	status := make(map[string]string)
	for stage, s := range h.stages.Status() {
		state := "buffered"
		if s.Empty {
			state = "empty"
		}
		if s.ByteMode {
			state += ",bytes"
		}
		status["buffer."+stage] = state
	}

	if h.acks != nil {
		status["acks.pending"] = strconv.Itoa(h.acks.Pending())
		if oldest, ok := h.acks.Oldest(); ok {
			status["acks.oldest_age"] = fmt.Sprint(h.now().Sub(oldest).Round(time.Millisecond))
		}
	}
	return status
}
