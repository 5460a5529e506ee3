// Package buffer defines the contract between pipeline stages.
//
// A Buffer sits between a producer stage and a consumer stage. Producers
// write records and block when the buffer is at capacity; consumers read
// batches and acknowledge them with the CheckpointState returned by Read.
// Records move Buffered -> InFlight (on Read) -> Processed (on Checkpoint).
// Delivery is at-least-once: a consumer that never checkpoints keeps its
// records in flight and keeps exerting backpressure on producers.
package buffer

import (
	"context"
	"time"
)

// Record is the envelope carried through a buffer.
type Record[T any] struct {
	Data T
}

// NewRecord wraps data in a Record.
func NewRecord[T any](data T) Record[T] {
	return Record[T]{Data: data}
}

// Buffer is a bounded, checkpointed queue between two pipeline stages.
// All implementations must be safe for concurrent use by many producers
// and consumers.
type Buffer[T any] interface {
	// Write adds a single record, blocking while the buffer is full.
	// Returns ErrTimeout if space does not become available within timeout
	// and ErrInterrupted if ctx is cancelled while waiting.
	Write(ctx context.Context, record Record[T], timeout time.Duration) error

	// WriteAll adds a batch atomically: either every record is admitted or none is.
	// Returns ErrSizeOverflow if the batch can never fit.
	WriteAll(ctx context.Context, records []Record[T], timeout time.Duration) error

	// WriteBytes adds an already-serialized payload under a partition key.
	// Only byte buffers support it; others return ErrUnsupported.
	WriteBytes(ctx context.Context, payload []byte, key string, timeout time.Duration) error

	// Read returns up to one batch of records, waiting at most timeout for
	// at least one record to arrive. An empty batch is a normal result.
	Read(ctx context.Context, timeout time.Duration) ([]Record[T], *CheckpointState, error)

	// Checkpoint acknowledges the records delivered by the Read that produced state.
	Checkpoint(state *CheckpointState) error

	// IsEmpty reports whether nothing is buffered or in flight.
	IsEmpty() bool

	// IsByteBuffer reports whether the buffer passes serialized payloads through.
	IsByteBuffer() bool

	// DrainTimeout is how long shutdown should wait for the buffer to empty.
	DrainTimeout() time.Duration

	// Shutdown releases resources. Subsequent writes fail with ErrShutdown.
	Shutdown() error
}

// RecordsOnly provides the default byte-mode behaviour for record-oriented
// buffers. Embed it and the buffer reports IsByteBuffer() == false and
// rejects WriteBytes.
type RecordsOnly struct{}

// IsByteBuffer always returns false.
func (RecordsOnly) IsByteBuffer() bool { return false }

// WriteBytes always returns ErrUnsupported.
func (RecordsOnly) WriteBytes(context.Context, []byte, string, time.Duration) error {
	return ErrUnsupported
}
