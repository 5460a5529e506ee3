package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

var _ buffer.Buffer[int] = (*Blocking[int])(nil)

// BlockingConfig configures a Blocking buffer.
type BlockingConfig struct {
	// Capacity bounds buffered plus in-flight records.
	Capacity int
	// BatchSize is the maximum number of records returned by one Read.
	BatchSize int
	// DrainTimeout is reported through DrainTimeout.
	DrainTimeout time.Duration
}

func (c BlockingConfig) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Blocking is a bounded in-memory FIFO. Capacity is held until records are
// checkpointed, so a slow consumer throttles its producers.
type Blocking[T any] struct {
	buffer.RecordsOnly
	monitor

	id       uuid.UUID
	cfg      BlockingConfig
	queue    []buffer.Record[T]
	inFlight int
}

// NewBlocking creates an in-memory buffer.
func NewBlocking[T any](cfg BlockingConfig) (*Blocking[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Blocking[T]{
		monitor: newMonitor(),
		id:      uuid.New(),
		cfg:     cfg,
		queue:   make([]buffer.Record[T], 0, cfg.Capacity),
	}, nil
}

// Write adds one record, waiting up to timeout for space.
func (b *Blocking[T]) Write(ctx context.Context, record buffer.Record[T], timeout time.Duration) error {
	return b.WriteAll(ctx, []buffer.Record[T]{record}, timeout)
}

// WriteAll adds records atomically once there is room for all of them.
func (b *Blocking[T]) WriteAll(ctx context.Context, records []buffer.Record[T], timeout time.Duration) error {
	n := len(records)
	if n == 0 {
		return nil
	}
	if n > b.cfg.Capacity {
		return fmt.Errorf("%w: %d records, capacity %d", buffer.ErrSizeOverflow, n, b.cfg.Capacity)
	}
	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.wait(ctx, deadline, func() bool { return b.used()+n <= b.cfg.Capacity }); err != nil {
		return err
	}
	b.queue = append(b.queue, records...)
	b.notify()
	return nil
}

// Read returns up to BatchSize records, waiting up to timeout for the first.
func (b *Blocking[T]) Read(ctx context.Context, timeout time.Duration) ([]buffer.Record[T], *buffer.CheckpointState, error) {
	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.wait(ctx, deadline, func() bool { return len(b.queue) > 0 })
	if errors.Is(err, buffer.ErrTimeout) {
		return nil, buffer.NewCheckpointState(b.id, 0), nil
	}
	if err != nil {
		return nil, nil, err
	}

	n := min(len(b.queue), b.cfg.BatchSize)
	batch := make([]buffer.Record[T], n)
	copy(batch, b.queue)
	clear(b.queue[:n])
	b.queue = b.queue[n:]
	b.inFlight += n

	return batch, buffer.NewCheckpointState(b.id, n), nil
}

// Checkpoint releases the capacity held by a batch.
func (b *Blocking[T]) Checkpoint(state *buffer.CheckpointState) error {
	if err := state.Redeem(b.id); err != nil {
		return err
	}
	n := state.NumRecordsToBeChecked()
	if n == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight -= n
	b.notify()
	return nil
}

// IsEmpty reports whether nothing is queued or awaiting checkpoint.
func (b *Blocking[T]) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) == 0 && b.inFlight == 0
}

// DrainTimeout returns the configured drain timeout.
func (b *Blocking[T]) DrainTimeout() time.Duration {
	return b.cfg.DrainTimeout
}

// Shutdown discards queued records and fails blocked callers.
func (b *Blocking[T]) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown() {
		b.queue = nil
	}
	return nil
}

func (b *Blocking[T]) used() int {
	return len(b.queue) + b.inFlight
}
