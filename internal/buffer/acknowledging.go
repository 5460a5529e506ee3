package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/event"
)

// Releaser settles acknowledgement handles.
type Releaser interface {
	Release(h event.Handle, success bool) bool
}

// Acknowledging releases the acknowledgement handles of records once the
// batch they were read in is checkpointed. Handles still outstanding at
// Shutdown, and handles of records the wrapped buffer dropped on read, are
// released as failures.
type Acknowledging[T any] struct {
	Delegating[T]

	releaser Releaser

	mu      sync.Mutex
	pending map[*buffer.CheckpointState][]event.Handle
}

// NewAcknowledging wraps inner.
func NewAcknowledging[T any](inner buffer.Buffer[T], releaser Releaser) *Acknowledging[T] {
	a := &Acknowledging[T]{
		Delegating: NewDelegating(inner),
		releaser:   releaser,
		pending:    make(map[*buffer.CheckpointState][]event.Handle),
	}
	if n, ok := DropNotifierOf(inner); ok {
		n.OnDrop(a.dropped)
	}
	return a
}

func (a *Acknowledging[T]) dropped(_ int, handles []event.Handle) {
	for _, h := range handles {
		a.releaser.Release(h, false)
	}
}

// Read forwards to the wrapped buffer and remembers the handles in the batch.
func (a *Acknowledging[T]) Read(ctx context.Context, timeout time.Duration) ([]buffer.Record[T], *buffer.CheckpointState, error) {
	records, state, err := a.Buffer.Read(ctx, timeout)
	if err != nil || len(records) == 0 {
		return records, state, err
	}

	var handles []event.Handle
	for _, r := range records {
		if ack, ok := any(r.Data).(event.Acknowledgeable); ok {
			if h, ok := ack.EventHandle(); ok {
				handles = append(handles, h)
			}
		}
	}
	if len(handles) > 0 {
		a.mu.Lock()
		a.pending[state] = handles
		a.mu.Unlock()
	}
	return records, state, nil
}

// Checkpoint forwards to the wrapped buffer and, on success, releases the
// batch's handles as successful.
func (a *Acknowledging[T]) Checkpoint(state *buffer.CheckpointState) error {
	if err := a.Buffer.Checkpoint(state); err != nil {
		return err
	}

	a.mu.Lock()
	handles := a.pending[state]
	delete(a.pending, state)
	a.mu.Unlock()

	for _, h := range handles {
		a.releaser.Release(h, true)
	}
	return nil
}

// Shutdown shuts the wrapped buffer down and fails every handle that was
// read but never checkpointed.
func (a *Acknowledging[T]) Shutdown() error {
	err := a.Buffer.Shutdown()

	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[*buffer.CheckpointState][]event.Handle)
	a.mu.Unlock()

	for _, handles := range pending {
		for _, h := range handles {
			a.releaser.Release(h, false)
		}
	}
	return err
}

// Outstanding returns the number of batches read but not yet checkpointed.
func (a *Acknowledging[T]) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
