// Package acknowledgement keeps the callbacks behind event handles.
//
// A source registers a callback for every message it hands to a buffer
// and stores the returned handle on the record. The handle is a plain
// value, so it survives any buffer, including the disk buffer. Releasing
// the handle runs the callback exactly once.
package acknowledgement

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jittakal/eventpipe/pkg/event"
)

// Observer is told about every released handle.
type Observer func(success bool, age time.Duration)

// Tracker maps handle IDs to release callbacks.
type Tracker struct {
	observer Observer
	now      func() time.Time

	mu      sync.Mutex
	pending map[uuid.UUID]entry
}

type entry struct {
	receivedAt time.Time
	release    func(success bool)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithObserver sets a hook called after each release.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// WithClock overrides the clock used to compute handle age.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		observer: func(bool, time.Duration) {},
		now:      time.Now,
		pending:  make(map[uuid.UUID]entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register stores release and returns the handle that triggers it.
func (t *Tracker) Register(receivedAt time.Time, release func(success bool)) event.Handle {
	h := event.Handle{ID: uuid.New(), ReceivedAt: receivedAt}

	t.mu.Lock()
	t.pending[h.ID] = entry{receivedAt: receivedAt, release: release}
	t.mu.Unlock()
	return h
}

// Release runs the callback registered for h. It returns false if h is
// unknown or was already released.
func (t *Tracker) Release(h event.Handle, success bool) bool {
	t.mu.Lock()
	e, ok := t.pending[h.ID]
	delete(t.pending, h.ID)
	t.mu.Unlock()

	if !ok {
		return false
	}
	e.release(success)
	t.observer(success, t.now().Sub(e.receivedAt))
	return true
}

// ReleaseAll releases every pending handle with the given outcome and
// returns how many there were.
func (t *Tracker) ReleaseAll(success bool) int {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uuid.UUID]entry)
	t.mu.Unlock()

	now := t.now()
	for _, e := range pending {
		e.release(success)
		t.observer(success, now.Sub(e.receivedAt))
	}
	return len(pending)
}

// Pending returns the number of unreleased handles.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Oldest returns the receive time of the oldest unreleased handle.
func (t *Tracker) Oldest() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var oldest time.Time
	for _, e := range t.pending {
		if oldest.IsZero() || e.receivedAt.Before(oldest) {
			oldest = e.receivedAt
		}
	}
	return oldest, !oldest.IsZero()
}
