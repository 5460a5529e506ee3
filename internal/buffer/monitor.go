package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

// monitor is a mutex plus a broadcast channel, the timed equivalent of a
// condition variable. Every state change that could unblock a waiter
// calls notify, which closes the current channel and installs a new one.
type monitor struct {
	mu      sync.Mutex
	changed chan struct{}
	closed  bool
}

func newMonitor() monitor {
	return monitor{changed: make(chan struct{})}
}

// notify wakes all waiters. Caller holds mu.
func (m *monitor) notify() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// shutdown marks the monitor closed and wakes all waiters. Caller holds
// mu. Returns false if it was already closed.
func (m *monitor) shutdown() bool {
	if m.closed {
		return false
	}
	m.closed = true
	m.notify()
	return true
}

// wait blocks until ready reports true. Caller holds mu; it is released
// while blocked and held again on return. Closure is checked first, so an
// operation racing Shutdown fails with ErrShutdown rather than succeeding
// against released resources.
func (m *monitor) wait(ctx context.Context, deadline time.Time, ready func() bool) error {
	for {
		if m.closed {
			return buffer.ErrShutdown
		}
		if ready() {
			return nil
		}
		if ctx.Err() != nil {
			return buffer.Interrupted(ctx)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buffer.ErrTimeout
		}

		changed := m.changed
		m.mu.Unlock()
		timer := time.NewTimer(remaining)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
		m.mu.Lock()
	}
}
