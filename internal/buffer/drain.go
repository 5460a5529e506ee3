package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

// ErrDrainTimeout is returned by Drain when the buffer still holds records
// after its drain timeout.
var ErrDrainTimeout = errors.New("buffer did not drain before timeout")

const drainPollInterval = 50 * time.Millisecond

// Drain waits until b is empty, b's drain timeout passes, or ctx ends.
// Producers must already be stopped; consumers keep reading and
// checkpointing while Drain polls.
func Drain[T any](ctx context.Context, b buffer.Buffer[T]) error {
	if b.IsEmpty() {
		return nil
	}

	timeout := b.DrainTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(min(drainPollInterval, max(timeout/10, time.Millisecond)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return buffer.Interrupted(ctx)
		case <-timer.C:
			if b.IsEmpty() {
				return nil
			}
			return fmt.Errorf("%w (%s)", ErrDrainTimeout, timeout)
		case <-ticker.C:
			if b.IsEmpty() {
				return nil
			}
		}
	}
}
