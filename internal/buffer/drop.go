package buffer

import (
	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/event"
)

// DropObserver is told about records a buffer accepted but could not read
// back. handles holds the acknowledgement handles that were recovered for
// them and may be shorter than n.
type DropObserver func(n int, handles []event.Handle)

// DropNotifier is implemented by buffers that discard unreadable records
// during Read.
type DropNotifier interface {
	OnDrop(fn DropObserver)
}

// DropNotifierOf returns the first DropNotifier in b's decorator chain.
func DropNotifierOf[T any](b buffer.Buffer[T]) (DropNotifier, bool) {
	for {
		if n, ok := b.(DropNotifier); ok {
			return n, true
		}
		u, ok := b.(unwrapper[T])
		if !ok {
			return nil, false
		}
		b = u.Unwrap()
	}
}

type drops struct {
	n       int
	handles []event.Handle
}

func (d *drops) add(h event.Handle) {
	d.n++
	if !h.IsZero() {
		d.handles = append(d.handles, h)
	}
}
