package kafka

import "sync"

// watermark tracks the offsets of one claimed partition and reports the
// highest offset below which every message has been released. Messages
// may be released in any order, but an offset is only committed once all
// earlier ones are done.
type watermark struct {
	mu      sync.Mutex
	pending []int64
	done    map[int64]bool
}

func newWatermark() *watermark {
	return &watermark{done: make(map[int64]bool)}
}

// track registers offset as outstanding. Offsets must be tracked in
// increasing order.
func (w *watermark) track(offset int64) {
	w.mu.Lock()
	w.pending = append(w.pending, offset)
	w.mu.Unlock()
}

// release marks offset done and returns the new committable offset, the
// one following the last contiguous done message. ok is false when the
// watermark did not move.
func (w *watermark) release(offset int64) (next int64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.done[offset] = true
	for len(w.pending) > 0 && w.done[w.pending[0]] {
		next, ok = w.pending[0]+1, true
		delete(w.done, w.pending[0])
		w.pending = w.pending[1:]
	}
	return next, ok
}

// outstanding returns the number of tracked offsets not yet committable.
func (w *watermark) outstanding() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
