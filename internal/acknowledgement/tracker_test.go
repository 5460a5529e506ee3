package acknowledgement

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jittakal/eventpipe/pkg/event"
)

func TestTracker_ReleaseOnce(t *testing.T) {
	now := time.Date(2025, 12, 21, 10, 0, 0, 0, time.UTC)
	var ages []time.Duration
	tr := NewTracker(
		WithClock(func() time.Time { return now }),
		WithObserver(func(_ bool, age time.Duration) { ages = append(ages, age) }),
	)

	var calls []bool
	h := tr.Register(now.Add(-3*time.Second), func(success bool) { calls = append(calls, success) })
	if h.IsZero() {
		t.Fatal("Register returned a zero handle")
	}
	if tr.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", tr.Pending())
	}

	if !tr.Release(h, true) {
		t.Fatal("first Release returned false")
	}
	if tr.Release(h, false) {
		t.Error("second Release returned true")
	}
	if len(calls) != 1 || !calls[0] {
		t.Errorf("callback calls = %v, want [true]", calls)
	}
	if len(ages) != 1 || ages[0] != 3*time.Second {
		t.Errorf("observed ages = %v, want [3s]", ages)
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", tr.Pending())
	}
}

func TestTracker_UnknownHandle(t *testing.T) {
	tr := NewTracker()
	if tr.Release(event.Handle{ID: uuid.New()}, true) {
		t.Error("Release of unknown handle returned true")
	}
	if tr.Release(event.Handle{}, true) {
		t.Error("Release of zero handle returned true")
	}
}

func TestTracker_ReleaseAll(t *testing.T) {
	tr := NewTracker()
	start := time.Now()

	var mu sync.Mutex
	results := map[int]bool{}
	for i := 0; i < 3; i++ {
		tr.Register(start.Add(time.Duration(i)*time.Second), func(success bool) {
			mu.Lock()
			results[i] = success
			mu.Unlock()
		})
	}

	oldest, ok := tr.Oldest()
	if !ok || !oldest.Equal(start) {
		t.Errorf("Oldest = %v, %v", oldest, ok)
	}

	if n := tr.ReleaseAll(false); n != 3 {
		t.Errorf("ReleaseAll = %d, want 3", n)
	}
	for i := 0; i < 3; i++ {
		if success, ok := results[i]; !ok || success {
			t.Errorf("handle %d: released=%v success=%v", i, ok, success)
		}
	}
	if _, ok := tr.Oldest(); ok {
		t.Error("Oldest on empty tracker")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker()
	var released sync.WaitGroup
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		released.Add(1)
		h := tr.Register(time.Now(), func(bool) { released.Done() })
		wg.Add(2)
		for j := 0; j < 2; j++ {
			go func() {
				defer wg.Done()
				tr.Release(h, true)
			}()
		}
	}
	wg.Wait()
	released.Wait()

	if tr.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", tr.Pending())
	}
}
