package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

// flakyBuffer times out the first failures writes.
type flakyBuffer struct {
	buffer.RecordsOnly
	failures int
	err      error
	calls    int
	written  []string
}

func (f *flakyBuffer) Write(_ context.Context, r buffer.Record[string], _ time.Duration) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	f.written = append(f.written, r.Data)
	return nil
}

func (f *flakyBuffer) WriteAll(ctx context.Context, rs []buffer.Record[string], timeout time.Duration) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	for _, r := range rs {
		f.written = append(f.written, r.Data)
	}
	return nil
}

func (f *flakyBuffer) Read(context.Context, time.Duration) ([]buffer.Record[string], *buffer.CheckpointState, error) {
	return nil, nil, nil
}
func (f *flakyBuffer) Checkpoint(*buffer.CheckpointState) error { return nil }
func (f *flakyBuffer) IsEmpty() bool                          { return len(f.written) == 0 }
func (f *flakyBuffer) DrainTimeout() time.Duration            { return 0 }
func (f *flakyBuffer) Shutdown() error                        { return nil }

func fastPolicy(attempts uint) Policy {
	return Policy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestWrite(t *testing.T) {
	timeout := fmt.Errorf("%w: full", buffer.ErrTimeout)
	overflow := fmt.Errorf("%w: too big", buffer.ErrSizeOverflow)

	tests := []struct {
		name        string
		policy      Policy
		failures    int
		err         error
		wantErr     error
		wantCalls   int
		wantRetries int
	}{
		{name: "first try", policy: fastPolicy(3), wantCalls: 1},
		{name: "timeouts then success", policy: fastPolicy(5), failures: 3, err: timeout, wantCalls: 4, wantRetries: 3},
		{name: "unbounded attempts", policy: fastPolicy(0), failures: 10, err: timeout, wantCalls: 11, wantRetries: 10},
		{name: "attempts exhausted", policy: fastPolicy(2), failures: 5, err: timeout, wantErr: buffer.ErrTimeout, wantCalls: 2, wantRetries: 2},
		{name: "overflow not retried", policy: fastPolicy(5), failures: 5, err: overflow, wantErr: buffer.ErrSizeOverflow, wantCalls: 1},
		{name: "shutdown not retried", policy: fastPolicy(5), failures: 5, err: buffer.ErrShutdown, wantErr: buffer.ErrShutdown, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &flakyBuffer{failures: tt.failures, err: tt.err}
			retries := 0
			r := New(tt.policy, zap.NewNop(), WithOnRetry(func(uint, error) { retries++ }))

			err := Write[string](context.Background(), r, b, buffer.NewRecord("a"), time.Millisecond)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Write = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Write = %v", err)
			}
			if b.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", b.calls, tt.wantCalls)
			}
			if retries != tt.wantRetries {
				t.Errorf("retries = %d, want %d", retries, tt.wantRetries)
			}
		})
	}
}

func TestWriteAll_RetriesWholeBatch(t *testing.T) {
	b := &flakyBuffer{failures: 2, err: buffer.ErrTimeout}
	r := New(fastPolicy(0), zap.NewNop())

	records := []buffer.Record[string]{buffer.NewRecord("a"), buffer.NewRecord("b")}
	if err := WriteAll[string](context.Background(), r, b, records, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(b.written) != 2 || b.calls != 3 {
		t.Errorf("written = %v after %d calls", b.written, b.calls)
	}
}

func TestWrite_ContextCancelled(t *testing.T) {
	b := &flakyBuffer{failures: 1 << 30, err: buffer.ErrTimeout}
	r := New(Policy{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := Write[string](ctx, r, b, buffer.NewRecord("a"), time.Millisecond)
	if !errors.Is(err, buffer.ErrInterrupted) {
		t.Fatalf("Write = %v, want ErrInterrupted", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Write = %v, want it to wrap the context error", err)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAttempts != 0 {
		t.Error("default policy should retry until success")
	}
	if p.InitialBackoff <= 0 || p.MaxBackoff < p.InitialBackoff {
		t.Errorf("backoff bounds = %v..%v", p.InitialBackoff, p.MaxBackoff)
	}
}
