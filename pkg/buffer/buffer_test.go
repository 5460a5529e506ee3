package buffer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindOK},
		{name: "timeout", err: ErrTimeout, want: KindTimeout},
		{name: "wrapped timeout", err: fmt.Errorf("write: %w", ErrTimeout), want: KindTimeout},
		{name: "size overflow", err: ErrSizeOverflow, want: KindSizeOverflow},
		{name: "unsupported", err: ErrUnsupported, want: KindUnsupported},
		{name: "shutdown", err: ErrShutdown, want: KindOther},
		{name: "foreign error", err: errors.New("disk full"), want: KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKind_Retryable(t *testing.T) {
	for _, k := range []Kind{KindOK, KindSizeOverflow, KindUnsupported, KindOther} {
		if k.Retryable() {
			t.Errorf("%v should not be retryable", k)
		}
	}
	if !KindTimeout.Retryable() {
		t.Error("timeout should be retryable")
	}
}

func TestInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Interrupted(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("expected ErrInterrupted, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if KindOf(err) != KindOther {
		t.Errorf("interruption should classify as other, got %v", KindOf(err))
	}
}

func TestCheckpointState_Redeem(t *testing.T) {
	owner := uuid.New()

	t.Run("once", func(t *testing.T) {
		s := NewCheckpointState(owner, 3)
		if err := s.Redeem(owner); err != nil {
			t.Fatalf("first redeem: %v", err)
		}
		if err := s.Redeem(owner); !errors.Is(err, ErrInvalidCheckpoint) {
			t.Errorf("second redeem = %v, want ErrInvalidCheckpoint", err)
		}
	})

	t.Run("foreign", func(t *testing.T) {
		s := NewCheckpointState(uuid.New(), 1)
		if err := s.Redeem(owner); !errors.Is(err, ErrInvalidCheckpoint) {
			t.Errorf("redeem = %v, want ErrInvalidCheckpoint", err)
		}
	})

	t.Run("zero count", func(t *testing.T) {
		s := NewCheckpointState(uuid.New(), 0)
		for i := 0; i < 2; i++ {
			if err := s.Redeem(owner); err != nil {
				t.Errorf("redeem #%d = %v, want nil", i, err)
			}
		}
	})

	t.Run("nil", func(t *testing.T) {
		var s *CheckpointState
		if err := s.Redeem(owner); !errors.Is(err, ErrInvalidCheckpoint) {
			t.Errorf("redeem = %v, want ErrInvalidCheckpoint", err)
		}
		if s.NumRecordsToBeChecked() != 0 {
			t.Error("nil state should count zero records")
		}
	})
}

func TestRecordsOnly(t *testing.T) {
	var r RecordsOnly
	if r.IsByteBuffer() {
		t.Error("RecordsOnly must not be a byte buffer")
	}
	if err := r.WriteBytes(context.Background(), []byte("x"), "k", 0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("WriteBytes = %v, want ErrUnsupported", err)
	}
}
