package buffer

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by Buffer implementations.
var (
	// ErrTimeout indicates the operation could not complete before its timeout.
	ErrTimeout = errors.New("buffer: operation timed out")

	// ErrSizeOverflow indicates a batch larger than the buffer can ever hold.
	ErrSizeOverflow = errors.New("buffer: batch exceeds buffer capacity")

	// ErrUnsupported indicates the buffer does not support the operation.
	ErrUnsupported = errors.New("buffer: operation not supported")

	// ErrShutdown indicates the buffer has been shut down.
	ErrShutdown = errors.New("buffer: shut down")

	// ErrInterrupted indicates the caller's context ended while blocked.
	ErrInterrupted = errors.New("buffer: interrupted")

	// ErrInvalidCheckpoint indicates a checkpoint state that is nil, already
	// used, or issued by a different buffer.
	ErrInvalidCheckpoint = errors.New("buffer: invalid checkpoint state")
)

// Kind classifies buffer errors so callers can choose a reaction without
// matching on every sentinel.
type Kind int

const (
	KindOK Kind = iota
	KindTimeout
	KindSizeOverflow
	KindUnsupported
	KindOther
)

var kindNames = map[Kind]string{
	KindOK:           "ok",
	KindTimeout:      "timeout",
	KindSizeOverflow: "size_overflow",
	KindUnsupported:  "unsupported",
	KindOther:        "other",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether an operation failing with this kind may succeed
// if tried again later. Only timeouts qualify: the buffer may have drained.
func (k Kind) Retryable() bool {
	return k == KindTimeout
}

// KindOf maps err to its Kind. A nil error is KindOK; anything that is not a
// known buffer condition is KindOther.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrSizeOverflow):
		return KindSizeOverflow
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	default:
		return KindOther
	}
}

// Interrupted wraps the context cause so callers can match both
// ErrInterrupted and context.Canceled / context.DeadlineExceeded.
func Interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
}
