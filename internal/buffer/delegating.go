package buffer

import "github.com/jittakal/eventpipe/pkg/buffer"

// Delegating forwards every Buffer method to the buffer it wraps.
// Decorators embed it and override only the methods they change.
type Delegating[T any] struct {
	buffer.Buffer[T]
}

// NewDelegating wraps inner.
func NewDelegating[T any](inner buffer.Buffer[T]) Delegating[T] {
	return Delegating[T]{Buffer: inner}
}

// Unwrap returns the wrapped buffer.
func (d Delegating[T]) Unwrap() buffer.Buffer[T] {
	return d.Buffer
}

type unwrapper[T any] interface {
	Unwrap() buffer.Buffer[T]
}

// Innermost follows Unwrap through any chain of decorators and returns the
// concrete buffer at the bottom.
func Innermost[T any](b buffer.Buffer[T]) buffer.Buffer[T] {
	for {
		u, ok := b.(unwrapper[T])
		if !ok {
			return b
		}
		b = u.Unwrap()
	}
}
