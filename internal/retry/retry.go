// Package retry retries producer writes into a buffer that timed out
// because the buffer was full.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

// Policy controls how often and how fast a write is retried.
type Policy struct {
	// MaxAttempts bounds the number of attempts. Zero retries until the
	// write succeeds, fails with a non-timeout error, or ctx ends.
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Jitter adds up to this much random delay to every backoff.
	Jitter time.Duration
}

// DefaultPolicy retries forever with backoff between 100ms and 5s.
func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         50 * time.Millisecond,
	}
}

// Retrier retries buffer writes under a Policy.
type Retrier struct {
	policy  Policy
	logger  *zap.Logger
	onRetry func(attempt uint, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithOnRetry sets a hook called before every retry.
func WithOnRetry(fn func(attempt uint, err error)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New creates a Retrier.
func New(policy Policy, logger *zap.Logger, opts ...Option) *Retrier {
	r := &Retrier{
		policy:  policy,
		logger:  logger,
		onRetry: func(uint, error) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs write until it succeeds. Only timeouts are retried; every other
// error, including size overflow, is returned at once.
func (r *Retrier) Do(ctx context.Context, write func() error) error {
	var delay retry.DelayTypeFunc = retry.BackOffDelay
	if r.policy.Jitter > 0 {
		delay = retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
	}

	err := retry.Do(write,
		retry.Context(ctx),
		retry.Attempts(r.policy.MaxAttempts),
		retry.Delay(r.policy.InitialBackoff),
		retry.MaxDelay(r.policy.MaxBackoff),
		retry.MaxJitter(r.policy.Jitter),
		retry.DelayType(delay),
		retry.RetryIf(func(err error) bool {
			return buffer.KindOf(err).Retryable()
		}),
		retry.OnRetry(func(attempt uint, err error) {
			r.logger.Debug("buffer write timed out, retrying",
				zap.Uint("attempt", attempt+1),
				zap.Error(err))
			r.onRetry(attempt, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil && ctx.Err() != nil && !errors.Is(err, buffer.ErrInterrupted) {
		return buffer.Interrupted(ctx)
	}
	return err
}

// Write writes record into b, retrying timeouts. Each attempt waits up to
// timeout for space.
func Write[T any](ctx context.Context, r *Retrier, b buffer.Buffer[T], record buffer.Record[T], timeout time.Duration) error {
	return r.Do(ctx, func() error {
		return b.Write(ctx, record, timeout)
	})
}

// WriteAll writes records into b as one unit, retrying timeouts.
func WriteAll[T any](ctx context.Context, r *Retrier, b buffer.Buffer[T], records []buffer.Record[T], timeout time.Duration) error {
	return r.Do(ctx, func() error {
		return b.WriteAll(ctx, records, timeout)
	})
}

// WriteBytes writes payload into a byte buffer, retrying timeouts.
func WriteBytes[T any](ctx context.Context, r *Retrier, b buffer.Buffer[T], payload []byte, key string, timeout time.Duration) error {
	return r.Do(ctx, func() error {
		return b.WriteBytes(ctx, payload, key, timeout)
	})
}
