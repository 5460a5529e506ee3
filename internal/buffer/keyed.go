package buffer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

var _ buffer.Buffer[int] = (*Keyed[int])(nil)

// Decoder turns a serialized payload, written under key, into records.
// One payload may hold several records.
type Decoder[T any] func(payload []byte, key string) ([]T, error)

// Encoder serializes a single record for a byte buffer.
type Encoder[T any] func(v T) ([]byte, error)

// KeyedConfig configures a Keyed buffer.
type KeyedConfig struct {
	// Partitions is the number of independent FIFO lanes.
	Partitions int
	// MaxBytes bounds the total size of queued payloads.
	MaxBytes int64
	// BatchSize is the record count at which Read stops taking payloads.
	BatchSize int
	// DrainTimeout is reported through DrainTimeout.
	DrainTimeout time.Duration
}

func (c KeyedConfig) validate() error {
	if c.Partitions <= 0 {
		return fmt.Errorf("partitions must be positive, got %d", c.Partitions)
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max bytes must be positive, got %d", c.MaxBytes)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Keyed stores serialized payloads without decoding them on the write
// path. Payloads are spread over partitions by a hash of their key, which
// keeps payloads with the same key in order. Read visits partitions round
// robin and decodes payloads into records.
//
// Capacity is counted in payload bytes and released when a payload is
// taken off its lane. Decoding happens outside the lock, so a slow decoder
// does not hold up writers, Checkpoint or IsEmpty. In-flight records are
// tracked only for IsEmpty.
type Keyed[T any] struct {
	monitor

	id     uuid.UUID
	cfg    KeyedConfig
	decode Decoder[T]
	encode Encoder[T]
	logger *zap.Logger

	lanes    [][]keyedPayload
	cursor   int
	bytes    int64
	pending  int
	decoding int
	inFlight int
}

type keyedPayload struct {
	data []byte
	key  string
}

// NewKeyed creates a byte buffer. encode may be nil, in which case Write
// and WriteAll return ErrUnsupported.
func NewKeyed[T any](cfg KeyedConfig, decode Decoder[T], encode Encoder[T], logger *zap.Logger) (*Keyed[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if decode == nil {
		return nil, errors.New("keyed buffer requires a decoder")
	}
	id := uuid.New()
	return &Keyed[T]{
		monitor: newMonitor(),
		id:      id,
		cfg:     cfg,
		decode:  decode,
		encode:  encode,
		logger:  logger.With(zap.String("buffer_id", id.String())),
		lanes:   make([][]keyedPayload, cfg.Partitions),
	}, nil
}

// IsByteBuffer is always true.
func (k *Keyed[T]) IsByteBuffer() bool { return true }

// WriteBytes queues payload on the partition owning key.
func (k *Keyed[T]) WriteBytes(ctx context.Context, payload []byte, key string, timeout time.Duration) error {
	return k.enqueue(ctx, []keyedPayload{{data: bytes.Clone(payload), key: key}}, timeout)
}

// Write serializes record and queues it under the empty key.
func (k *Keyed[T]) Write(ctx context.Context, record buffer.Record[T], timeout time.Duration) error {
	return k.WriteAll(ctx, []buffer.Record[T]{record}, timeout)
}

// WriteAll serializes records and queues them under the empty key as one unit.
func (k *Keyed[T]) WriteAll(ctx context.Context, records []buffer.Record[T], timeout time.Duration) error {
	if k.encode == nil {
		return fmt.Errorf("%w: keyed buffer has no record encoder", buffer.ErrUnsupported)
	}
	payloads := make([]keyedPayload, 0, len(records))
	for _, r := range records {
		data, err := k.encode(r.Data)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		payloads = append(payloads, keyedPayload{data: data})
	}
	return k.enqueue(ctx, payloads, timeout)
}

func (k *Keyed[T]) enqueue(ctx context.Context, payloads []keyedPayload, timeout time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	var size int64
	for _, p := range payloads {
		size += int64(len(p.data))
	}
	if size > k.cfg.MaxBytes {
		return fmt.Errorf("%w: %d bytes, capacity %d", buffer.ErrSizeOverflow, size, k.cfg.MaxBytes)
	}
	deadline := time.Now().Add(timeout)

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.wait(ctx, deadline, func() bool { return k.bytes+size <= k.cfg.MaxBytes }); err != nil {
		return err
	}
	for _, p := range payloads {
		lane := k.partition(p.key)
		k.lanes[lane] = append(k.lanes[lane], p)
	}
	k.bytes += size
	k.pending += len(payloads)
	k.notify()
	return nil
}

// Read decodes payloads round robin across partitions until BatchSize
// records are collected or nothing is queued. Payloads that fail to decode
// are dropped.
func (k *Keyed[T]) Read(ctx context.Context, timeout time.Duration) ([]buffer.Record[T], *buffer.CheckpointState, error) {
	deadline := time.Now().Add(timeout)

	k.mu.Lock()
	err := k.wait(ctx, deadline, func() bool { return k.pending > 0 })
	if err != nil {
		k.mu.Unlock()
		if errors.Is(err, buffer.ErrTimeout) {
			return nil, buffer.NewCheckpointState(k.id, 0), nil
		}
		return nil, nil, err
	}

	var batch []buffer.Record[T]
	for {
		payloads := k.take(k.cfg.BatchSize - len(batch))
		k.mu.Unlock()

		for _, p := range payloads {
			values, err := k.decode(p.data, p.key)
			if err != nil {
				k.logger.Error("dropping undecodable payload",
					zap.String("key", p.key),
					zap.Int("size", len(p.data)),
					zap.Error(err))
				continue
			}
			for _, v := range values {
				batch = append(batch, buffer.Record[T]{Data: v})
			}
		}

		k.mu.Lock()
		k.decoding -= len(payloads)
		if len(batch) >= k.cfg.BatchSize || k.pending == 0 || k.closed {
			break
		}
	}
	k.inFlight += len(batch)
	k.notify()
	k.mu.Unlock()

	return batch, buffer.NewCheckpointState(k.id, len(batch)), nil
}

// Checkpoint acknowledges a batch of decoded records.
func (k *Keyed[T]) Checkpoint(state *buffer.CheckpointState) error {
	if err := state.Redeem(k.id); err != nil {
		return err
	}
	n := state.NumRecordsToBeChecked()
	if n == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.inFlight -= n
	k.notify()
	return nil
}

// IsEmpty reports whether no payloads are queued or being decoded and no
// records are in flight.
func (k *Keyed[T]) IsEmpty() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pending == 0 && k.decoding == 0 && k.inFlight == 0
}

// DrainTimeout returns the configured drain timeout.
func (k *Keyed[T]) DrainTimeout() time.Duration {
	return k.cfg.DrainTimeout
}

// Shutdown discards queued payloads and fails blocked callers.
func (k *Keyed[T]) Shutdown() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.shutdown() {
		k.lanes = make([][]keyedPayload, k.cfg.Partitions)
		k.pending, k.bytes = 0, 0
	}
	return nil
}

func (k *Keyed[T]) partition(key string) int {
	return int(xxhash.Sum64String(key) % uint64(k.cfg.Partitions))
}

// take pops up to n payloads for decoding and releases their bytes.
// Caller holds mu.
func (k *Keyed[T]) take(n int) []keyedPayload {
	n = min(n, k.pending)
	payloads := make([]keyedPayload, 0, n)
	var released int64
	for range n {
		p := k.pop()
		released += int64(len(p.data))
		payloads = append(payloads, p)
	}
	k.bytes -= released
	k.decoding += len(payloads)
	k.notify()
	return payloads
}

// pop removes the head of the next non-empty lane. Caller holds mu and
// has checked pending > 0.
func (k *Keyed[T]) pop() keyedPayload {
	for {
		lane := k.cursor
		k.cursor = (k.cursor + 1) % len(k.lanes)
		if q := k.lanes[lane]; len(q) > 0 {
			p := q[0]
			q[0] = keyedPayload{}
			k.lanes[lane] = q[1:]
			k.pending--
			return p
		}
	}
}
