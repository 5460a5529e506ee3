package buffer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

// Factory builds the buffer for one pipeline stage.
type Factory[T any] func(stage string) (buffer.Buffer[T], error)

// StageStatus describes one registered buffer.
type StageStatus struct {
	Empty    bool   `json:"empty"`
	ByteMode bool   `json:"byte_mode"`
	Drain    string `json:"drain_timeout"`
}

// Registry holds one buffer per pipeline stage, creating each on first use.
type Registry[T any] struct {
	factory Factory[T]
	logger  *zap.Logger

	mu      sync.RWMutex
	buffers map[string]buffer.Buffer[T]
}

// NewRegistry creates a registry whose buffers are built by factory.
func NewRegistry[T any](factory Factory[T], logger *zap.Logger) *Registry[T] {
	return &Registry[T]{
		factory: factory,
		logger:  logger,
		buffers: make(map[string]buffer.Buffer[T]),
	}
}

// GetOrCreate returns the buffer for stage, building it if needed.
func (r *Registry[T]) GetOrCreate(stage string) (buffer.Buffer[T], error) {
	r.mu.RLock()
	b, ok := r.buffers[stage]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if b, ok := r.buffers[stage]; ok {
		return b, nil
	}

	b, err := r.factory(stage)
	if err != nil {
		return nil, fmt.Errorf("create buffer for stage %q: %w", stage, err)
	}
	r.buffers[stage] = b
	r.logger.Info("buffer created",
		zap.String("stage", stage),
		zap.Bool("byte_buffer", b.IsByteBuffer()),
		zap.Duration("drain_timeout", b.DrainTimeout()))
	return b, nil
}

// Get returns the buffer for stage if one exists.
func (r *Registry[T]) Get(stage string) (buffer.Buffer[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buffers[stage]
	return b, ok
}

// Stages returns the registered stage names in sorted order.
func (r *Registry[T]) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages := make([]string, 0, len(r.buffers))
	for stage := range r.buffers {
		stages = append(stages, stage)
	}
	slices.Sort(stages)
	return stages
}

// DrainAll drains every buffer concurrently and joins the failures.
func (r *Registry[T]) DrainAll(ctx context.Context) error {
	stages := r.Stages()

	errs := make([]error, len(stages))
	var wg sync.WaitGroup
	for i, stage := range stages {
		b, _ := r.Get(stage)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := Drain(ctx, b); err != nil {
				r.logger.Warn("buffer not drained", zap.String("stage", stage), zap.Error(err))
				errs[i] = fmt.Errorf("stage %s: %w", stage, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ShutdownAll shuts every buffer down. The registry stays usable for Get.
func (r *Registry[T]) ShutdownAll() error {
	var errs []error
	for _, stage := range r.Stages() {
		b, _ := r.Get(stage)
		if err := b.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("stage %s: %w", stage, err))
		}
	}
	return errors.Join(errs...)
}

// Status reports the state of every registered buffer.
func (r *Registry[T]) Status() map[string]StageStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]StageStatus, len(r.buffers))
	for stage, b := range r.buffers {
		out[stage] = StageStatus{
			Empty:    b.IsEmpty(),
			ByteMode: b.IsByteBuffer(),
			Drain:    b.DrainTimeout().String(),
		}
	}
	return out
}
