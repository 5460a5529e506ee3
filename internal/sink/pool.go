package sink

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/event"
)

// Pool runs several workers against one buffer.
type Pool struct {
	workers []*Worker
	logger  *zap.Logger
}

// NewPool creates n workers sharing buf and dest.
func NewPool(n int, cfg Config, buf buffer.Buffer[*event.Record], dest Destination, metrics MetricsCollector, logger *zap.Logger) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{logger: logger}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, NewWorker(i, cfg, buf, dest, metrics, logger))
	}
	return p
}

// Run blocks until every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Drain switches every worker to flush after each read.
func (p *Pool) Drain() {
	p.logger.Info("sink workers draining", zap.Int("workers", len(p.workers)))
	for _, w := range p.workers {
		w.Drain()
	}
}

// PressureRelay forwards buffer fill levels to a pool as pressure
// signals. The Metered buffer is built before the pool that reads it, so
// the pool is attached afterwards.
type PressureRelay struct {
	pool      atomic.Pointer[Pool]
	highWater int64
}

// NewPressureRelay creates a relay that fires once the buffer holds at
// least highWater records. A non-positive highWater never fires.
func NewPressureRelay(highWater int64) *PressureRelay {
	return &PressureRelay{highWater: highWater}
}

// Attach sets the pool that receives pressure signals.
func (r *PressureRelay) Attach(p *Pool) {
	r.pool.Store(p)
}

// Observe is the post-process callback passed to WithPostProcess.
func (r *PressureRelay) Observe(recordsInBuffer int64) {
	if r.highWater <= 0 || recordsInBuffer < r.highWater {
		return
	}
	p := r.pool.Load()
	if p == nil {
		return
	}
	for _, w := range p.workers {
		w.Pressure()
	}
}
