package buffer_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jittakal/eventpipe/internal/buffer"
	pb "github.com/jittakal/eventpipe/pkg/buffer"
)

func ExampleBlocking() {
	b, err := buffer.NewBlocking[string](buffer.BlockingConfig{Capacity: 3, BatchSize: 2})
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx := context.Background()

	_ = b.WriteAll(ctx, []pb.Record[string]{
		pb.NewRecord("order-1"),
		pb.NewRecord("order-2"),
		pb.NewRecord("order-3"),
	}, time.Second)

	// The buffer is full until a batch is checkpointed.
	err = b.Write(ctx, pb.NewRecord("order-4"), 10*time.Millisecond)
	fmt.Println("write when full:", errors.Is(err, pb.ErrTimeout))

	records, state, _ := b.Read(ctx, time.Second)
	fmt.Println("read:", len(records), "records")

	_ = b.Checkpoint(state)
	err = b.Write(ctx, pb.NewRecord("order-4"), 10*time.Millisecond)
	fmt.Println("write after checkpoint:", err)

	// Output:
	// write when full: true
	// read: 2 records
	// write after checkpoint: <nil>
}

func ExampleNewMetered() {
	inner, _ := buffer.NewBlocking[string](buffer.BlockingConfig{Capacity: 10, BatchSize: 10})

	var buffered int64
	b := buffer.NewMetered[string](inner, discardMetrics{}, buffer.WithPostProcess(func(n int64) {
		buffered = n
	}))
	ctx := context.Background()

	_ = b.Write(ctx, pb.NewRecord("a"), time.Second)
	_ = b.Write(ctx, pb.NewRecord("b"), time.Second)
	fmt.Println("buffered:", buffered)

	_, state, _ := b.Read(ctx, time.Second)
	fmt.Println("buffered after read:", buffered)
	_ = b.Checkpoint(state)

	// Output:
	// buffered: 2
	// buffered after read: 0
}

type discardMetrics struct{}

func (discardMetrics) Counter(string) pb.Counter { return discardCounter{} }

func (discardMetrics) Timer(string) pb.Timer { return discardTimer{} }

func (discardMetrics) Gauge(string, int64) pb.Gauge { return &plainGauge{} }

type discardCounter struct{}

func (discardCounter) Add(float64) {}

type discardTimer struct{}

func (discardTimer) Record(time.Duration) {}

type plainGauge struct{ v int64 }

func (g *plainGauge) Add(d int64) int64 { g.v += d; return g.v }

func (g *plainGauge) Load() int64 { return g.v }
