// Package buffer provides the concrete checkpointed buffers and the
// decorators that wrap them.
//
// # Concrete buffers
//
// Blocking is an in-memory FIFO bounded by record count. Disk keeps the
// same contract but stores records in CBOR-encoded segment files, with
// optional lz4 or zstd compression per record. Keyed accepts raw payloads
// with a partition key, decodes them on read and bounds itself by bytes.
//
//	b, err := buffer.NewBlocking[*event.Record](buffer.BlockingConfig{
//	    Capacity:     10000,
//	    BatchSize:    500,
//	    DrainTimeout: 30 * time.Second,
//	})
//
// # Capacity and checkpoints
//
// Blocking and Disk count records that have been read but not yet
// checkpointed against their capacity, so a slow consumer pushes back on
// producers. Every Read returns a CheckpointState that must be passed to
// Checkpoint exactly once:
//
//	records, state, err := b.Read(ctx, time.Second)
//	if err != nil {
//	    return err
//	}
//	process(records)
//	return b.Checkpoint(state)
//
// Keyed releases its byte capacity as soon as a payload is read.
//
// # Decorators
//
// Metered records counters, gauges and timers through a
// pkg/buffer.MetricsFactory. Acknowledging releases record handles once
// their batch is checkpointed. Both embed Delegating and override only
// what they change; Innermost unwraps a chain.
//
// # Shutdown
//
// Drain waits for a buffer to empty within its drain timeout. Shutdown
// releases every blocked caller with ErrShutdown. Registry holds one
// buffer per pipeline stage and applies both to all of them.
package buffer
