// Package storage defines interfaces for event storage operations.
//
// This package provides abstractions for writing events to various
// storage backends (S3, Azure Blob, GCS, local filesystem).
package storage

import (
	"context"

	"github.com/jittakal/eventpipe/pkg/event"
)

// Writer writes event records to storage.
type Writer interface {
	// Write encodes records in format and stores them under dir.
	// Returns the number of bytes written.
	Write(ctx context.Context, records []*event.Record, dir string, format event.FileFormat) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage paths for events based on partitioning strategy.
type Router interface {
	// Route returns the storage path for a partition at a given time.
	// timestamp: Unix timestamp (seconds) representing the event time
	// specVersion: CloudEvents spec version (e.g., "1.0"); empty string uses default
	Route(partitionID event.PartitionID, timestamp int64, specVersion string) string
}

// RotationPolicy determines when to rotate (flush) accumulated events to storage.
type RotationPolicy interface {
	// ShouldRotate returns true if the batch should be flushed based on stats.
	ShouldRotate(stats event.FileStats) bool
}
