// Package consumer defines interfaces for the ingest side of the pipeline.
package consumer

import (
	"context"

	"github.com/jittakal/eventpipe/pkg/event"
)

// Source pulls events from an upstream system and writes them into a buffer.
type Source interface {
	// Run consumes until ctx is cancelled or a fatal error occurs.
	Run(ctx context.Context) error

	// Close stops consumption and releases resources.
	Close() error
}

// DLQPublisher publishes failed events to a dead letter queue.
type DLQPublisher interface {
	// Publish sends the original message value to the DLQ together with
	// its Kafka metadata and the reason it failed.
	Publish(ctx context.Context, payload []byte, metadata event.KafkaMetadata, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}
