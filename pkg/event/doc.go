// Package event defines core event types and interfaces for CloudEvents processing.
//
// This package provides the public API for working with CloudEvents following the
// CloudEvents 1.0 specification, along with the Kafka metadata and
// acknowledgement handle a record carries through the pipeline.
//
// # Record Structure
//
// Record combines a CloudEvent with Kafka metadata and a Handle:
//
//	record := &event.Record{
//	    Event: cloudEvent,
//	    Kafka: event.KafkaMetadata{
//	        Topic:     "events",
//	        Partition: 0,
//	        Offset:    12345,
//	        Timestamp: time.Now(),
//	    },
//	    Handle: tracker.Register(time.Now(), markOffset),
//	}
//
// # Buffer Capabilities
//
// Buffers and their decorators look for two optional interfaces on payloads:
//
//	event.Originator      // OriginationTime() for end-to-end latency
//	event.Acknowledgeable // EventHandle() released once the record is checkpointed
//
// *Record implements both. Origination time is CloudEvent.Time when present,
// otherwise the Kafka message timestamp.
//
// # Codec
//
// DecodeCloudEvents and EncodeCloudEvent convert structured-mode JSON using
// the CloudEvents Go SDK. Batched payloads (a JSON array) decode to several
// events.
//
// # File Formats
//
//	event.FormatParquet  // Columnar format for analytics
//	event.FormatAvro     // Row-based format with schema
package event
