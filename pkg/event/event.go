package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CloudEvent represents a CloudEvents 1.0 event.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md
type CloudEvent struct {
	// Required attributes
	ID          string `json:"id"`
	Source      string `json:"source"`
	SpecVersion string `json:"specversion"`
	Type        string `json:"type"`

	// Optional attributes
	DataContentType *string    `json:"datacontenttype,omitempty"`
	DataSchema      *string    `json:"dataschema,omitempty"`
	Subject         *string    `json:"subject,omitempty"`
	Time            *time.Time `json:"time,omitempty"`

	// Event data - can be any JSON value (object, array, string, number, etc.)
	Data json.RawMessage `json:"data,omitempty"`

	// Extension attributes. Not part of the JSON envelope, but kept when a
	// record is spilled to disk.
	Extensions map[string]interface{} `json:"-" cbor:"extensions,omitempty"`
}

// KafkaMetadata contains Kafka-specific metadata for an event.
type KafkaMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Timestamp time.Time
}

// PartitionID uniquely identifies a Kafka partition.
type PartitionID struct {
	Topic     string
	Partition int32
}

// String returns a string representation of the partition ID in the format "topic-partition".
func (p PartitionID) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// Handle identifies the acknowledgement owed to the source of a record.
// It is a plain value so it survives serialization; the callback it stands
// for stays in the process that registered it.
type Handle struct {
	ID         uuid.UUID `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
}

// IsZero reports whether h refers to no acknowledgement.
func (h Handle) IsZero() bool {
	return h.ID == uuid.Nil
}

// Originator is implemented by payloads that know when they were created.
type Originator interface {
	OriginationTime() (time.Time, bool)
}

// Acknowledgeable is implemented by payloads that carry an acknowledgement handle.
type Acknowledgeable interface {
	EventHandle() (Handle, bool)
}

// Record is an event travelling through the pipeline.
type Record struct {
	Event      *CloudEvent
	Kafka      KafkaMetadata
	ReceivedAt time.Time
	Handle     Handle
}

// FileStats contains statistics about a batch of records headed for storage.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// FileFormat represents the storage file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// Validator validates CloudEvents.
type Validator interface {
	// Validate checks a CloudEvent against the CloudEvents 1.0 attribute rules.
	Validate(event *CloudEvent) error
}

// PartitionID returns the Kafka partition the record was consumed from.
func (r *Record) PartitionID() PartitionID {
	return PartitionID{Topic: r.Kafka.Topic, Partition: r.Kafka.Partition}
}

// GetEventTime returns the event's timestamp.
// It returns the CloudEvent.Time if present, otherwise falls back to Kafka message timestamp.
func (r *Record) GetEventTime() time.Time {
	if r.Event != nil && r.Event.Time != nil {
		return *r.Event.Time
	}
	return r.Kafka.Timestamp
}

// GetEventTimeUnix returns the event's timestamp as Unix seconds.
func (r *Record) GetEventTimeUnix() int64 {
	return r.GetEventTime().Unix()
}

// OriginationTime implements Originator.
func (r *Record) OriginationTime() (time.Time, bool) {
	t := r.GetEventTime()
	return t, !t.IsZero()
}

// EventHandle implements Acknowledgeable.
func (r *Record) EventHandle() (Handle, bool) {
	return r.Handle, !r.Handle.IsZero()
}

// EstimatedSize estimates the size of a record in bytes.
func (r *Record) EstimatedSize() int {
	size := len(r.Kafka.Topic) + len(r.Kafka.Key)
	for k, v := range r.Kafka.Headers {
		size += len(k) + len(v)
	}

	e := r.Event
	if e == nil {
		return size
	}
	size += len(e.ID) + len(e.Source) + len(e.SpecVersion) + len(e.Type) + len(e.Data)
	for _, opt := range []*string{e.DataContentType, e.DataSchema, e.Subject} {
		if opt != nil {
			size += len(*opt)
		}
	}
	return size
}
