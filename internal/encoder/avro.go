package encoder

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/eventpipe/pkg/encoder"
	"github.com/jittakal/eventpipe/pkg/event"
)

var _ encoder.Encoder = (*AvroEncoder)(nil)

const avroSchema = `{
	"type": "record",
	"name": "StoredEvent",
	"namespace": "io.eventpipe",
	"fields": [
		{"name": "spec_version", "type": "string"},
		{"name": "id", "type": "string"},
		{"name": "source", "type": "string"},
		{"name": "type", "type": "string"},
		{"name": "subject", "type": ["null", "string"], "default": null},
		{"name": "data_content_type", "type": ["null", "string"], "default": null},
		{"name": "data_schema", "type": ["null", "string"], "default": null},
		{"name": "time", "type": ["null", {"type": "long", "logicalType": "timestamp-micros"}], "default": null},
		{"name": "data", "type": "string"},
		{"name": "kafka_topic", "type": "string"},
		{"name": "kafka_partition", "type": "int"},
		{"name": "kafka_offset", "type": "long"},
		{"name": "kafka_key", "type": ["null", "bytes"], "default": null},
		{"name": "kafka_timestamp", "type": {"type": "long", "logicalType": "timestamp-micros"}},
		{"name": "received_at", "type": {"type": "long", "logicalType": "timestamp-micros"}}
	]
}`

// AvroEncoder writes records as an Avro object container file.
//
// Block compression ("deflate", "snappy") is applied by the
// container itself. "gzip" instead wraps an uncompressed container in a
// gzip stream.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates an Avro encoder.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	compression = strings.ToLower(compression)
	switch compression {
	case "", "none", "uncompressed":
		compression = goavro.CompressionNullLabel
	case "gzip", goavro.CompressionDeflateLabel, goavro.CompressionSnappyLabel:
	default:
		return nil, fmt.Errorf("unsupported avro compression: %s", compression)
	}

	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}
	return &AvroEncoder{codec: codec, compression: compression}, nil
}

// Encode writes records to w.
func (e *AvroEncoder) Encode(w io.Writer, records []*event.Record) (int64, error) {
	if len(records) == 0 {
		return 0, errors.New("no records to encode")
	}

	rows := make([]any, 0, len(records))
	for i, r := range records {
		if r.Event == nil {
			return 0, fmt.Errorf("record %d has no event", i)
		}
		rows = append(rows, avroRow(r))
	}

	cw := &countingWriter{w: w}
	var out io.Writer = cw
	blockCodec := e.compression

	var gz *gzip.Writer
	if e.compression == "gzip" {
		gz = gzip.NewWriter(cw)
		out = gz
		blockCodec = goavro.CompressionNullLabel
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               out,
		Codec:           e.codec,
		CompressionName: blockCodec,
	})
	if err != nil {
		return cw.n, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	if err := ocf.Append(rows); err != nil {
		return cw.n, fmt.Errorf("failed to append records: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return cw.n, fmt.Errorf("failed to close gzip stream: %w", err)
		}
	}
	return cw.n, nil
}

func avroRow(r *event.Record) map[string]any {
	row := map[string]any{
		"spec_version":      r.Event.SpecVersion,
		"id":                r.Event.ID,
		"source":            r.Event.Source,
		"type":              r.Event.Type,
		"subject":           optionalString(r.Event.Subject),
		"data_content_type": optionalString(r.Event.DataContentType),
		"data_schema":       optionalString(r.Event.DataSchema),
		"time":              nil,
		"data":              string(r.Event.Data),
		"kafka_topic":       r.Kafka.Topic,
		"kafka_partition":   r.Kafka.Partition,
		"kafka_offset":      r.Kafka.Offset,
		"kafka_key":         nil,
		"kafka_timestamp":   r.Kafka.Timestamp.UTC(),
		"received_at":       r.ReceivedAt.UTC(),
	}
	if r.Event.Time != nil {
		row["time"] = goavro.Union("long.timestamp-micros", r.Event.Time.UTC())
	}
	if len(r.Kafka.Key) > 0 {
		row["kafka_key"] = goavro.Union("bytes", r.Kafka.Key)
	}
	return row
}

func optionalString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return goavro.Union("string", *s)
}

// Format returns the file format.
func (e *AvroEncoder) Format() event.FileFormat {
	return event.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.compression == "gzip" {
		return ".avro.gz"
	}
	return ".avro"
}

// ContentType returns the MIME type of the encoded output.
func (e *AvroEncoder) ContentType() string {
	if e.compression == "gzip" {
		return "application/gzip"
	}
	return "application/avro"
}
