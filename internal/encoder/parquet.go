package encoder

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/eventpipe/pkg/encoder"
	"github.com/jittakal/eventpipe/pkg/event"
)

var _ encoder.Encoder = (*ParquetEncoder)(nil)

// ParquetRow is the Parquet schema of a stored event. Timestamps use
// TIMESTAMP_MICROS so Athena and Hive read them natively.
type ParquetRow struct {
	SpecVersion string `parquet:"spec_version,dict"`
	ID          string `parquet:"id,dict"`
	Source      string `parquet:"source,dict"`
	Type        string `parquet:"type,dict"`
	Data        string `parquet:"data"`

	Subject         *string    `parquet:"subject,dict,optional"`
	DataContentType *string    `parquet:"data_content_type,dict,optional"`
	DataSchema      *string    `parquet:"data_schema,dict,optional"`
	Time            *time.Time `parquet:"time,timestamp(microsecond),optional"`

	KafkaTopic     string    `parquet:"kafka_topic,dict"`
	KafkaPartition int32     `parquet:"kafka_partition"`
	KafkaOffset    int64     `parquet:"kafka_offset"`
	KafkaKey       []byte    `parquet:"kafka_key,optional"`
	KafkaTimestamp time.Time `parquet:"kafka_timestamp,timestamp(microsecond)"`

	ReceivedAt time.Time `parquet:"received_at,timestamp(microsecond)"`
}

// ParquetEncoder writes records as a single Parquet file.
type ParquetEncoder struct {
	compression string
	codec       parquet.WriterOption
}

// NewParquetEncoder creates a Parquet encoder. Unknown codecs are rejected.
func NewParquetEncoder(compression string) (*ParquetEncoder, error) {
	codec, err := parquetCodec(compression)
	if err != nil {
		return nil, err
	}
	return &ParquetEncoder{compression: strings.ToLower(compression), codec: codec}, nil
}

func parquetCodec(compression string) (parquet.WriterOption, error) {
	switch strings.ToLower(compression) {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "lz4":
		return parquet.Compression(&parquet.Lz4Raw), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "uncompressed", "none":
		return parquet.Compression(&parquet.Uncompressed), nil
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %s", compression)
	}
}

// Encode writes records to w.
func (e *ParquetEncoder) Encode(w io.Writer, records []*event.Record) (int64, error) {
	if len(records) == 0 {
		return 0, errors.New("no records to encode")
	}

	rows := make([]ParquetRow, len(records))
	for i, r := range records {
		if r.Event == nil {
			return 0, fmt.Errorf("record %d has no event", i)
		}
		rows[i] = parquetRow(r)
	}

	cw := &countingWriter{w: w}
	writer := parquet.NewGenericWriter[ParquetRow](cw, e.codec, parquet.CreatedBy("eventpipe", "1.0", "0"))
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return cw.n, fmt.Errorf("failed to write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return cw.n, nil
}

func parquetRow(r *event.Record) ParquetRow {
	return ParquetRow{
		SpecVersion:     r.Event.SpecVersion,
		ID:              r.Event.ID,
		Source:          r.Event.Source,
		Type:            r.Event.Type,
		Data:            string(r.Event.Data),
		Subject:         r.Event.Subject,
		DataContentType: r.Event.DataContentType,
		DataSchema:      r.Event.DataSchema,
		Time:            r.Event.Time,
		KafkaTopic:      r.Kafka.Topic,
		KafkaPartition:  r.Kafka.Partition,
		KafkaOffset:     r.Kafka.Offset,
		KafkaKey:        r.Kafka.Key,
		KafkaTimestamp:  r.Kafka.Timestamp,
		ReceivedAt:      r.ReceivedAt,
	}
}

// Format returns the file format.
func (e *ParquetEncoder) Format() event.FileFormat {
	return event.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}

// ContentType returns the MIME type of Parquet files.
func (e *ParquetEncoder) ContentType() string {
	return "application/vnd.apache.parquet"
}
