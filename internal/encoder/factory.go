package encoder

import (
	"fmt"

	"github.com/jittakal/eventpipe/pkg/encoder"
	"github.com/jittakal/eventpipe/pkg/event"
)

// New creates the encoder for format. An empty compression selects the
// format's default.
func New(format event.FileFormat, compression string) (encoder.Encoder, error) {
	if compression == "" {
		compression = DefaultCompression(format)
	}
	switch format {
	case event.FormatParquet:
		return NewParquetEncoder(compression)
	case event.FormatAvro:
		return NewAvroEncoder(compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

// SupportedFormats returns the formats New accepts.
func SupportedFormats() []event.FileFormat {
	return []event.FileFormat{event.FormatParquet, event.FormatAvro}
}

// SupportedCompressions returns the compression codecs for format.
func SupportedCompressions(format event.FileFormat) []string {
	switch format {
	case event.FormatParquet:
		return []string{"none", "snappy", "gzip", "lz4", "zstd"}
	case event.FormatAvro:
		return []string{"none", "deflate", "snappy", "gzip"}
	default:
		return nil
	}
}

// DefaultCompression returns the default codec for format.
func DefaultCompression(format event.FileFormat) string {
	switch format {
	case event.FormatParquet:
		return "snappy"
	case event.FormatAvro:
		return "deflate"
	default:
		return "none"
	}
}
