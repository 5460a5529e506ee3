// Package encoder defines interfaces for encoding events to various file formats.
package encoder

import (
	"io"

	"github.com/jittakal/eventpipe/pkg/event"
)

// Encoder encodes records to a specific file format.
type Encoder interface {
	// Encode writes records to w and returns the number of bytes written.
	Encode(w io.Writer, records []*event.Record) (int64, error)

	// Format returns the file format this encoder produces.
	Format() event.FileFormat

	// FileExtension returns the file extension (e.g., ".parquet", ".avro").
	FileExtension() string

	// ContentType returns the MIME type used when uploading encoded objects.
	ContentType() string
}
