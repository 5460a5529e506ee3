// Package encoder turns batches of event records into analytics files.
//
// Two formats are supported:
//
//   - Parquet: columnar, one row group per batch, codecs none, snappy
//     (default), gzip, lz4 and zstd.
//   - Avro: an object container file with the schema embedded, block
//     codecs none, deflate (default) and snappy, or an
//     uncompressed container inside a gzip stream.
//
// Encoders write to any io.Writer and report the bytes written, so the
// storage layer decides whether the output goes to a local file or an
// object store upload:
//
//	enc, err := encoder.New(event.FormatParquet, "zstd")
//	if err != nil {
//		return err
//	}
//	n, err := enc.Encode(w, records)
//
// Both schemas carry the CloudEvents attributes, the Kafka coordinates of
// the message and the time it was received. Encoders hold no per-call
// state and are safe for concurrent use.
package encoder
