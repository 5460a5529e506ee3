package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

// Codec serializes buffer payloads for implementations that store records
// outside the Go heap.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// CBORCodec encodes payloads as deterministic CBOR. Struct fields follow
// their cbor tags, falling back to json tags.
type CBORCodec[T any] struct{}

// Marshal implements Codec.
func (CBORCodec[T]) Marshal(v T) ([]byte, error) {
	return cborEnc.Marshal(v)
}

// Unmarshal implements Codec.
func (CBORCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	err := cborDec.Unmarshal(data, &v)
	return v, err
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("buffer: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("buffer: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("buffer: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("buffer: zstd decoder initialization failed: " + err.Error())
	}
}

// Compression identifies how a frame body is compressed. It is stored as
// the first byte of every frame, so segments may mix algorithms.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name from configuration.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q (valid: none, lz4, zstd)", name)
	}
}

var errIncompressible = errors.New("incompressible")

const (
	frameLenSize    = 4
	frameHeaderSize = 1 + 4 + 16 // compression tag + uncompressed length + handle
	maxFrameSize    = 64 << 20
)

// frame is one record as read back from a segment. handle is uuid.Nil for
// records without an acknowledgement handle.
type frame struct {
	payload []byte
	handle  uuid.UUID
	size    int64
}

// appendFrame appends [body length][tag][raw length][handle][body] to dst.
// Payloads that do not shrink are stored uncompressed. A frame larger than
// readFrame accepts fails with ErrSizeOverflow.
func appendFrame(dst, payload []byte, handle uuid.UUID, c Compression) ([]byte, error) {
	body, tag, err := compress(payload, c)
	if err != nil {
		return nil, err
	}
	if size := frameHeaderSize + len(body); size > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes, limit %d", buffer.ErrSizeOverflow, size, maxFrameSize)
	}

	var hdr [frameLenSize + frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(frameHeaderSize+len(body)))
	hdr[4] = byte(tag)
	binary.BigEndian.PutUint32(hdr[5:9], uint32(len(payload)))
	copy(hdr[9:25], handle[:])

	dst = append(dst, hdr[:]...)
	return append(dst, body...), nil
}

// readFrame reads one frame from r. When the body cannot be decompressed
// the error comes with the frame's size and handle, so the caller can skip
// it. A zero size means frame boundaries are lost and nothing after this
// point can be read.
func readFrame(r io.Reader) (frame, error) {
	var lenBuf [frameLenSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return frame{}, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size < frameHeaderSize || size > maxFrameSize {
		return frame{}, fmt.Errorf("corrupt frame: length %d", size)
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return frame{}, fmt.Errorf("truncated frame: %w", err)
	}

	f := frame{size: int64(frameLenSize) + int64(size)}
	copy(f.handle[:], raw[5:frameHeaderSize])
	tag := Compression(raw[0])
	rawLen := int(binary.BigEndian.Uint32(raw[1:5]))
	payload, err := decompress(raw[frameHeaderSize:], tag, rawLen)
	if err != nil {
		return f, err
	}
	f.payload = payload
	return f, nil
}

func compress(data []byte, c Compression) ([]byte, Compression, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out = zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			err = errIncompressible
		}
	default:
		return nil, c, fmt.Errorf("unsupported compression %s", c)
	}

	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	return out, c, err
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decompress(body []byte, c Compression, rawLen int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawLen)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("corrupt frame: unknown compression tag %d", uint8(c))
	}
}
