package buffer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/jittakal/eventpipe/internal/errors"
	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/event"
)

var _ buffer.Buffer[int] = (*Disk[int])(nil)

// DiskConfig configures a Disk buffer.
type DiskConfig struct {
	// Dir is the parent directory. Each buffer creates its own
	// subdirectory there and removes it on Shutdown.
	Dir string
	// Capacity bounds buffered plus in-flight records.
	Capacity int
	// BatchSize is the maximum number of records returned by one Read.
	BatchSize int
	// SegmentRecords is the number of frames written to a segment file
	// before a new one is started.
	SegmentRecords int
	// Compression applied to each frame.
	Compression Compression
	// DrainTimeout is reported through DrainTimeout.
	DrainTimeout time.Duration
}

func (c DiskConfig) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.SegmentRecords <= 0 {
		return fmt.Errorf("segment records must be positive, got %d", c.SegmentRecords)
	}
	return nil
}

// Disk is a FIFO buffer that keeps records in length-prefixed segment
// files instead of on the heap. Records are encoded with a Codec.
//
// A segment file is deleted once every frame in it has been read and the
// number of checkpointed records covers its last frame. Each frame keeps
// the record's acknowledgement handle next to the encoded payload, so a
// record that cannot be read back is still reported to OnDrop observers
// with its handle.
type Disk[T any] struct {
	buffer.RecordsOnly
	monitor

	id     uuid.UUID
	cfg    DiskConfig
	codec  Codec[T]
	dir    string
	logger *zap.Logger

	segments    []*segment
	nextSegment uint64
	queued      int
	inFlight    int
	writeSeq    uint64
	ackedSeq    uint64
	observers   []DropObserver
}

type segment struct {
	id      uint64
	path    string
	file    *os.File
	w       *bufio.Writer
	size    int64
	written int
	readOff int64
	read    int
	lastSeq uint64
	sealed  bool
}

// NewDisk creates a disk buffer under cfg.Dir.
func NewDisk[T any](cfg DiskConfig, codec Codec[T], logger *zap.Logger) (*Disk[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, &apperrors.StorageError{Operation: "create", Path: cfg.Dir, Err: err}
		}
	}
	dir, err := os.MkdirTemp(cfg.Dir, "buffer-")
	if err != nil {
		return nil, &apperrors.StorageError{Operation: "create", Path: cfg.Dir, Err: err}
	}

	id := uuid.New()
	return &Disk[T]{
		monitor: newMonitor(),
		id:      id,
		cfg:     cfg,
		codec:   codec,
		dir:     dir,
		logger:  logger.With(zap.String("buffer_id", id.String()), zap.String("dir", dir)),
	}, nil
}

// Dir returns the directory holding this buffer's segment files.
func (d *Disk[T]) Dir() string {
	return d.dir
}

// OnDrop registers fn to be called after a Read that discarded records.
func (d *Disk[T]) OnDrop(fn DropObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Write adds one record, waiting up to timeout for space.
func (d *Disk[T]) Write(ctx context.Context, record buffer.Record[T], timeout time.Duration) error {
	return d.WriteAll(ctx, []buffer.Record[T]{record}, timeout)
}

// WriteAll appends records to the current segment as one unit. If the
// segment cannot be written completely it is truncated back to its size
// before the call. A record too large for one frame fails the call with
// ErrSizeOverflow before anything is admitted.
func (d *Disk[T]) WriteAll(ctx context.Context, records []buffer.Record[T], timeout time.Duration) error {
	n := len(records)
	if n == 0 {
		return nil
	}
	if n > d.cfg.Capacity {
		return fmt.Errorf("%w: %d records, capacity %d", buffer.ErrSizeOverflow, n, d.cfg.Capacity)
	}
	deadline := time.Now().Add(timeout)

	var frames []byte
	for _, r := range records {
		payload, err := d.codec.Marshal(r.Data)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		var handle uuid.UUID
		if ack, ok := any(r.Data).(event.Acknowledgeable); ok {
			if h, ok := ack.EventHandle(); ok {
				handle = h.ID
			}
		}
		if frames, err = appendFrame(frames, payload, handle, d.cfg.Compression); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.wait(ctx, deadline, func() bool { return d.queued+d.inFlight+n <= d.cfg.Capacity }); err != nil {
		return err
	}

	seg, err := d.writableSegment()
	if err != nil {
		return err
	}
	if err := seg.append(frames); err != nil {
		return &apperrors.StorageError{Operation: "write", Path: seg.path, Err: err}
	}

	seg.written += n
	d.writeSeq += uint64(n)
	seg.lastSeq = d.writeSeq
	d.queued += n
	d.notify()
	return nil
}

// Read returns up to BatchSize records in write order. Records that cannot
// be read back are dropped, logged and reported to OnDrop observers; their
// capacity is released immediately.
func (d *Disk[T]) Read(ctx context.Context, timeout time.Duration) ([]buffer.Record[T], *buffer.CheckpointState, error) {
	deadline := time.Now().Add(timeout)

	d.mu.Lock()
	batch, lost, err := d.read(ctx, deadline)
	observers := d.observers
	d.mu.Unlock()

	if lost.n > 0 {
		for _, fn := range observers {
			fn(lost.n, lost.handles)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return batch, buffer.NewCheckpointState(d.id, len(batch)), nil
}

// read takes up to BatchSize records off the segments. Caller holds mu.
func (d *Disk[T]) read(ctx context.Context, deadline time.Time) ([]buffer.Record[T], drops, error) {
	err := d.wait(ctx, deadline, func() bool { return d.queued > 0 })
	if errors.Is(err, buffer.ErrTimeout) {
		return nil, drops{}, nil
	}
	if err != nil {
		return nil, drops{}, err
	}

	want := min(d.queued, d.cfg.BatchSize)
	batch := make([]buffer.Record[T], 0, want)
	consumed := 0
	var lost drops

	for _, seg := range d.segments {
		if consumed >= want {
			break
		}
		if seg.read == seg.written {
			continue
		}
		r := bufio.NewReader(io.NewSectionReader(seg.file, seg.readOff, seg.size-seg.readOff))
		for seg.read < seg.written && consumed < want {
			f, err := readFrame(r)
			if f.size == 0 {
				n := seg.written - seg.read
				d.logger.Error("segment unreadable, dropping its remaining records",
					zap.String("segment", seg.path),
					zap.Int("records", n),
					zap.Error(err))
				seg.readOff = seg.size
				seg.read = seg.written
				consumed += n
				lost.n += n
				break
			}
			seg.readOff += f.size
			seg.read++
			consumed++

			var v T
			if err == nil {
				v, err = d.codec.Unmarshal(f.payload)
			}
			if err != nil {
				d.logger.Error("dropping unreadable record",
					zap.String("segment", seg.path),
					zap.Error(err))
				lost.add(event.Handle{ID: f.handle})
				continue
			}
			batch = append(batch, buffer.Record[T]{Data: v})
		}
	}

	d.queued -= consumed
	d.inFlight += len(batch)
	if lost.n > 0 {
		d.ackedSeq += uint64(lost.n)
		d.collect()
		d.notify()
	}
	return batch, lost, nil
}

// Checkpoint releases the capacity of a batch and deletes segments that
// are no longer needed.
func (d *Disk[T]) Checkpoint(state *buffer.CheckpointState) error {
	if err := state.Redeem(d.id); err != nil {
		return err
	}
	n := state.NumRecordsToBeChecked()
	if n == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight -= n
	d.ackedSeq += uint64(n)
	d.collect()
	d.notify()
	return nil
}

// IsEmpty reports whether nothing is queued or awaiting checkpoint.
func (d *Disk[T]) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queued == 0 && d.inFlight == 0
}

// DrainTimeout returns the configured drain timeout.
func (d *Disk[T]) DrainTimeout() time.Duration {
	return d.cfg.DrainTimeout
}

// Shutdown closes all segment files and removes the buffer directory.
func (d *Disk[T]) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.shutdown() {
		return nil
	}

	var errs []error
	for _, seg := range d.segments {
		if err := seg.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.segments = nil
	if err := os.RemoveAll(d.dir); err != nil {
		errs = append(errs, &apperrors.StorageError{Operation: "delete", Path: d.dir, Err: err})
	}
	if d.queued > 0 || d.inFlight > 0 {
		d.logger.Warn("buffer shut down with pending records",
			zap.Int("queued", d.queued),
			zap.Int("in_flight", d.inFlight))
	}
	return errors.Join(errs...)
}

// writableSegment returns the tail segment, starting a new one when the
// tail is full. Caller holds mu.
func (d *Disk[T]) writableSegment() (*segment, error) {
	if n := len(d.segments); n > 0 {
		tail := d.segments[n-1]
		if tail.written < d.cfg.SegmentRecords {
			return tail, nil
		}
		tail.sealed = true
		d.collect()
	}

	d.nextSegment++
	path := filepath.Join(d.dir, fmt.Sprintf("%020d.seg", d.nextSegment))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, &apperrors.StorageError{Operation: "create", Path: path, Err: err}
	}
	seg := &segment{id: d.nextSegment, path: path, file: f, w: bufio.NewWriter(f)}
	d.segments = append(d.segments, seg)
	return seg, nil
}

// collect removes sealed, fully read segments whose records have all been
// checkpointed. Caller holds mu.
func (d *Disk[T]) collect() {
	keep := d.segments[:0]
	for i, seg := range d.segments {
		done := seg.sealed && seg.read == seg.written && seg.lastSeq <= d.ackedSeq
		if !done {
			keep = append(keep, d.segments[i:]...)
			break
		}
		if err := seg.remove(); err != nil {
			d.logger.Warn("failed to remove segment", zap.String("segment", seg.path), zap.Error(err))
		}
	}
	clear(d.segments[len(keep):])
	d.segments = keep
}

// append writes frames and flushes them so readers see them. On failure
// the file is truncated back to its previous size.
func (s *segment) append(frames []byte) error {
	_, err := s.w.Write(frames)
	if err == nil {
		err = s.w.Flush()
	}
	if err != nil {
		s.w.Reset(s.file)
		if terr := s.file.Truncate(s.size); terr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", terr))
		}
		return err
	}
	s.size += int64(len(frames))
	return nil
}

func (s *segment) remove() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}
