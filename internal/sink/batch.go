package sink

import (
	"time"

	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/event"
	"github.com/jittakal/eventpipe/pkg/storage"
)

// batch accumulates records read from the buffer until they are written
// out. Records are grouped by destination directory; the checkpoint states
// of every read that contributed are held until the batch is flushed.
type batch struct {
	router storage.Router

	groups map[string][]*event.Record
	order  []string
	states []*buffer.CheckpointState
	stats  event.FileStats
}

func newBatch(router storage.Router) *batch {
	return &batch{router: router, groups: make(map[string][]*event.Record)}
}

// add takes ownership of records and the state that acknowledges them.
func (b *batch) add(records []buffer.Record[*event.Record], state *buffer.CheckpointState, now time.Time) {
	if state != nil {
		b.states = append(b.states, state)
	}
	if len(records) == 0 {
		return
	}

	for _, r := range records {
		rec := r.Data
		if rec == nil {
			continue
		}
		dir := b.route(rec)
		if _, ok := b.groups[dir]; !ok {
			b.order = append(b.order, dir)
		}
		b.groups[dir] = append(b.groups[dir], rec)
		b.stats.RecordCount++
		b.stats.SizeBytes += int64(rec.EstimatedSize())
	}

	if b.stats.FirstWriteTime.IsZero() {
		b.stats.FirstWriteTime = now
	}
	b.stats.LastWriteTime = now
}

func (b *batch) route(rec *event.Record) string {
	var specVersion string
	if rec.Event != nil {
		specVersion = rec.Event.SpecVersion
	}
	return b.router.Route(rec.PartitionID(), rec.GetEventTimeUnix(), specVersion)
}

// Stats returns the accumulated totals for the rotation policy.
func (b *batch) Stats() event.FileStats {
	return b.stats
}

// empty reports whether there is nothing to write or acknowledge.
func (b *batch) empty() bool {
	return b.stats.RecordCount == 0 && len(b.states) == 0
}

// group is the records bound for one directory.
type group struct {
	dir     string
	records []*event.Record
}

// take returns the groups in first-seen order and the held states, and
// resets the batch.
func (b *batch) take() ([]group, []*buffer.CheckpointState) {
	groups := make([]group, 0, len(b.order))
	for _, dir := range b.order {
		groups = append(groups, group{dir: dir, records: b.groups[dir]})
	}
	states := b.states

	b.groups = make(map[string][]*event.Record)
	b.order = nil
	b.states = nil
	b.stats = event.FileStats{}
	return groups, states
}
