package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jittakal/eventpipe/pkg/event"
	"github.com/jittakal/eventpipe/pkg/storage"
)

var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// DefaultRouter lays objects out Hive style:
//
//	basePath/topic/v10/dt=YYYY-MM-DD/pid=N/
//
// Paths are relative to the backend's bucket, container or directory.
type DefaultRouter struct {
	basePath string
	version  string
}

// NewRouter creates a router. version is used when a record carries no
// spec version.
func NewRouter(basePath, version string) *DefaultRouter {
	return &DefaultRouter{basePath: strings.Trim(basePath, "/"), version: version}
}

// Route returns the directory for a partition on the day of timestamp
// (Unix seconds, UTC). A spec version of "1.0" becomes "v10".
func (r *DefaultRouter) Route(partitionID event.PartitionID, timestamp int64, specVersion string) string {
	version := r.version
	if v := strings.ReplaceAll(specVersion, ".", ""); v != "" {
		version = "v" + v
	}
	date := time.Unix(timestamp, 0).UTC().Format(time.DateOnly)

	return path.Join(
		r.basePath,
		partitionID.Topic,
		version,
		"dt="+date,
		fmt.Sprintf("pid=%d", partitionID.Partition),
	) + "/"
}

// RotationStrategy selects which limits a policy enforces.
type RotationStrategy string

const (
	StrategyComposite RotationStrategy = "composite"
	StrategySizeOnly  RotationStrategy = "size"
	StrategyTimeOnly  RotationStrategy = "time"
	StrategyCount     RotationStrategy = "count"
)

// PolicyConfig configures rotation.
type PolicyConfig struct {
	MaxFileSizeMB      int64
	MaxRecordsPerFile  int
	MaxDurationSeconds int
	Strategy           RotationStrategy
}

// CompositePolicy rotates when any enabled limit is reached.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
	now          func() time.Time
}

// NewPolicy creates a policy. A single-limit strategy disables the other
// limits; an unknown or empty strategy is treated as composite.
func NewPolicy(config PolicyConfig) *CompositePolicy {
	p := &CompositePolicy{
		maxSizeBytes: config.MaxFileSizeMB << 20,
		maxRecords:   config.MaxRecordsPerFile,
		maxDuration:  time.Duration(config.MaxDurationSeconds) * time.Second,
		now:          time.Now,
	}
	switch config.Strategy {
	case StrategySizeOnly:
		p.maxRecords, p.maxDuration = 0, 0
	case StrategyCount:
		p.maxSizeBytes, p.maxDuration = 0, 0
	case StrategyTimeOnly:
		p.maxSizeBytes, p.maxRecords = 0, 0
	}
	return p
}

// ShouldRotate reports whether a batch with stats should be flushed.
func (p *CompositePolicy) ShouldRotate(stats event.FileStats) bool {
	if stats.RecordCount == 0 {
		return false
	}
	if p.maxSizeBytes > 0 && stats.SizeBytes >= p.maxSizeBytes {
		return true
	}
	if p.maxRecords > 0 && stats.RecordCount >= p.maxRecords {
		return true
	}
	return p.maxDuration > 0 && !stats.FirstWriteTime.IsZero() &&
		p.now().Sub(stats.FirstWriteTime) >= p.maxDuration
}

// MaxAge returns the time limit, or zero when age never forces a rotation.
func (p *CompositePolicy) MaxAge() time.Duration {
	return p.maxDuration
}
