package buffer

import "time"

// Counter is a monotonically increasing metric.
type Counter interface {
	Add(delta float64)
}

// Timer records durations.
type Timer interface {
	Record(d time.Duration)
}

// Gauge is an integer level that can move both ways. Implementations
// must be atomic so concurrent Add calls never lose updates.
type Gauge interface {
	Add(delta int64) int64
	Load() int64
}

// MetricsFactory creates the metrics for one buffer instance. Calling a
// constructor twice with the same name returns the same metric.
type MetricsFactory interface {
	Counter(name string) Counter
	Timer(name string) Timer
	Gauge(name string, initial int64) Gauge
}
