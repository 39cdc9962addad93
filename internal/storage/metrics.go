package storage

import (
	"sync/atomic"
	"time"
)

// Metrics receives one call per spill and per load. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// RecordWrite is called after each spill; bytes is what reached the file.
	RecordWrite(bytes int, duration time.Duration, err error)

	// RecordLoad is called after each load; bytes is what was read back.
	RecordLoad(bytes int, duration time.Duration, err error)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordWrite(int, time.Duration, error) {}
func (NoopMetrics) RecordLoad(int, time.Duration, error)  {}

// BasicMetrics counts spill traffic in memory.
type BasicMetrics struct {
	Writes         atomic.Int64
	WriteErrors    atomic.Int64
	BytesWritten   atomic.Int64
	WriteTotalNano atomic.Int64
	Loads          atomic.Int64
	LoadErrors     atomic.Int64
	BytesLoaded    atomic.Int64
	LoadTotalNano  atomic.Int64
}

// RecordWrite implements Metrics.
func (b *BasicMetrics) RecordWrite(bytes int, duration time.Duration, err error) {
	b.Writes.Add(1)
	b.BytesWritten.Add(int64(bytes))
	b.WriteTotalNano.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordLoad implements Metrics.
func (b *BasicMetrics) RecordLoad(bytes int, duration time.Duration, err error) {
	b.Loads.Add(1)
	b.BytesLoaded.Add(int64(bytes))
	b.LoadTotalNano.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// Snapshot returns the current counters.
func (b *BasicMetrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Writes:       b.Writes.Load(),
		WriteErrors:  b.WriteErrors.Load(),
		BytesWritten: b.BytesWritten.Load(),
		Loads:        b.Loads.Load(),
		LoadErrors:   b.LoadErrors.Load(),
		BytesLoaded:  b.BytesLoaded.Load(),
	}
	if s.Writes > 0 {
		s.WriteAvg = time.Duration(b.WriteTotalNano.Load() / s.Writes)
	}
	if s.Loads > 0 {
		s.LoadAvg = time.Duration(b.LoadTotalNano.Load() / s.Loads)
	}
	return s
}

// MetricsSnapshot is a point-in-time copy of BasicMetrics.
type MetricsSnapshot struct {
	Writes       int64         `json:"writes"`
	WriteErrors  int64         `json:"writeErrors"`
	BytesWritten int64         `json:"bytesWritten"`
	WriteAvg     time.Duration `json:"writeAvg"`
	Loads        int64         `json:"loads"`
	LoadErrors   int64         `json:"loadErrors"`
	BytesLoaded  int64         `json:"bytesLoaded"`
	LoadAvg      time.Duration `json:"loadAvg"`
}
