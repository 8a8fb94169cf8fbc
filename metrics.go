package rawrcache

import (
	"sync/atomic"
	"time"
)

// Metrics holds lock-free counters for one Manager. Counters only grow; they
// are never reset after construction.
type Metrics struct {
	hits           atomic.Int64
	misses         atomic.Int64
	networkCalls   atomic.Int64
	networkErrors  atomic.Int64
	expiredEntries atomic.Int64
	cacheSizeBytes atomic.Int64
	startTime      time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a read-only copy of Metrics at one point in time.
type MetricsSnapshot struct {
	Hits           int64     `json:"hits"`
	Misses         int64     `json:"misses"`
	NetworkCalls   int64     `json:"network_calls"`
	NetworkErrors  int64     `json:"network_errors"`
	ExpiredEntries int64     `json:"expired_entries"`
	CacheSizeBytes int64     `json:"cache_size_bytes"`
	StartTime      time.Time `json:"start_time"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		NetworkCalls:   m.networkCalls.Load(),
		NetworkErrors:  m.networkErrors.Load(),
		ExpiredEntries: m.expiredEntries.Load(),
		CacheSizeBytes: m.cacheSizeBytes.Load(),
		StartTime:      m.startTime,
	}
}

// HitRatio is hits/(hits+misses), or 0 before the first lookup.
func (s MetricsSnapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Uptime is the time since the metrics were created.
func (s MetricsSnapshot) Uptime() time.Duration {
	return time.Since(s.StartTime)
}
