package delivery

import (
	"sync/atomic"
	"time"
)

// Stats holds the in-process pipeline counters. Counters are per instance
// and advisory; authoritative shared state (lane depths, window counts,
// dedup markers) lives in the store.
type Stats struct {
	Processed    atomic.Int64
	Sent         atomic.Int64
	Failed       atomic.Int64
	Deduplicated atomic.Int64
	RateLimited  atomic.Int64
	DeadLettered atomic.Int64
	Retried      atomic.Int64

	start time.Time
}

// NewStats creates a Stats block with the uptime origin set to now.
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// Snapshot is a point-in-time copy of the counters plus derived rates.
type Snapshot struct {
	Processed    int64   `json:"alerts_processed"`
	Sent         int64   `json:"alerts_sent"`
	Failed       int64   `json:"alerts_failed"`
	Deduplicated int64   `json:"alerts_deduplicated"`
	RateLimited  int64   `json:"alerts_rate_limited"`
	DeadLettered int64   `json:"alerts_dead_lettered"`
	Retried      int64   `json:"retries_attempted"`
	UptimeSec    float64 `json:"uptime_seconds"`
	SuccessRate  float64 `json:"success_rate"`
	PerMinute    float64 `json:"alerts_per_minute"`
}

// Snapshot captures the current counter values and derived rates.
func (s *Stats) Snapshot() Snapshot {
	uptime := time.Since(s.start).Seconds()
	if uptime < 1 {
		uptime = 1
	}
	processed := s.Processed.Load()
	sent := s.Sent.Load()

	successRate := 0.0
	if processed > 0 {
		successRate = float64(sent) / float64(processed) * 100
	}

	return Snapshot{
		Processed:    processed,
		Sent:         sent,
		Failed:       s.Failed.Load(),
		Deduplicated: s.Deduplicated.Load(),
		RateLimited:  s.RateLimited.Load(),
		DeadLettered: s.DeadLettered.Load(),
		Retried:      s.Retried.Load(),
		UptimeSec:    uptime,
		SuccessRate:  successRate,
		PerMinute:    float64(processed) / uptime * 60,
	}
}
