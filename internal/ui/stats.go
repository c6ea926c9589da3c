package ui

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stats keeps recent turn latencies and outcome counters for the console
// status line. Latencies live in a bounded ring from which percentiles are
// computed on demand.
//
// Thread-safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	latency ring
	turns   int64
	errors  int64
}

// NewStats creates a Stats that retains the last window turn latencies.
func NewStats(window int) *Stats {
	if window <= 0 {
		window = 50
	}
	return &Stats{latency: newRing(window)}
}

// RecordTurn records one finished turn. Failed turns count as errors and do
// not contribute a latency sample.
func (s *Stats) RecordTurn(d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	if failed {
		s.errors++
		return
	}
	s.latency.add(d)
}

// Percentiles holds p50 and p95 turn latency.
type Percentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Latency Percentiles
	Turns   int64
	Errors  int64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Latency: s.latency.percentiles(),
		Turns:   s.turns,
		Errors:  s.errors,
	}
}

type ring struct {
	data []time.Duration
	pos  int
	full bool
}

func newRing(size int) ring {
	return ring{data: make([]time.Duration, size)}
}

func (r *ring) add(d time.Duration) {
	r.data[r.pos] = d
	r.pos++
	if r.pos == len(r.data) {
		r.pos = 0
		r.full = true
	}
}

func (r *ring) percentiles() Percentiles {
	n := r.pos
	if r.full {
		n = len(r.data)
	}
	if n == 0 {
		return Percentiles{}
	}
	sorted := slices.Clone(r.data[:n])
	slices.Sort(sorted)
	return Percentiles{
		P50: nearestRank(sorted, 0.50),
		P95: nearestRank(sorted, 0.95),
	}
}

// nearestRank returns the p-th percentile (0-1) of a sorted slice.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
