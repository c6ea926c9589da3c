package ui

import (
	"testing"
	"time"
)

func TestStats_Percentiles(t *testing.T) {
	t.Parallel()

	s := NewStats(100)
	for i := 1; i <= 100; i++ {
		s.RecordTurn(time.Duration(i)*100*time.Millisecond, false)
	}
	s.RecordTurn(time.Hour, true)

	snap := s.Snapshot()
	if snap.Turns != 101 || snap.Errors != 1 {
		t.Errorf("turns = %d, errors = %d", snap.Turns, snap.Errors)
	}
	if snap.Latency.P50 != 5*time.Second {
		t.Errorf("P50 = %v, want 5s", snap.Latency.P50)
	}
	if snap.Latency.P95 != 9500*time.Millisecond {
		t.Errorf("P95 = %v, want 9.5s", snap.Latency.P95)
	}
}

func TestStats_WindowWraps(t *testing.T) {
	t.Parallel()

	s := NewStats(3)
	for _, d := range []time.Duration{10, 20, 30, 1, 2} {
		s.RecordTurn(d*time.Second, false)
	}
	// Window holds 30s, 1s, 2s.
	if got := s.Snapshot().Latency.P95; got != 30*time.Second {
		t.Errorf("P95 = %v, want 30s", got)
	}
	if got := s.Snapshot().Latency.P50; got != 2*time.Second {
		t.Errorf("P50 = %v, want 2s", got)
	}
}

func TestStats_Empty(t *testing.T) {
	t.Parallel()

	if snap := NewStats(0).Snapshot(); snap != (Snapshot{}) {
		t.Errorf("empty snapshot = %+v", snap)
	}
}
