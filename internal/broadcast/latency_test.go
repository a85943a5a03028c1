package broadcast

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestLatencyRecorder_Empty(t *testing.T) {
	r := NewLatencyRecorder(10)
	if s := r.Summary(); s != (LatencySummary{}) {
		t.Errorf("empty summary = %+v", s)
	}
}

func TestLatencyRecorder_CapacityBound(t *testing.T) {
	r := NewLatencyRecorder(5)
	for i := range 12 {
		r.RecordMillis(float64(i))
		if r.Len() > r.Cap() {
			t.Fatalf("Len %d exceeds capacity %d", r.Len(), r.Cap())
		}
	}
	s := r.Summary()
	if s.Samples != 5 {
		t.Fatalf("Samples = %d, want 5", s.Samples)
	}
	// Only 7..11 remain after FIFO eviction.
	if s.Median != 9 {
		t.Errorf("Median = %v, want 9", s.Median)
	}
	if s.P99 != 11 {
		t.Errorf("P99 = %v, want 11", s.P99)
	}
}

func TestLatencyRecorder_NearestRank(t *testing.T) {
	r := NewLatencyRecorder(100)
	for i := 100; i >= 1; i-- {
		r.RecordMillis(float64(i))
	}
	s := r.Summary()
	if s.Median != 50 || s.P95 != 95 || s.P99 != 99 {
		t.Errorf("got median=%v p95=%v p99=%v, want 50/95/99", s.Median, s.P95, s.P99)
	}
}

func TestLatencyRecorder_PercentileOrdering(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		r := NewLatencyRecorder(64)
		n := 1 + rng.IntN(200)
		for range n {
			r.Record(time.Duration(rng.IntN(50_000)) * time.Microsecond)
		}
		s := r.Summary()
		if !(s.Median <= s.P95 && s.P95 <= s.P99) {
			t.Fatalf("trial %d: median=%v p95=%v p99=%v not ordered", trial, s.Median, s.P95, s.P99)
		}
		if s.Samples > 64 {
			t.Fatalf("trial %d: %d samples exceeds capacity", trial, s.Samples)
		}
	}
}

func TestLatencyRecorder_DefaultCapacity(t *testing.T) {
	if got := NewLatencyRecorder(0).Cap(); got != DefaultLatencySamples {
		t.Errorf("Cap = %d, want %d", got, DefaultLatencySamples)
	}
}
