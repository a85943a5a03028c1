package broadcast

import (
	"math"
	"slices"
	"sync"
	"time"
)

// DefaultLatencySamples is the capacity of the latency ring.
const DefaultLatencySamples = 1000

// LatencyRecorder keeps the most recent broadcast durations in a fixed-size
// ring, evicting the oldest sample first.
type LatencyRecorder struct {
	mu      sync.Mutex
	samples []float64 // milliseconds
	pos     int
	n       int
}

// LatencySummary is a point-in-time view of the recorder. Percentiles are in
// milliseconds and use the nearest-rank method.
type LatencySummary struct {
	Median  float64 `json:"median_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
	Samples int     `json:"samples"`
}

// NewLatencyRecorder creates a recorder holding up to capacity samples.
func NewLatencyRecorder(capacity int) *LatencyRecorder {
	if capacity <= 0 {
		capacity = DefaultLatencySamples
	}
	return &LatencyRecorder{samples: make([]float64, capacity)}
}

// Record adds one sample.
func (r *LatencyRecorder) Record(d time.Duration) {
	r.RecordMillis(float64(d) / float64(time.Millisecond))
}

// RecordMillis adds one sample expressed in milliseconds.
func (r *LatencyRecorder) RecordMillis(ms float64) {
	r.mu.Lock()
	r.samples[r.pos] = ms
	r.pos = (r.pos + 1) % len(r.samples)
	if r.n < len(r.samples) {
		r.n++
	}
	r.mu.Unlock()
}

// Len returns the number of samples held.
func (r *LatencyRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the fixed capacity.
func (r *LatencyRecorder) Cap() int { return len(r.samples) }

// Summary sorts a copy of the current samples and computes percentiles.
// An empty recorder yields all zeros.
func (r *LatencyRecorder) Summary() LatencySummary {
	r.mu.Lock()
	snap := make([]float64, r.n)
	copy(snap, r.samples[:r.n])
	r.mu.Unlock()

	if len(snap) == 0 {
		return LatencySummary{}
	}
	slices.Sort(snap)
	return LatencySummary{
		Median:  percentile(snap, 0.50),
		P95:     percentile(snap, 0.95),
		P99:     percentile(snap, 0.99),
		Samples: len(snap),
	}
}

// percentile returns the nearest-rank p-th percentile of sorted.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
