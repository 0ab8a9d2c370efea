// Package abr estimates throughput from segment downloads and picks the
// variant to play.
package abr

import (
	"math"
	"sync"
	"time"
)

// Sample is one segment download measurement.
type Sample struct {
	DurationSeconds float64
	Bytes           int
}

// Estimator keeps a bounded window of the most recent samples. The oldest
// sample is evicted when the window is full.
type Estimator struct {
	mu       sync.Mutex
	samples  []Sample
	next     int
	count    int
	fallback float64
}

// NewEstimator creates an estimator holding up to capacity samples.
// fallback is reported while the window is empty; pass 0 for an unbounded
// estimate.
func NewEstimator(capacity int, fallback float64) *Estimator {
	if capacity < 1 {
		capacity = 1
	}
	return &Estimator{
		samples:  make([]Sample, capacity),
		fallback: fallback,
	}
}

// Add records bytes transferred in elapsed.
func (e *Estimator) Add(bytes int, elapsed time.Duration) {
	e.AddSample(Sample{DurationSeconds: elapsed.Seconds(), Bytes: bytes})
}

// AddSample records s, evicting the oldest sample if the window is full.
func (e *Estimator) AddSample(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples[e.next] = s
	e.next = (e.next + 1) % len(e.samples)
	if e.count < len(e.samples) {
		e.count++
	}
}

// Estimate returns totalBytes*8/totalSeconds over the window in bits per
// second. With no samples (or no measurable time) it returns the fallback,
// or +Inf when there is none.
func (e *Estimator) Estimate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var bytes, seconds float64
	for i := 0; i < e.count; i++ {
		bytes += float64(e.samples[i].Bytes)
		seconds += e.samples[i].DurationSeconds
	}

	if e.count == 0 || seconds <= 0 {
		if e.fallback > 0 {
			return e.fallback
		}
		return math.Inf(1)
	}

	return bytes * 8 / seconds
}

// Len returns the number of samples in the window.
func (e *Estimator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Reset drops all samples.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next = 0
	e.count = 0
}
