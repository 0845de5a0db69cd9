// Package level smooths per-frame loudness values and keeps a short history
// for the waveform display. It performs no I/O and owns no hardware; pushes
// arrive from the audio frame loop while snapshots are pulled by the UI at
// its own refresh cadence.
package level

import "sync"

const (
	// DefaultAlpha is the single-pole smoothing coefficient.
	DefaultAlpha = 0.3
	// DefaultCapacity is the number of samples kept for the visualizer.
	DefaultCapacity = 40
)

// Stream holds the smoothed loudness scalar and a fixed-capacity ring of the
// most recent samples. Safe for concurrent Push/Snapshot/Reset.
type Stream struct {
	mu       sync.Mutex
	alpha    float64
	smoothed float64
	ring     []float64
	next     int
	filled   int
}

// NewStream creates a stream with the given smoothing coefficient and ring
// capacity. Out-of-range values fall back to the defaults.
func NewStream(alpha float64, capacity int) *Stream {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stream{
		alpha: alpha,
		ring:  make([]float64, capacity),
	}
}

// Push folds a raw loudness value into the smoothed scalar and records the
// result, overwriting the oldest entry once the ring is full.
func (s *Stream) Push(raw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.smoothed = s.smoothed*(1-s.alpha) + raw*s.alpha
	s.ring[s.next] = s.smoothed
	s.next = (s.next + 1) % len(s.ring)
	if s.filled < len(s.ring) {
		s.filled++
	}
}

// Smoothed returns the current smoothed value.
func (s *Stream) Smoothed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.smoothed
}

// Snapshot returns exactly capacity values in chronological order, oldest
// first, zero-padded at the front until the ring has filled once.
func (s *Stream) Snapshot() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]float64, len(s.ring))
	pad := len(s.ring) - s.filled
	for i := 0; i < s.filled; i++ {
		idx := (s.next - s.filled + i + len(s.ring)) % len(s.ring)
		out[pad+i] = s.ring[idx]
	}
	return out
}

// Capacity returns the fixed ring size.
func (s *Stream) Capacity() int {
	return len(s.ring)
}

// Reset zeroes the ring and the smoothed value so the next session starts
// from a clean idle visual.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.smoothed = 0
	s.next = 0
	s.filled = 0
	for i := range s.ring {
		s.ring[i] = 0
	}
}
