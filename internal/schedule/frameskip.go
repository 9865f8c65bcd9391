package schedule

import (
	"sync"

	"geoframe/internal/metrics"
)

// FrameSkipper decorates a FrameScheduler so that only every Kth request
// runs its real callback. The other requests are swapped for a placeholder
// that re-requests the original on the next frame, which keeps the callback
// chain alive at the host's frame cadence while the real work runs 1/K as
// often.
type FrameSkipper struct {
	inner FrameScheduler

	mu      sync.Mutex
	every   int
	count   uint64
	skipped uint64
}

// NewFrameSkipper wraps inner with skipping disabled.
func NewFrameSkipper(inner FrameScheduler) *FrameSkipper {
	return &FrameSkipper{inner: inner, every: 1}
}

// SetEvery sets K. Values below 2 disable skipping.
func (s *FrameSkipper) SetEvery(k int) {
	if k < 1 {
		k = 1
	}
	s.mu.Lock()
	s.every = k
	s.count = 0
	s.mu.Unlock()
}

// Every returns K.
func (s *FrameSkipper) Every() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.every
}

// Skipped returns how many requests were replaced by a placeholder.
func (s *FrameSkipper) Skipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// RequestFrame implements FrameScheduler.
func (s *FrameSkipper) RequestFrame(fn func()) Handle {
	s.mu.Lock()
	s.count++
	run := s.every <= 1 || s.count%uint64(s.every) == 0
	if !run {
		s.skipped++
	}
	s.mu.Unlock()

	if run {
		return s.inner.RequestFrame(fn)
	}
	metrics.FramesSkipped.Inc()
	return s.inner.RequestFrame(func() { s.RequestFrame(fn) })
}
