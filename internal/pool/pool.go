// Package pool recycles short-lived value objects and reclaims idle ones
// under memory pressure.
package pool

import (
	"sync"

	"geoframe/internal/metrics"
)

// Stats describes one pool. The yaml form is what MarshalStats writes.
type Stats struct {
	Name       string  `json:"name" yaml:"name"`
	Size       int     `json:"size" yaml:"size"`
	MaxSize    int     `json:"max_size" yaml:"max_size"`
	Created    uint64  `json:"created" yaml:"created"`
	Reused     uint64  `json:"reused" yaml:"reused"`
	Released   uint64  `json:"released" yaml:"released"`
	Discarded  uint64  `json:"discarded" yaml:"discarded"`
	Efficiency float64 `json:"efficiency" yaml:"efficiency"`
}

// Pool is a bounded free list of *T. Objects are reset on release, so
// anything handed out by Get is either fresh from the factory or in the
// canonical reset state.
type Pool[T any] struct {
	name    string
	factory func() *T
	reset   func(*T)

	mu      sync.Mutex
	idle    []*T
	maxSize int

	created   uint64
	reused    uint64
	released  uint64
	discarded uint64
}

// NewPool creates a standalone pool. A nil factory allocates new(T); a nil
// reset zeroes the object.
func NewPool[T any](name string, factory func() *T, reset func(*T), maxSize int) *Pool[T] {
	if factory == nil {
		factory = func() *T { return new(T) }
	}
	if reset == nil {
		reset = func(v *T) {
			var zero T
			*v = zero
		}
	}
	if maxSize < 0 {
		maxSize = 0
	}
	return &Pool[T]{
		name:    name,
		factory: factory,
		reset:   reset,
		idle:    make([]*T, 0, min(maxSize, 64)),
		maxSize: maxSize,
	}
}

// Name of the pool.
func (p *Pool[T]) Name() string { return p.name }

// Get returns an idle object or a new one from the factory.
func (p *Pool[T]) Get() *T {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		obj := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.reused++
		p.mu.Unlock()
		metrics.PoolReused.WithLabelValues(p.name).Inc()
		return obj
	}
	p.created++
	p.mu.Unlock()
	metrics.PoolCreated.WithLabelValues(p.name).Inc()
	return p.factory()
}

// Put resets obj and keeps it if the pool has room. It reports whether the
// object was kept; a full pool drops it.
func (p *Pool[T]) Put(obj *T) bool {
	if obj == nil {
		return false
	}
	p.reset(obj)

	p.mu.Lock()
	p.released++
	if len(p.idle) >= p.maxSize {
		p.discarded++
		p.mu.Unlock()
		metrics.PoolDiscarded.WithLabelValues(p.name).Inc()
		return false
	}
	p.idle = append(p.idle, obj)
	p.mu.Unlock()
	return true
}

// Len returns the number of idle objects.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// MaxSize returns the configured bound.
func (p *Pool[T]) MaxSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSize
}

// SetMaxSize changes the bound, dropping idle objects above it.
func (p *Pool[T]) SetMaxSize(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	p.maxSize = n
	p.trimLocked(n)
	p.mu.Unlock()
}

// Warmup pre-allocates up to n idle objects.
func (p *Pool[T]) Warmup(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) < min(n, p.maxSize) {
		p.idle = append(p.idle, p.factory())
		p.created++
	}
}

// Trim drops idle objects until at most target remain and returns how many
// were dropped. Objects held by callers are never affected.
func (p *Pool[T]) Trim(target int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trimLocked(target)
}

func (p *Pool[T]) trimLocked(target int) int {
	if target < 0 {
		target = 0
	}
	n := len(p.idle) - target
	if n <= 0 {
		return 0
	}
	for i := target; i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = p.idle[:target]
	return n
}

// Stats returns the pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{
		Name:      p.name,
		Size:      len(p.idle),
		MaxSize:   p.maxSize,
		Created:   p.created,
		Reused:    p.reused,
		Released:  p.released,
		Discarded: p.discarded,
	}
	if total := p.created + p.reused; total > 0 {
		st.Efficiency = float64(p.reused) / float64(total)
	}
	return st
}

// restore raises counters to at least the snapshot values. Counters are
// never lowered.
func (p *Pool[T]) restore(st Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = max(p.created, st.Created)
	p.reused = max(p.reused, st.Reused)
	p.released = max(p.released, st.Released)
	p.discarded = max(p.discarded, st.Discarded)
}
