// Package bus is the in-process publish/subscribe hub the rest of the core
// talks through.
//
// Listeners for one event name run in registration order. Emit iterates a
// snapshot of the listener list, so handlers may subscribe or unsubscribe
// (themselves included) while an emit is in flight; an unsubscribed handler
// is never invoked afterwards, even by the emit that is currently running.
//
// Every emit is recorded in a fixed-capacity ring for diagnostics.
package bus

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"geoframe/internal/clock"
	"geoframe/internal/logging"
	"geoframe/internal/metrics"
)

// DefaultHistorySize is the ring capacity when none is configured.
const DefaultHistorySize = 100

// Handler receives the payload of an emitted event. A returned error is
// recorded as a listener fault and does not stop the emit.
type Handler func(data any) error

// Record is one entry of the emit history.
type Record struct {
	ID        ulid.ULID
	Name      string
	Payload   any
	Timestamp time.Time
}

// Subscription is returned by On and Once.
type Subscription struct {
	bus    *Bus
	name   string
	id     uint64
	fn     Handler
	once   bool
	active atomic.Bool
}

// Name of the event the subscription listens to.
func (s *Subscription) Name() string { return s.name }

// Active reports whether the handler can still be invoked.
func (s *Subscription) Active() bool { return s.active.Load() }

// Unsubscribe detaches the handler. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

// Options configure a Bus.
type Options struct {
	HistorySize int
	Clock       clock.Clock
	Logger      *zerolog.Logger
	Debug       bool
}

// Stats is a point-in-time summary of the bus.
type Stats struct {
	Events      int    `json:"events" yaml:"events"`
	Listeners   int    `json:"listeners" yaml:"listeners"`
	HistorySize int    `json:"history_size" yaml:"history_size"`
	Capacity    int    `json:"capacity" yaml:"capacity"`
	Emitted     uint64 `json:"emitted" yaml:"emitted"`
	Faults      uint64 `json:"faults" yaml:"faults"`
	Debug       bool   `json:"debug" yaml:"debug"`
}

// Bus is safe for concurrent use, although the core drives it from one
// goroutine.
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]*Subscription
	seq       uint64

	ring  []Record
	head  int
	count int

	clock   clock.Clock
	entropy *ulid.MonotonicEntropy
	log     zerolog.Logger
	debug   atomic.Bool

	emitted atomic.Uint64
	faults  atomic.Uint64
}

// New creates a bus.
func New(opts Options) *Bus {
	size := opts.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	b := &Bus{
		listeners: make(map[string][]*Subscription),
		ring:      make([]Record, size),
		clock:     clock.OrReal(opts.Clock),
		entropy:   ulid.Monotonic(rand.Reader, 0),
		log:       logging.Component(opts.Logger, "bus"),
	}
	b.debug.Store(opts.Debug)
	return b
}

// On registers fn for name.
func (b *Bus) On(name string, fn Handler) *Subscription {
	return b.add(name, fn, false)
}

// Once registers fn for a single invocation.
func (b *Bus) Once(name string, fn Handler) *Subscription {
	return b.add(name, fn, true)
}

func (b *Bus) add(name string, fn Handler, once bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	sub := &Subscription{bus: b, name: name, id: b.seq, fn: fn, once: once}
	sub.active.Store(true)
	b.listeners[name] = append(b.listeners[name], sub)
	if b.debug.Load() {
		b.log.Debug().Str("event", name).Bool("once", once).Msg("listener added")
	}
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	if !sub.active.Swap(false) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked(sub)
}

func (b *Bus) detachLocked(sub *Subscription) {
	list := b.listeners[sub.name]
	for i, s := range list {
		if s == sub {
			// Copy so in-flight snapshots keep their backing array.
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.listeners, sub.name)
			} else {
				b.listeners[sub.name] = next
			}
			return
		}
	}
}

// Off removes the given subscriptions for name, or every listener of name
// when none are given.
func (b *Bus) Off(name string, subs ...*Subscription) {
	if len(subs) > 0 {
		for _, s := range subs {
			if s != nil && s.name == name {
				s.Unsubscribe()
			}
		}
		return
	}

	b.mu.Lock()
	list := b.listeners[name]
	delete(b.listeners, name)
	b.mu.Unlock()
	for _, s := range list {
		s.active.Store(false)
	}
}

// RemoveAll drops every listener of every event.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	all := b.listeners
	b.listeners = make(map[string][]*Subscription)
	b.mu.Unlock()
	for _, list := range all {
		for _, s := range list {
			s.active.Store(false)
		}
	}
}

// Emit records the event and invokes its listeners in registration order.
// Listener errors and panics are captured and logged.
func (b *Bus) Emit(name string, data any) {
	now := b.clock.Now()

	b.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), b.entropy)
	if err != nil {
		id = ulid.Make()
	}
	b.ring[b.head] = Record{ID: id, Name: name, Payload: data, Timestamp: now}
	b.head = (b.head + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
	snapshot := b.listeners[name]
	b.mu.Unlock()

	b.emitted.Add(1)
	metrics.BusEvents.WithLabelValues(name).Inc()
	if b.debug.Load() {
		b.log.Debug().Str("event", name).Int("listeners", len(snapshot)).Msg("emit")
	}

	for _, sub := range snapshot {
		if sub.once {
			// Claim the single invocation before running it.
			if !sub.active.CompareAndSwap(true, false) {
				continue
			}
			b.mu.Lock()
			b.detachLocked(sub)
			b.mu.Unlock()
		} else if !sub.active.Load() {
			continue
		}
		b.invoke(sub, data)
	}
}

func (b *Bus) invoke(sub *Subscription, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.fault(sub.name, fmt.Errorf("listener panic: %v", r))
		}
	}()
	if err := sub.fn(data); err != nil {
		b.fault(sub.name, err)
	}
}

func (b *Bus) fault(name string, err error) {
	b.faults.Add(1)
	metrics.BusFaults.WithLabelValues(name).Inc()
	b.log.Error().Err(err).Str("event", name).Msg("listener failed")
}

// History returns up to n of the most recent records, oldest first. n <= 0
// returns the whole ring.
func (b *Bus) History(n int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]Record, n)
	start := (b.head - n + len(b.ring)) % len(b.ring)
	for i := 0; i < n; i++ {
		out[i] = b.ring[(start+i)%len(b.ring)]
	}
	return out
}

// ClearHistory empties the ring.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.ring {
		b.ring[i] = Record{}
	}
	b.head, b.count = 0, 0
}

// ListenerCount returns the number of active listeners for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[name])
}

// Events returns the sorted names that currently have listeners.
func (b *Bus) Events() []string {
	b.mu.Lock()
	names := make([]string, 0, len(b.listeners))
	for name := range b.listeners {
		names = append(names, name)
	}
	b.mu.Unlock()
	sort.Strings(names)
	return names
}

// SetDebug toggles per-emit debug logging.
func (b *Bus) SetDebug(on bool) { b.debug.Store(on) }

// Stats summarises listeners, history and counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	listeners := 0
	for _, list := range b.listeners {
		listeners += len(list)
	}
	st := Stats{
		Events:      len(b.listeners),
		Listeners:   listeners,
		HistorySize: b.count,
		Capacity:    len(b.ring),
	}
	b.mu.Unlock()
	st.Emitted = b.emitted.Load()
	st.Faults = b.faults.Load()
	st.Debug = b.debug.Load()
	return st
}
