// Package schedule is the cooperative timer and frame abstraction that the
// managers run on. Interval tasks fire from Tick, frame callbacks from
// RunFrame; the host decides when each is called (ebiten Update/Draw in the
// window, a plain loop in headless mode).
package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"geoframe/internal/clock"
)

// Handle identifies a scheduled task or frame request.
type Handle uint64

// Scheduler runs callbacks on a fixed interval.
type Scheduler interface {
	Schedule(fn func(), interval time.Duration) Handle
	Cancel(h Handle)
}

// FrameScheduler runs a callback once on the next frame.
type FrameScheduler interface {
	RequestFrame(fn func()) Handle
}

type task struct {
	id        Handle
	fn        func()
	interval  time.Duration
	next      time.Time
	cancelled atomic.Bool
}

type frameRequest struct {
	id        Handle
	fn        func()
	cancelled *atomic.Bool
}

// Loop implements Scheduler and FrameScheduler on top of an injected clock.
type Loop struct {
	mu     sync.Mutex
	clock  clock.Clock
	seq    Handle
	tasks  []*task
	frames []frameRequest
	byID   map[Handle]*atomic.Bool
	frame  uint64
}

// NewLoop creates a loop reading time from c (real time when nil).
func NewLoop(c clock.Clock) *Loop {
	return &Loop{
		clock: clock.OrReal(c),
		byID:  make(map[Handle]*atomic.Bool),
	}
}

// Schedule registers fn to run every interval, first one interval from now.
// Non-positive intervals run on every Tick.
func (l *Loop) Schedule(fn func(), interval time.Duration) Handle {
	if interval < 0 {
		interval = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	t := &task{id: l.seq, fn: fn, interval: interval, next: l.clock.Now().Add(interval)}
	l.tasks = append(l.tasks, t)
	l.byID[t.id] = &t.cancelled
	return t.id
}

// Cancel stops a task or pending frame request. Unknown handles are ignored.
// Safe to call from inside the cancelled callback.
func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	flag, ok := l.byID[h]
	if !ok {
		return
	}
	flag.Store(true)
	delete(l.byID, h)
	for i, t := range l.tasks {
		if t.id == h {
			l.tasks = append(l.tasks[:i:i], l.tasks[i+1:]...)
			break
		}
	}
}

// Tick runs every interval task that is due and returns how many ran.
// A task that fell behind fires once and is rescheduled from now rather than
// replaying missed intervals.
func (l *Loop) Tick() int {
	now := l.clock.Now()

	l.mu.Lock()
	var due []*task
	for _, t := range l.tasks {
		if now.Before(t.next) {
			continue
		}
		due = append(due, t)
		t.next = t.next.Add(t.interval)
		if !t.next.After(now) {
			t.next = now.Add(t.interval)
		}
	}
	l.mu.Unlock()

	ran := 0
	for _, t := range due {
		if t.cancelled.Load() {
			continue
		}
		t.fn()
		ran++
	}
	return ran
}

// RequestFrame queues fn for the next RunFrame.
func (l *Loop) RequestFrame(fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	flag := new(atomic.Bool)
	l.frames = append(l.frames, frameRequest{id: l.seq, fn: fn, cancelled: flag})
	l.byID[l.seq] = flag
	return l.seq
}

// RunFrame runs the callbacks requested before this call. Requests made while
// the frame runs wait for the following frame.
func (l *Loop) RunFrame() int {
	l.mu.Lock()
	pending := l.frames
	l.frames = nil
	l.frame++
	for _, r := range pending {
		delete(l.byID, r.id)
	}
	l.mu.Unlock()

	ran := 0
	for _, r := range pending {
		if r.cancelled.Load() {
			continue
		}
		r.fn()
		ran++
	}
	return ran
}

// Frame returns the number of frames run so far.
func (l *Loop) Frame() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame
}

// Pending reports active interval tasks and queued frame requests.
func (l *Loop) Pending() (tasks, frames int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks), len(l.frames)
}

// Now exposes the loop clock.
func (l *Loop) Now() time.Time { return l.clock.Now() }
