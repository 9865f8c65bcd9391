// Package feed moves incoming map objects into the culler in bounded,
// throttled batches.
package feed

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geoframe/internal/clock"
	"geoframe/internal/culling"
	"geoframe/internal/geo"
	"geoframe/internal/geom"
	"geoframe/internal/logging"
	"geoframe/internal/pool"
)

// Sink receives flushed objects.
type Sink interface {
	AddObject(obj culling.Object)
	RemoveObject(id string) bool
}

// Defaults.
const (
	DefaultBatchSize = 200
	DefaultThrottle  = 16 * time.Millisecond
	DefaultMaxQueue  = 10000
)

// Options configure a Feeder.
type Options struct {
	Pools      *pool.Manager
	Sink       Sink
	Projection geo.Projection
	// Locator resolves records that carry only an IP. Optional.
	Locator   geo.Locator
	BatchSize int
	Throttle  time.Duration
	MaxQueue  int
	Clock     clock.Clock
	Logger    *zerolog.Logger
}

// Stats counts feeder activity.
type Stats struct {
	Pending    int    `json:"pending"`
	Queued     uint64 `json:"queued"`
	Flushed    uint64 `json:"flushed"`
	Removed    uint64 `json:"removed"`
	Dropped    uint64 `json:"dropped"`
	Unresolved uint64 `json:"unresolved"`
	Batches    uint64 `json:"batches"`
}

// Feeder is the producer side of the culler. Records are taken from the
// MapObject pool by New, handed back with Push, and returned to the pool
// once flushed.
type Feeder struct {
	mu        sync.Mutex
	pools     *pool.Manager
	sink      Sink
	proj      geo.Projection
	locator   geo.Locator
	batch     int
	throttle  time.Duration
	maxQueue  int
	queue     []*pool.MapObject
	lastFlush time.Time
	clock     clock.Clock
	log       zerolog.Logger
	stats     Stats
}

// New creates a feeder.
func New(opts Options) *Feeder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Throttle < 0 {
		opts.Throttle = 0
	}
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = DefaultMaxQueue
	}
	return &Feeder{
		pools:    opts.Pools,
		sink:     opts.Sink,
		proj:     opts.Projection,
		locator:  opts.Locator,
		batch:    opts.BatchSize,
		throttle: opts.Throttle,
		maxQueue: opts.MaxQueue,
		clock:    clock.OrReal(opts.Clock),
		log:      logging.Component(opts.Logger, "feed"),
	}
}

// New returns a blank record, pooled when a pool manager is configured.
func (f *Feeder) New() *pool.MapObject {
	if f.pools != nil {
		if obj := pool.Acquire[pool.MapObject](f.pools, pool.MapObjectPool); obj != nil {
			return obj
		}
	}
	return &pool.MapObject{}
}

func (f *Feeder) release(obj *pool.MapObject) {
	if f.pools != nil {
		pool.Release(f.pools, pool.MapObjectPool, obj)
	}
}

// Push queues obj. The feeder owns obj afterwards. A record with Removed set
// takes its ID out of the sink. When the queue is full the oldest record is
// dropped.
func (f *Feeder) Push(obj *pool.MapObject) {
	if obj == nil || obj.ID == "" {
		return
	}
	f.mu.Lock()
	var dropped *pool.MapObject
	if len(f.queue) >= f.maxQueue {
		dropped = f.queue[0]
		f.queue[0] = nil
		f.queue = f.queue[1:]
		f.stats.Dropped++
	}
	f.queue = append(f.queue, obj)
	f.stats.Queued++
	f.mu.Unlock()

	if dropped != nil {
		f.release(dropped)
	}
}

// Pending returns the number of queued records.
func (f *Feeder) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Flush moves at most BatchSize records into the sink, unless the previous
// flush happened less than Throttle ago. It returns how many were moved.
func (f *Feeder) Flush() int {
	now := f.clock.Now()

	f.mu.Lock()
	if len(f.queue) == 0 || (!f.lastFlush.IsZero() && now.Sub(f.lastFlush) < f.throttle) {
		f.mu.Unlock()
		return 0
	}
	n := min(f.batch, len(f.queue))
	batch := make([]*pool.MapObject, n)
	copy(batch, f.queue)
	clear(f.queue[:n])
	f.queue = f.queue[n:]
	if len(f.queue) == 0 {
		f.queue = nil
	}
	f.lastFlush = now
	f.stats.Batches++
	f.mu.Unlock()

	var flushed, removed, unresolved uint64
	for _, rec := range batch {
		if rec.Removed {
			if f.sink != nil && f.sink.RemoveObject(rec.ID) {
				removed++
			}
		} else if obj, ok := f.convert(rec); ok {
			if f.sink != nil {
				f.sink.AddObject(obj)
			}
			flushed++
		} else {
			unresolved++
		}
		f.release(rec)
	}

	f.mu.Lock()
	f.stats.Flushed += flushed
	f.stats.Removed += removed
	f.stats.Unresolved += unresolved
	f.mu.Unlock()

	f.log.Trace().Int("batch", n).Uint64("unresolved", unresolved).Msg("flushed")
	return n
}

// Drain flushes until the queue is empty, ignoring the throttle.
func (f *Feeder) Drain() int {
	total := 0
	for {
		f.mu.Lock()
		f.lastFlush = time.Time{}
		f.mu.Unlock()
		n := f.Flush()
		if n == 0 {
			return total
		}
		total += n
	}
}

// convert turns a record into a tracked object. World coordinates win over
// lat/lng, and lat/lng win over an IP lookup. A record with none of them is
// unresolved.
func (f *Feeder) convert(rec *pool.MapObject) (culling.Object, bool) {
	var pos geom.Point
	switch {
	case rec.HasXY:
		pos = geom.Point{X: rec.X, Y: rec.Y}
	case rec.HasLatLng:
		pos = f.proj.Project(rec.Lat, rec.Lng)
	case rec.IP != "" && f.locator != nil:
		lat, lng, ok := f.locator.Locate(rec.IP)
		if !ok {
			return culling.Object{}, false
		}
		pos = f.proj.Project(lat, lng)
	default:
		return culling.Object{}, false
	}
	return culling.PointObject(rec.ID, culling.ParseKind(rec.Kind), pos.X, pos.Y, rec.Payload), true
}

// BatchSize returns the per-flush limit.
func (f *Feeder) BatchSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batch
}

// SetBatchSize changes the per-flush limit. Non-positive values are ignored.
func (f *Feeder) SetBatchSize(n int) {
	if n <= 0 {
		return
	}
	f.mu.Lock()
	f.batch = n
	f.mu.Unlock()
	f.log.Debug().Int("batch", n).Msg("batch size changed")
}

// Throttle returns the minimum gap between flushes.
func (f *Feeder) Throttle() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.throttle
}

// SetThrottle changes the minimum gap between flushes.
func (f *Feeder) SetThrottle(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	f.throttle = d
	f.mu.Unlock()
	f.log.Debug().Dur("throttle", d).Msg("throttle changed")
}

// Stats returns a copy of the counters.
func (f *Feeder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stats
	st.Pending = len(f.queue)
	return st
}
