package layers

import (
	"fmt"
	"image/color"
	"sync"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/geom"
	"geoframe/internal/layer"
	"geoframe/internal/pool"
)

const (
	debugLineHeight = 14
	debugPadding    = 6
)

// DebugOptions configure the overlay.
type DebugOptions struct {
	// Lines returns the stats block drawn each frame.
	Lines func() []string
	Pools *pool.Manager
	// Notices is how many recent bus notices to keep. Default 6.
	Notices int
	Clock   clock.Clock
}

// Debug is a text overlay with live stats and the latest crisis and memory
// notices.
type Debug struct {
	lines func() []string
	pools *pool.Manager
	clock clock.Clock
	limit int

	mu      sync.Mutex
	notices []*pool.EventData
}

// NewDebug builds the overlay drawer.
func NewDebug(opts DebugOptions) *Debug {
	limit := opts.Notices
	if limit <= 0 {
		limit = 6
	}
	return &Debug{
		lines: opts.Lines,
		pools: opts.Pools,
		clock: clock.OrReal(opts.Clock),
		limit: limit,
	}
}

var noticeEvents = []string{
	bus.CrisisEntered,
	bus.CrisisExited,
	bus.FPSLow,
	bus.MemoryHigh,
	bus.ObjectsHigh,
	bus.MemoryCleanup,
	bus.LayerVisibilityChanged,
}

// Setup subscribes to the notices shown in the overlay.
func (d *Debug) Setup(l *layer.Layer) error {
	for _, name := range noticeEvents {
		l.On(name, func(data any) error {
			d.record(name, data)
			return nil
		})
	}
	return nil
}

func (d *Debug) record(name string, data any) {
	ev := acquire[pool.EventData](d.pools, pool.EventDataPool)
	if ev.Fields == nil {
		ev.Fields = make(map[string]any, 1)
	}
	ev.Type = name
	ev.Timestamp = d.clock.Now()
	ev.Fields["payload"] = data

	d.mu.Lock()
	var evicted *pool.EventData
	if len(d.notices) >= d.limit {
		evicted = d.notices[0]
		d.notices = append(d.notices[:0], d.notices[1:]...)
	}
	d.notices = append(d.notices, ev)
	d.mu.Unlock()
	if evicted != nil {
		release(d.pools, pool.EventDataPool, evicted)
	}
}

// Notices returns the kept notices as text, oldest first.
func (d *Debug) Notices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.notices))
	for i, ev := range d.notices {
		out[i] = fmt.Sprintf("%s %s", ev.Timestamp.Format("15:04:05"), ev.Type)
	}
	return out
}

// Teardown hands the notices back to the pool.
func (d *Debug) Teardown() { d.ClearCache() }

// ClearCache drops every notice.
func (d *Debug) ClearCache() {
	d.mu.Lock()
	notices := d.notices
	d.notices = nil
	d.mu.Unlock()
	for _, ev := range notices {
		release(d.pools, pool.EventDataPool, ev)
	}
}

func (d *Debug) Draw(f layer.Frame) {
	s := f.Surface
	s.Clear()
	var text []string
	if d.lines != nil {
		text = d.lines()
	}
	if f.Quality == layer.QualityHigh {
		text = append(text, d.Notices()...)
	}
	if len(text) == 0 {
		return
	}

	widest := 0
	for _, t := range text {
		widest = max(widest, len(t))
	}
	bg := acquire[pool.Rect](d.pools, pool.RectPool)
	bg.X, bg.Y = 0, 0
	bg.Width = float64(widest*7 + 2*debugPadding)
	bg.Height = float64(len(text)*debugLineHeight + 2*debugPadding)
	s.FillRect(geom.RectXYWH(bg.X, bg.Y, bg.Width, bg.Height), color.RGBA{A: 160})
	release(d.pools, pool.RectPool, bg)

	for i, t := range text {
		at := geom.Point{X: debugPadding, Y: float64(debugPadding + (i+1)*debugLineHeight - 3)}
		s.Text(t, at, color.White)
	}
}
