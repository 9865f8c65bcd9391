// Package layer implements the drawing-layer lifecycle and the manager that
// renders layers in z order.
//
// A layer moves Uninitialized -> Initialized -> Destroyed. While initialized
// it renders only when visible and backed by a surface. Anything called on a
// destroyed layer is a precondition violation: a logged no-op by default, a
// panic when the layer was built with Strict.
package layer

import (
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/logging"
	"geoframe/internal/metrics"
)

var (
	ErrDestroyed = eris.New("layer destroyed")
	ErrDuplicate = eris.New("layer already registered")
)

// State is the lifecycle position of a layer.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateDestroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

// Quality is the rendering fidelity requested from drawers.
type Quality int

const (
	QualityHigh Quality = iota
	QualityLow
)

func (q Quality) String() string {
	if q == QualityLow {
		return "low"
	}
	return "high"
}

// ParseQuality maps "low" to QualityLow and anything else to QualityHigh.
func ParseQuality(s string) Quality {
	if strings.EqualFold(strings.TrimSpace(s), "low") {
		return QualityLow
	}
	return QualityHigh
}

// Frame is what a drawer receives on each render.
type Frame struct {
	Surface Surface
	Delta   time.Duration
	Quality Quality
	Layer   *Layer
}

// Drawer draws one layer's content.
type Drawer interface {
	Draw(f Frame)
}

// DrawFunc adapts a function to Drawer.
type DrawFunc func(f Frame)

func (d DrawFunc) Draw(f Frame) { d(f) }

// Optional drawer hooks.
type (
	// Setupper runs once during Init, after the surface exists.
	Setupper interface{ Setup(l *Layer) error }
	// Teardowner runs during Destroy, before the surface is released.
	Teardowner interface{ Teardown() }
	// CacheClearer drops layer-local caches.
	CacheClearer interface{ ClearCache() }
)

// VisibilityChange is the layer:visibilityChanged payload.
type VisibilityChange struct {
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// Options configure a Layer.
type Options struct {
	Bus      *bus.Bus
	Surfaces SurfaceFactory
	Width    int
	Height   int
	Density  float64
	Clock    clock.Clock
	Logger   *zerolog.Logger
	Hidden   bool
	Strict   bool
}

// Stats are the per-layer performance counters.
type Stats struct {
	Name          string        `json:"name"`
	ZIndex        int           `json:"z_index"`
	Visible       bool          `json:"visible"`
	State         string        `json:"state"`
	Quality       string        `json:"quality"`
	RenderCount   uint64        `json:"render_count"`
	LastRender    time.Duration `json:"last_render"`
	AverageRender time.Duration `json:"average_render"`
}

// Layer is one independently drawn unit.
type Layer struct {
	mu sync.Mutex

	name   string
	z      int
	seq    uint64
	drawer Drawer

	bus      *bus.Bus
	surfaces SurfaceFactory
	surface  Surface
	width    int
	height   int
	density  float64

	state   State
	visible bool
	quality Quality
	data    map[string]any
	subs    []*bus.Subscription

	renders uint64
	last    time.Duration
	avg     float64

	clock  clock.Clock
	log    zerolog.Logger
	strict bool
}

// New builds an uninitialized layer.
func New(name string, z int, d Drawer, opts Options) *Layer {
	density := opts.Density
	if density <= 0 {
		density = 1
	}
	return &Layer{
		name:     name,
		z:        z,
		drawer:   d,
		bus:      opts.Bus,
		surfaces: opts.Surfaces,
		width:    opts.Width,
		height:   opts.Height,
		density:  density,
		visible:  !opts.Hidden,
		data:     make(map[string]any),
		clock:    clock.OrReal(opts.Clock),
		log:      logging.Component(opts.Logger, "layer").With().Str("layer", name).Logger(),
		strict:   opts.Strict,
	}
}

func (l *Layer) violation(op string) {
	err := eris.Wrapf(ErrDestroyed, "%s on layer %q", op, l.name)
	if l.strict {
		panic(err)
	}
	l.log.Warn().Err(err).Msg("ignored call on destroyed layer")
}

// Init allocates the surface and runs the drawer's Setup hook. Calling it
// again on an initialized layer does nothing.
func (l *Layer) Init() error {
	l.mu.Lock()
	switch l.state {
	case StateInitialized:
		l.mu.Unlock()
		return nil
	case StateDestroyed:
		l.mu.Unlock()
		l.violation("init")
		return eris.Wrapf(ErrDestroyed, "init layer %q", l.name)
	}
	if l.surfaces != nil {
		l.surface = l.surfaces(l.width, l.height, l.density)
	}
	l.state = StateInitialized
	l.mu.Unlock()

	if s, ok := l.drawer.(Setupper); ok {
		if err := s.Setup(l); err != nil {
			l.Destroy()
			return eris.Wrapf(err, "setup layer %q", l.name)
		}
	}
	l.log.Debug().Msg("layer initialized")
	return nil
}

// Render draws one frame if the layer is initialized, visible and has a
// surface. The elapsed time is folded into the running average.
func (l *Layer) Render(dt time.Duration) {
	l.mu.Lock()
	if l.state == StateDestroyed {
		l.mu.Unlock()
		l.violation("render")
		return
	}
	if l.state != StateInitialized || !l.visible || l.surface == nil || l.drawer == nil {
		l.mu.Unlock()
		return
	}
	frame := Frame{Surface: l.surface, Delta: dt, Quality: l.quality, Layer: l}
	l.mu.Unlock()

	start := l.clock.Now()
	l.drawer.Draw(frame)
	sample := l.clock.Now().Sub(start)

	l.mu.Lock()
	l.renders++
	n := float64(l.renders)
	l.avg = (l.avg*(n-1) + float64(sample)) / n
	l.last = sample
	l.mu.Unlock()
	metrics.LayerRender.WithLabelValues(l.name).Observe(sample.Seconds())
}

// SetVisible changes visibility and announces the change on the bus.
func (l *Layer) SetVisible(v bool) {
	l.mu.Lock()
	if l.state == StateDestroyed {
		l.mu.Unlock()
		l.violation("setVisible")
		return
	}
	changed := l.visible != v
	l.visible = v
	l.mu.Unlock()

	if changed && l.bus != nil {
		l.bus.Emit(bus.LayerVisibilityChanged, VisibilityChange{Name: l.name, Visible: v})
	}
}

// Visible reports the visibility flag.
func (l *Layer) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

// Name of the layer.
func (l *Layer) Name() string { return l.name }

// ZIndex returns the paint order key.
func (l *Layer) ZIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.z
}

func (l *Layer) setZIndex(z int) {
	l.mu.Lock()
	l.z = z
	l.mu.Unlock()
}

// State returns the lifecycle state.
func (l *Layer) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Surface returns the drawing surface, nil before Init or after Destroy.
func (l *Layer) Surface() Surface {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.surface
}

// Bus returns the bus the layer talks to, possibly nil.
func (l *Layer) Bus() *bus.Bus { return l.bus }

// Quality returns the current fidelity.
func (l *Layer) Quality() Quality {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quality
}

// SetQuality changes the fidelity passed to the drawer.
func (l *Layer) SetQuality(q Quality) {
	l.mu.Lock()
	if l.state == StateDestroyed {
		l.mu.Unlock()
		l.violation("setQuality")
		return
	}
	l.quality = q
	l.mu.Unlock()
}

// Resize forwards a size or density change to the surface.
func (l *Layer) Resize(w, h int, density float64) {
	l.mu.Lock()
	if l.state == StateDestroyed {
		l.mu.Unlock()
		l.violation("resize")
		return
	}
	l.width, l.height = w, h
	if density > 0 {
		l.density = density
	}
	s := l.surface
	d := l.density
	l.mu.Unlock()
	if s != nil {
		s.Resize(w, h, d)
	}
}

// On subscribes to a bus event for the lifetime of the layer.
func (l *Layer) On(event string, h bus.Handler) *bus.Subscription {
	if l.bus == nil {
		return nil
	}
	l.mu.Lock()
	if l.state == StateDestroyed {
		l.mu.Unlock()
		l.violation("on")
		return nil
	}
	defer l.mu.Unlock()
	sub := l.bus.On(event, h)
	l.subs = append(l.subs, sub)
	return sub
}

// Emit publishes on the layer's bus.
func (l *Layer) Emit(event string, data any) {
	if l.State() == StateDestroyed {
		l.violation("emit")
		return
	}
	if l.bus != nil {
		l.bus.Emit(event, data)
	}
}

// SetData stores a layer-local value.
func (l *Layer) SetData(key string, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.data != nil {
		l.data[key] = v
	}
}

// Data returns a layer-local value.
func (l *Layer) Data(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.data[key]
	return v, ok
}

// ClearData drops every layer-local value.
func (l *Layer) ClearData() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.data)
}

// Stats returns the performance counters.
func (l *Layer) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Name:          l.name,
		ZIndex:        l.z,
		Visible:       l.visible,
		State:         l.state.String(),
		Quality:       l.quality.String(),
		RenderCount:   l.renders,
		LastRender:    l.last,
		AverageRender: time.Duration(l.avg),
	}
}

// AverageRender is the running mean render time.
func (l *Layer) AverageRender() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.avg)
}

// Destroy runs the teardown hooks, releases the surface and detaches from
// the bus. Safe to call from a bus handler and more than once.
func (l *Layer) Destroy() {
	l.mu.Lock()
	if l.state == StateDestroyed {
		l.mu.Unlock()
		return
	}
	l.state = StateDestroyed
	subs := l.subs
	l.subs = nil
	surface := l.surface
	l.surface = nil
	l.data = nil
	l.mu.Unlock()

	if t, ok := l.drawer.(Teardowner); ok {
		t.Teardown()
	}
	if c, ok := l.drawer.(CacheClearer); ok {
		c.ClearCache()
	}
	for _, s := range subs {
		s.Unsubscribe()
	}
	if surface != nil {
		surface.Release()
	}
	l.log.Debug().Msg("layer destroyed")
}
