// Package culling keeps the registry of positioned objects and the subset
// of them that falls inside the viewport.
package culling

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"geoframe/internal/clock"
	"geoframe/internal/geom"
	"geoframe/internal/logging"
	"geoframe/internal/metrics"
	"geoframe/internal/parallel"
)

// Viewport is the visible world rectangle and the current zoom factor.
type Viewport struct {
	X, Y          float64
	Width, Height float64
	Zoom          float64
}

// Rect returns the viewport rectangle without margin.
func (v Viewport) Rect() geom.Rect { return geom.RectXYWH(v.X, v.Y, v.Width, v.Height) }

func (v Viewport) zoom() float64 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

// Settings tune the culler. Margin is in world units at zoom 1.
type Settings struct {
	Enabled  bool
	Margin   float64
	Interval time.Duration

	// Adaptive tightens margin and interval once more than AdaptiveCeiling
	// objects are tracked.
	Adaptive        bool
	AdaptiveCeiling int

	// Registries at or above ParallelThreshold are classified on Workers
	// goroutines (0 means one per CPU).
	ParallelThreshold int
	Workers           int
}

// DefaultSettings returns the stock tuning.
func DefaultSettings() Settings {
	return Settings{
		Enabled:           true,
		Margin:            100,
		Interval:          100 * time.Millisecond,
		AdaptiveCeiling:   1000,
		ParallelThreshold: 2048,
	}
}

// Stats describe the last culling pass.
type Stats struct {
	Total       int           `json:"total"`
	Visible     int           `json:"visible"`
	Culled      int           `json:"culled"`
	Reevaluated int           `json:"reevaluated"`
	Passes      uint64        `json:"passes"`
	LastPass    time.Duration `json:"last_pass"`
	Margin      float64       `json:"margin"`
	Interval    time.Duration `json:"interval"`
	Adaptive    bool          `json:"adaptive"`
	Enabled     bool          `json:"enabled"`
}

// Options configure a Culler.
type Options struct {
	Settings Settings
	Clock    clock.Clock
	Logger   *zerolog.Logger
}

type entry struct {
	obj     Object
	visible bool
	dirty   bool
}

type visibleSet struct {
	ids map[string]struct{}
}

// Culler is safe for concurrent use. The visible set is replaced as a whole
// at the end of each pass, so readers see either the previous or the new
// set.
type Culler struct {
	mu       sync.Mutex
	clock    clock.Clock
	log      zerolog.Logger
	settings Settings
	viewport Viewport
	objects  map[string]*entry

	visible atomic.Pointer[visibleSet]

	lastCull    time.Time
	lastBounds  geom.Rect
	boundsValid bool
	stats       Stats
}

// New creates a culler with an empty registry and a zero viewport.
func New(opts Options) *Culler {
	s := opts.Settings
	if s.AdaptiveCeiling <= 0 {
		s.AdaptiveCeiling = DefaultSettings().AdaptiveCeiling
	}
	if s.ParallelThreshold <= 0 {
		s.ParallelThreshold = DefaultSettings().ParallelThreshold
	}
	c := &Culler{
		clock:    clock.OrReal(opts.Clock),
		log:      logging.Component(opts.Logger, "culling"),
		settings: s,
		viewport: Viewport{Zoom: 1},
		objects:  make(map[string]*entry),
	}
	c.visible.Store(&visibleSet{ids: map[string]struct{}{}})
	return c
}

// AddObject registers obj, replacing any entry with the same ID. The object
// is classified on the next pass.
func (c *Culler) AddObject(obj Object) {
	if obj.ID == "" {
		c.log.Warn().Msg("object without id ignored")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[obj.ID] = &entry{obj: obj, dirty: true}
}

// RemoveObject drops id from the registry. It reports whether it existed.
func (c *Culler) RemoveObject(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[id]; !ok {
		return false
	}
	delete(c.objects, id)
	return true
}

// UpdateObject applies p to id and invalidates its cached visibility.
// Unknown ids are ignored.
func (c *Culler) UpdateObject(id string, p Patch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.objects[id]
	if !ok {
		c.log.Debug().Str("id", id).Msg("update for unknown object")
		return false
	}
	p.apply(&e.obj)
	e.dirty = true
	return true
}

// Clear empties the registry and the visible set.
func (c *Culler) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = make(map[string]*entry)
	c.visible.Store(&visibleSet{ids: map[string]struct{}{}})
	c.boundsValid = false
}

// UpdateViewport sets the viewport and culls immediately.
func (c *Culler) UpdateViewport(x, y, width, height, zoom float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = Viewport{X: x, Y: y, Width: width, Height: height, Zoom: zoom}
	c.cullLocked()
}

// Viewport returns the current viewport.
func (c *Culler) Viewport() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// PerformCulling classifies every tracked object and publishes the new
// visible set.
func (c *Culler) PerformCulling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cullLocked()
}

// MaybeCull runs a pass if the minimum interval since the previous one has
// elapsed. It reports whether a pass ran.
func (c *Culler) MaybeCull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, interval := c.effectiveLocked()
	if !c.lastCull.IsZero() && c.clock.Now().Sub(c.lastCull) < interval {
		return false
	}
	c.cullLocked()
	return true
}

// effectiveLocked returns margin and interval after adaptive tightening.
// Adaptive mode never widens either value.
func (c *Culler) effectiveLocked() (float64, time.Duration) {
	margin, interval := c.settings.Margin, c.settings.Interval
	n := len(c.objects)
	if c.settings.Adaptive && n > c.settings.AdaptiveCeiling {
		margin = math.Max(margin/2, margin-float64(n)/100)
		interval = max(interval/2, interval-time.Duration(n/200)*time.Millisecond)
	}
	return margin, interval
}

func (c *Culler) cullLocked() {
	start := time.Now()
	now := c.clock.Now()
	margin, interval := c.effectiveLocked()

	ids := make(map[string]struct{}, len(c.objects)/2)
	reevaluated := 0

	if !c.settings.Enabled {
		for id, e := range c.objects {
			e.visible, e.dirty = true, false
			ids[id] = struct{}{}
		}
		c.boundsValid = false
	} else {
		bounds := c.viewport.Rect().Expand(margin / c.viewport.zoom())
		reuse := c.boundsValid && bounds == c.lastBounds

		if len(c.objects) >= c.settings.ParallelThreshold {
			reevaluated = c.classifyParallel(bounds, reuse)
		} else {
			for _, e := range c.objects {
				if !reuse || e.dirty {
					e.visible = e.obj.visibleIn(bounds)
					e.dirty = false
					reevaluated++
				}
			}
		}
		for id, e := range c.objects {
			if e.visible {
				ids[id] = struct{}{}
			}
		}
		c.lastBounds, c.boundsValid = bounds, true
	}

	c.visible.Store(&visibleSet{ids: ids})
	c.lastCull = now

	elapsed := time.Since(start)
	c.stats = Stats{
		Total:       len(c.objects),
		Visible:     len(ids),
		Culled:      len(c.objects) - len(ids),
		Reevaluated: reevaluated,
		Passes:      c.stats.Passes + 1,
		LastPass:    elapsed,
		Margin:      margin,
		Interval:    interval,
		Adaptive:    c.settings.Adaptive,
		Enabled:     c.settings.Enabled,
	}
	metrics.CullTracked.Set(float64(c.stats.Total))
	metrics.CullVisible.Set(float64(c.stats.Visible))
	metrics.CullDuration.Observe(elapsed.Seconds())

	if c.stats.Total > c.settings.AdaptiveCeiling {
		c.log.Debug().
			Int("total", c.stats.Total).
			Int("visible", c.stats.Visible).
			Dur("took", elapsed).
			Float64("margin", margin).
			Msg("culling pass")
	}
}

func (c *Culler) classifyParallel(bounds geom.Rect, reuse bool) int {
	entries := make([]*entry, 0, len(c.objects))
	for _, e := range c.objects {
		if !reuse || e.dirty {
			entries = append(entries, e)
		}
	}
	visible := parallel.Filter(context.Background(), entries, c.settings.Workers, func(e *entry) bool {
		return e.obj.visibleIn(bounds)
	})
	for _, e := range entries {
		e.visible, e.dirty = false, false
	}
	for _, e := range visible {
		e.visible = true
	}
	return len(entries)
}

// IsVisible reports whether id is tracked and in the visible set.
func (c *Culler) IsVisible(id string) bool {
	c.mu.Lock()
	_, tracked := c.objects[id]
	c.mu.Unlock()
	if !tracked {
		return false
	}
	_, ok := c.visible.Load().ids[id]
	return ok
}

// VisibleCount returns the size of the published visible set.
func (c *Culler) VisibleCount() int { return len(c.visible.Load().ids) }

// VisibleIDs returns the visible ids in sorted order.
func (c *Culler) VisibleIDs() []string {
	set := c.visible.Load()
	c.mu.Lock()
	out := make([]string, 0, len(set.ids))
	for id := range set.ids {
		if _, ok := c.objects[id]; ok {
			out = append(out, id)
		}
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}

// VisibleObjects returns copies of the visible objects sorted by id.
func (c *Culler) VisibleObjects() []Object {
	set := c.visible.Load()
	c.mu.Lock()
	out := make([]Object, 0, len(set.ids))
	for id := range set.ids {
		if e, ok := c.objects[id]; ok {
			out = append(out, e.obj)
		}
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Object returns the tracked object for id.
func (c *Culler) Object(id string) (Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.objects[id]
	if !ok {
		return Object{}, false
	}
	return e.obj, true
}

// Len returns the number of tracked objects.
func (c *Culler) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// ObjectCount is Len under the name the emergency manager expects.
func (c *Culler) ObjectCount() int { return c.Len() }

// Stats returns the figures of the last pass.
func (c *Culler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Margin returns the configured base margin.
func (c *Culler) Margin() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Margin
}

// EffectiveMargin returns the margin the next pass will use.
func (c *Culler) EffectiveMargin() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, _ := c.effectiveLocked()
	return m
}

// SetMargin changes the base margin and re-culls.
func (c *Culler) SetMargin(m float64) {
	if m < 0 {
		m = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Margin = m
	c.cullLocked()
}

// Adaptive reports whether adaptive mode is on.
func (c *Culler) Adaptive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Adaptive
}

// SetAdaptive toggles adaptive mode.
func (c *Culler) SetAdaptive(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Adaptive = on
}

// Enabled reports whether culling filters anything.
func (c *Culler) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Enabled
}

// SetEnabled toggles culling. Disabled culling makes every tracked object
// visible.
func (c *Culler) SetEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Enabled = on
	c.boundsValid = false
	c.cullLocked()
}

// Settings returns a copy of the current settings.
func (c *Culler) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}
