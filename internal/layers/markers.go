package layers

import (
	"image/color"
	"sync"

	"github.com/rs/zerolog"

	"geoframe/internal/culling"
	"geoframe/internal/geom"
	"geoframe/internal/layer"
	"geoframe/internal/logging"
	"geoframe/internal/pool"
)

// MarkerSource supplies the visible set and the viewport it was culled
// against.
type MarkerSource interface {
	ViewSource
	VisibleObjects() []culling.Object
}

// MarkerOptions configure a Markers drawer.
type MarkerOptions struct {
	Source MarkerSource
	Pools  *pool.Manager
	Logger *zerolog.Logger
}

// MarkerStats describe the last frame.
type MarkerStats struct {
	Drawn   int `json:"drawn"`
	Skipped int `json:"skipped"`
}

// Markers draws the culler's visible set. Per-object scratch values come
// from the pools; low quality draws squares and skips effects.
type Markers struct {
	source MarkerSource
	pools  *pool.Manager
	log    zerolog.Logger

	mu    sync.Mutex
	stats MarkerStats
}

// NewMarkers builds the drawer.
func NewMarkers(opts MarkerOptions) *Markers {
	return &Markers{
		source: opts.Source,
		pools:  opts.Pools,
		log:    logging.Component(opts.Logger, "markers"),
	}
}

var kindColors = map[culling.Kind]pool.Color{
	culling.KindMarker: {R: 0.95, G: 0.75, B: 0.2, A: 1},
	culling.KindPlayer: {R: 0.3, G: 0.8, B: 1, A: 1},
	culling.KindEffect: {R: 1, G: 0.35, B: 0.3, A: 0.6},
	culling.KindTile:   {R: 0.4, G: 0.45, B: 0.5, A: 0.8},
}

var kindRadius = map[culling.Kind]float64{
	culling.KindMarker: 4,
	culling.KindPlayer: 6,
	culling.KindEffect: 10,
	culling.KindTile:   2,
}

func toRGBA(c *pool.Color) color.RGBA {
	ch := func(v float64) uint8 { return uint8(max(0, min(1, v))*255 + 0.5) }
	// color.RGBA is alpha-premultiplied.
	a := max(0, min(1, c.A))
	return color.RGBA{R: ch(c.R * a), G: ch(c.G * a), B: ch(c.B * a), A: ch(a)}
}

func acquire[T any](m *pool.Manager, name string) *T {
	if m != nil {
		if v := pool.Acquire[T](m, name); v != nil {
			return v
		}
	}
	return new(T)
}

func release[T any](m *pool.Manager, name string, v *T) {
	if m != nil {
		pool.Release(m, name, v)
	}
}

func (mk *Markers) Draw(f layer.Frame) {
	s := f.Surface
	s.Clear()
	if mk.source == nil {
		return
	}
	v := mk.source.Viewport()
	z := zoomOf(v)
	low := f.Quality == layer.QualityLow

	var st MarkerStats
	for _, obj := range mk.source.VisibleObjects() {
		if obj.Shape == culling.ShapeNone {
			continue
		}
		if low && obj.Kind == culling.KindEffect {
			st.Skipped++
			continue
		}
		col := acquire[pool.Color](mk.pools, pool.ColorPool)
		*col = kindColors[obj.Kind]

		switch obj.Shape {
		case culling.ShapeBounds:
			r := acquire[pool.Rect](mk.pools, pool.RectPool)
			tl := toScreen(v, obj.Bounds.Min)
			r.X, r.Y = tl.X, tl.Y
			r.Width, r.Height = obj.Bounds.Width()*z, obj.Bounds.Height()*z
			s.FillRect(geom.RectXYWH(r.X, r.Y, r.Width, r.Height), toRGBA(col))
			release(mk.pools, pool.RectPool, r)
		default:
			p := acquire[pool.Vector2](mk.pools, pool.Vector2Pool)
			sp := toScreen(v, obj.Position)
			p.X, p.Y = sp.X, sp.Y
			radius := kindRadius[obj.Kind]
			if low {
				s.FillRect(geom.Centered(p.X, p.Y, radius*2, radius*2), toRGBA(col))
			} else if obj.Kind == culling.KindEffect {
				mk.drawEffect(s, p, radius, col)
			} else {
				s.FillCircle(geom.Point{X: p.X, Y: p.Y}, radius, toRGBA(col))
			}
			release(mk.pools, pool.Vector2Pool, p)
		}
		release(mk.pools, pool.ColorPool, col)
		st.Drawn++
	}

	mk.mu.Lock()
	mk.stats = st
	mk.mu.Unlock()
}

// drawEffect draws concentric rings fading outwards.
func (mk *Markers) drawEffect(s layer.Surface, at *pool.Vector2, radius float64, base *pool.Color) {
	ring := acquire[pool.Vector3](mk.pools, pool.Vector3Pool)
	defer release(mk.pools, pool.Vector3Pool, ring)
	ring.X, ring.Y = at.X, at.Y
	fade := *base
	for i := range 3 {
		ring.Z = radius * float64(3-i) / 3
		s.FillCircle(geom.Point{X: ring.X, Y: ring.Y}, ring.Z, toRGBA(&fade))
		fade.A *= 0.6
	}
}

// Stats returns the counts of the last frame.
func (mk *Markers) Stats() MarkerStats {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return mk.stats
}
