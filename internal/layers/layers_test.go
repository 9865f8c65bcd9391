package layers

import (
	"image/color"
	"testing"
	"time"

	"geoframe/internal/bus"
	"geoframe/internal/clock"
	"geoframe/internal/culling"
	"geoframe/internal/geo"
	"geoframe/internal/geom"
	"geoframe/internal/layer"
	"geoframe/internal/pool"
)

type fixedView struct {
	v    culling.Viewport
	objs []culling.Object
}

func (f *fixedView) Viewport() culling.Viewport        { return f.v }
func (f *fixedView) VisibleObjects() []culling.Object { return f.objs }

func newPools(t *testing.T) *pool.Manager {
	t.Helper()
	m := pool.NewManager(pool.Options{})
	if err := pool.RegisterDefaults(m, 1); err != nil {
		t.Fatal(err)
	}
	return m
}

func build(t *testing.T, b *bus.Bus, name string, d layer.Drawer) (*layer.Layer, *layer.Raster) {
	t.Helper()
	l := layer.New(name, 0, d, layer.Options{Bus: b, Surfaces: layer.RasterSurfaces, Width: 256, Height: 256})
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	return l, l.Surface().(*layer.Raster)
}

func square(min, max float64) geo.Polygon {
	ring := []geom.Point{{X: min, Y: min}, {X: max, Y: min}, {X: max, Y: max}, {X: min, Y: max}, {X: min, Y: min}}
	return geo.Polygon{ID: "sq", Rings: [][]geom.Point{ring}, Bounds: geom.Rect{Min: geom.Point{X: min, Y: min}, Max: geom.Point{X: max, Y: max}}}
}

func TestTerrainTiles(t *testing.T) {
	b := bus.New(bus.Options{})
	view := &fixedView{v: culling.Viewport{Width: 256, Height: 256, Zoom: 1}}
	terrain := NewTerrain(TerrainOptions{
		Data:       &geo.Dataset{Polygons: []geo.Polygon{square(64, 192)}},
		Projection: geo.Projection{Zoom: 0},
		View:       view,
	})
	l, r := build(t, b, "terrain", terrain)

	l.Render(time.Millisecond)
	img := r.Image()
	if got := img.RGBAAt(128, 128); got != DefaultTerrainStyle.Land {
		t.Errorf("inside polygon = %v, want land", got)
	}
	if got := img.RGBAAt(10, 10); got != DefaultTerrainStyle.Water {
		t.Errorf("outside polygon = %v, want water", got)
	}

	l.Render(time.Millisecond)
	if hits, misses := terrain.Tiles().Counters(); hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", hits, misses)
	}

	b.Emit(bus.MemoryCleanup, nil)
	if terrain.Tiles().Len() != 0 {
		t.Error("memory:cleanup did not purge tiles")
	}

	l.Render(time.Millisecond)
	l.Destroy()
	if terrain.Tiles().Len() != 0 {
		t.Error("destroy did not clear the tile cache")
	}
}

func TestTerrainLowQualityUsesCoarserTiles(t *testing.T) {
	view := &fixedView{v: culling.Viewport{Width: 256, Height: 256, Zoom: 4}}
	terrain := NewTerrain(TerrainOptions{Projection: geo.Projection{Zoom: 2}, View: view})
	l, _ := build(t, nil, "terrain", terrain)

	l.Render(time.Millisecond)
	high := terrain.Tiles().Len()
	terrain.ClearCache()
	l.SetQuality(layer.QualityLow)
	l.Render(time.Millisecond)
	low := terrain.Tiles().Len()
	if low >= high {
		t.Errorf("low quality rendered %d tiles, high %d", low, high)
	}
}

func TestMarkers(t *testing.T) {
	pools := newPools(t)
	view := &fixedView{
		v: culling.Viewport{X: 100, Y: 100, Width: 128, Height: 128, Zoom: 2},
		objs: []culling.Object{
			culling.PointObject("p", culling.KindPlayer, 150, 150, nil),
			culling.PointObject("e", culling.KindEffect, 120, 120, nil),
			culling.BoundsObject("t", culling.KindTile, geom.RectXYWH(200, 200, 10, 10), nil),
			{ID: "n"},
		},
	}
	markers := NewMarkers(MarkerOptions{Source: view, Pools: pools})
	l, r := build(t, nil, "markers", markers)

	l.Render(time.Millisecond)
	if st := markers.Stats(); st.Drawn != 3 || st.Skipped != 0 {
		t.Errorf("high stats = %+v", st)
	}
	// (150,150) in world is (100,100) on screen at zoom 2.
	if got := r.Image().RGBAAt(100, 100); got.A == 0 {
		t.Error("player marker not drawn")
	}
	if got := r.Image().RGBAAt(210, 210); got.A == 0 {
		t.Error("tile bounds not drawn")
	}

	l.SetQuality(layer.QualityLow)
	l.Render(time.Millisecond)
	if st := markers.Stats(); st.Drawn != 2 || st.Skipped != 1 {
		t.Errorf("low stats = %+v", st)
	}

	for _, name := range []string{pool.Vector2Pool, pool.ColorPool} {
		for _, st := range pools.Stats() {
			if st.Name == name && st.Created != 1 {
				t.Errorf("%s pool created %d objects, want 1", name, st.Created)
			}
		}
	}
}

func TestToRGBAPremultiplies(t *testing.T) {
	got := toRGBA(&pool.Color{R: 1, G: 1, B: 1, A: 0.5})
	if got != (color.RGBA{R: 128, G: 128, B: 128, A: 128}) {
		t.Errorf("toRGBA = %v", got)
	}
}

func TestDebugNotices(t *testing.T) {
	pools := newPools(t)
	b := bus.New(bus.Options{})
	clk := clock.NewManual(time.Time{})
	debug := NewDebug(DebugOptions{
		Lines:   func() []string { return []string{"fps 60"} },
		Pools:   pools,
		Notices: 2,
		Clock:   clk,
	})
	l, r := build(t, b, "debug", debug)

	b.Emit(bus.CrisisEntered, nil)
	b.Emit(bus.MemoryCleanup, nil)
	b.Emit(bus.CrisisExited, nil)
	notices := debug.Notices()
	if len(notices) != 2 {
		t.Fatalf("notices = %v", notices)
	}
	if notices[1] != "00:00:00 "+bus.CrisisExited {
		t.Errorf("latest notice = %q", notices[1])
	}

	before := r.Ops()
	l.Render(time.Millisecond)
	if r.Ops()-before < 4 {
		t.Errorf("expected clear, background and 3 text lines, got %d ops", r.Ops()-before)
	}

	l.Destroy()
	if len(debug.Notices()) != 0 {
		t.Error("destroy kept notices")
	}
	if p := pool.Lookup[pool.EventData](pools, pool.EventDataPool); p.Len() != 3 {
		t.Errorf("event data pool holds %d, want 3", p.Len())
	}
}
