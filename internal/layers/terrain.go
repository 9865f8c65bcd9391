package layers

import (
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/rs/zerolog"

	"geoframe/internal/bus"
	"geoframe/internal/geo"
	"geoframe/internal/geom"
	"geoframe/internal/layer"
	"geoframe/internal/logging"
	"geoframe/internal/pool"
)

const tilePixels = 256

// TerrainStyle colours the terrain.
type TerrainStyle struct {
	Water   color.RGBA
	Land    color.RGBA
	Outline color.RGBA
}

// DefaultTerrainStyle is a dark map palette.
var DefaultTerrainStyle = TerrainStyle{
	Water:   rgba(14, 16, 20, 255),
	Land:    rgba(26, 29, 35, 255),
	Outline: rgba(36, 42, 53, 255),
}

// TerrainOptions configure a Terrain drawer.
type TerrainOptions struct {
	Data       *geo.Dataset
	Projection geo.Projection
	View       ViewSource
	Style      *TerrainStyle
	CacheSize  int
	// Pools, when set, weakly tracks every rendered tile so cleanups can
	// count the ones that were collected after eviction.
	Pools  *pool.Manager
	Logger *zerolog.Logger
}

// Terrain draws land polygons from pre-rendered tiles. Tiles are cached by
// quantised zoom level and dropped on memory:cleanup.
type Terrain struct {
	data  *geo.Dataset
	world float64
	view  ViewSource
	style TerrainStyle
	tiles *TileCache
	pools *pool.Manager
	log   zerolog.Logger
}

// NewTerrain builds the drawer.
func NewTerrain(opts TerrainOptions) *Terrain {
	style := DefaultTerrainStyle
	if opts.Style != nil {
		style = *opts.Style
	}
	data := opts.Data
	if data == nil {
		data = &geo.Dataset{}
	}
	return &Terrain{
		data:  data,
		world: opts.Projection.WorldSize(),
		view:  opts.View,
		style: style,
		tiles: NewTileCache(opts.CacheSize),
		pools: opts.Pools,
		log:   logging.Component(opts.Logger, "terrain"),
	}
}

// Setup drops the tile cache whenever pools are trimmed.
func (t *Terrain) Setup(l *layer.Layer) error {
	l.On(bus.MemoryCleanup, func(any) error {
		n := t.tiles.Len()
		t.tiles.Purge()
		t.log.Debug().Int("tiles", n).Msg("tile cache purged")
		return nil
	})
	return nil
}

// ClearCache drops every cached tile.
func (t *Terrain) ClearCache() { t.tiles.Purge() }

// Tiles exposes the tile cache.
func (t *Terrain) Tiles() *TileCache { return t.tiles }

func (t *Terrain) Draw(f layer.Frame) {
	s := f.Surface
	w, h := s.Size()
	s.Clear()
	s.FillRect(geom.RectXYWH(0, 0, float64(w), float64(h)), t.style.Water)
	if t.view == nil {
		return
	}

	v := t.view.Viewport()
	z := zoomOf(v)
	level := levelFor(z)
	if f.Quality == layer.QualityLow {
		level -= 2
	}
	lz := levelZoom(level)
	span := tilePixels / lz

	count := int(math.Ceil(t.world / span))
	tx0 := max(0, int(math.Floor(v.X/span)))
	ty0 := max(0, int(math.Floor(v.Y/span)))
	tx1 := min(count-1, int(math.Floor((v.X+v.Width)/span)))
	ty1 := min(count-1, int(math.Floor((v.Y+v.Height)/span)))

	scale := z / lz
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			img := t.tiles.GetOrCreate(TileKey{Level: level, TX: tx, TY: ty}, t.render)
			origin := geom.Point{X: float64(tx) * span, Y: float64(ty) * span}
			s.DrawImage(img, toScreen(v, origin), scale)
		}
	}
}

// render rasterises the polygons that touch one tile.
func (t *Terrain) render(key TileKey) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, tilePixels, tilePixels))
	lz := levelZoom(key.Level)
	span := tilePixels / lz
	origin := geom.Point{X: float64(key.TX) * span, Y: float64(key.TY) * span}
	area := geom.RectXYWH(origin.X, origin.Y, span, span)

	local := func(p geom.Point) geom.Point { return p.Sub(origin).Scale(lz) }
	for i := range t.data.Polygons {
		poly := &t.data.Polygons[i]
		if !poly.Bounds.Intersects(area) {
			continue
		}
		rings := make([][]geom.Point, len(poly.Rings))
		for r, ring := range poly.Rings {
			rings[r] = make([]geom.Point, len(ring))
			for j, p := range ring {
				rings[r][j] = local(p)
			}
		}
		fillPolygon(img, rings, t.style.Land)
		for _, ring := range rings {
			strokeRing(img, ring, t.style.Outline)
		}
	}
	if t.pools != nil {
		pool.TrackWeak(t.pools, img)
	}
	return img
}

// fillPolygon is an even-odd scanline fill; holes come out empty.
func fillPolygon(img *image.RGBA, rings [][]geom.Point, c color.RGBA) {
	b := img.Bounds()
	var nodes []int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		fy := float64(y) + 0.5
		nodes = nodes[:0]
		for _, ring := range rings {
			for i := range ring {
				a, p := ring[i], ring[(i+1)%len(ring)]
				if (a.Y < fy && p.Y >= fy) || (p.Y < fy && a.Y >= fy) {
					x := a.X + (fy-a.Y)/(p.Y-a.Y)*(p.X-a.X)
					nodes = append(nodes, int(math.Round(x)))
				}
			}
		}
		slices.Sort(nodes)
		for i := 0; i+1 < len(nodes); i += 2 {
			xs, xe := max(nodes[i], b.Min.X), min(nodes[i+1], b.Max.X)
			for x := xs; x < xe; x++ {
				off := img.PixOffset(x, y)
				img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, c.A
			}
		}
	}
}

func strokeRing(img *image.RGBA, ring []geom.Point, c color.RGBA) {
	for i := 0; i+1 < len(ring); i++ {
		line(img, ring[i], ring[i+1], c)
	}
}

func line(img *image.RGBA, a, b geom.Point, c color.RGBA) {
	x0, y0 := int(math.Round(a.X)), int(math.Round(a.Y))
	x1, y1 := int(math.Round(b.X)), int(math.Round(b.Y))
	dx, dy := x1-x0, y1-y0
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	dy = -dy
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	bounds := img.Bounds()
	for {
		if (image.Point{X: x0, Y: y0}).In(bounds) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}
