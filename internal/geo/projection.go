// Package geo converts geographic coordinates to the world pixel space the
// culler and layers work in, and loads map data.
package geo

import (
	"math"

	"geoframe/internal/geom"
)

// MaxLatitude is the Web Mercator latitude limit.
const MaxLatitude = 85.05112878

// TileSize is the pixel size of a zoom-0 world.
const TileSize = 256

// Projection maps lat/lng onto Web Mercator pixels at a fixed zoom level.
// Camera zoom is applied on top of this space, not by changing Zoom.
type Projection struct {
	Zoom int
}

// WorldSize is the side length of the world square in pixels.
func (p Projection) WorldSize() float64 {
	return TileSize * math.Exp2(float64(p.Zoom))
}

// World returns the world rectangle.
func (p Projection) World() geom.Rect {
	s := p.WorldSize()
	return geom.Rect{Max: geom.Point{X: s, Y: s}}
}

// Project converts lat/lng degrees to world pixels. Latitude is clamped to
// the Mercator limit.
func (p Projection) Project(lat, lng float64) geom.Point {
	lat = max(-MaxLatitude, min(MaxLatitude, lat))
	s := p.WorldSize()
	sin := math.Sin(lat * math.Pi / 180)
	return geom.Point{
		X: (lng + 180) / 360 * s,
		Y: (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * s,
	}
}

// Unproject converts world pixels back to lat/lng degrees.
func (p Projection) Unproject(pt geom.Point) (lat, lng float64) {
	s := p.WorldSize()
	lng = pt.X/s*360 - 180
	n := math.Pi - 2*math.Pi*pt.Y/s
	lat = 180 / math.Pi * math.Atan(math.Sinh(n))
	return lat, lng
}
