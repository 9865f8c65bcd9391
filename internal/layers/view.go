// Package layers holds the concrete drawing layers: terrain tiles, tracked
// markers and the debug overlay.
package layers

import (
	"image/color"

	"geoframe/internal/culling"
	"geoframe/internal/geom"
)

// ViewSource supplies the current viewport in world pixels. The culler
// implements it.
type ViewSource interface {
	Viewport() culling.Viewport
}

// toScreen maps a world point onto the surface.
func toScreen(v culling.Viewport, p geom.Point) geom.Point {
	z := zoomOf(v)
	return geom.Point{X: (p.X - v.X) * z, Y: (p.Y - v.Y) * z}
}

func zoomOf(v culling.Viewport) float64 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

func rgba(r, g, b, a uint8) color.RGBA { return color.RGBA{R: r, G: g, B: b, A: a} }
