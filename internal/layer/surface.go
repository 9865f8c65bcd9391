package layer

import (
	"image"
	"image/color"

	"geoframe/internal/geom"
)

// Surface is the drawing target owned by one layer. Coordinates are
// logical pixels; implementations scale them by the pixel density.
type Surface interface {
	Size() (w, h int)
	Density() float64
	Resize(w, h int, density float64)
	Clear()
	FillRect(r geom.Rect, c color.Color)
	FillCircle(center geom.Point, radius float64, c color.Color)
	StrokeLine(a, b geom.Point, width float64, c color.Color)
	DrawImage(img image.Image, at geom.Point, scale float64)
	Text(s string, at geom.Point, c color.Color)
	Release()
}

// SurfaceFactory allocates a surface for a layer during Init.
type SurfaceFactory func(w, h int, density float64) Surface

// RasterSurfaces allocates CPU surfaces.
func RasterSurfaces(w, h int, density float64) Surface { return NewRaster(w, h, density) }

// CanvasSurfaces allocates ebiten-backed surfaces.
func CanvasSurfaces(w, h int, density float64) Surface { return NewCanvas(w, h, density) }

func physical(v int, density float64) int {
	if density <= 0 {
		density = 1
	}
	return max(1, int(float64(v)*density+0.5))
}
