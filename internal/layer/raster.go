package layer

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"geoframe/internal/geom"
)

// Raster is a CPU surface over an *image.RGBA. It backs headless runs and
// tests.
type Raster struct {
	img     *image.RGBA
	w, h    int
	density float64
	ops     uint64
}

// NewRaster allocates a w x h logical surface.
func NewRaster(w, h int, density float64) *Raster {
	if density <= 0 {
		density = 1
	}
	return &Raster{
		img:     image.NewRGBA(image.Rect(0, 0, physical(w, density), physical(h, density))),
		w:       w,
		h:       h,
		density: density,
	}
}

// Image exposes the backing image; nil after Release.
func (r *Raster) Image() *image.RGBA { return r.img }

// Ops counts draw calls that reached the image.
func (r *Raster) Ops() uint64 { return r.ops }

func (r *Raster) Size() (int, int) { return r.w, r.h }

func (r *Raster) Density() float64 { return r.density }

func (r *Raster) scale(v float64) int { return int(math.Round(v * r.density)) }

// Resize reallocates the image and scales the old content into it.
func (r *Raster) Resize(w, h int, density float64) {
	if r.img == nil {
		return
	}
	if density <= 0 {
		density = r.density
	}
	next := image.NewRGBA(image.Rect(0, 0, physical(w, density), physical(h, density)))
	draw.ApproxBiLinear.Scale(next, next.Bounds(), r.img, r.img.Bounds(), draw.Src, nil)
	r.img, r.w, r.h, r.density = next, w, h, density
}

// Clear makes every pixel transparent.
func (r *Raster) Clear() {
	if r.img == nil {
		return
	}
	clear(r.img.Pix)
	r.ops++
}

func (r *Raster) FillRect(rect geom.Rect, c color.Color) {
	if r.img == nil {
		return
	}
	dst := image.Rect(r.scale(rect.Min.X), r.scale(rect.Min.Y), r.scale(rect.Max.X), r.scale(rect.Max.Y))
	draw.Draw(r.img, dst, image.NewUniform(c), image.Point{}, draw.Over)
	r.ops++
}

// FillCircle fills one horizontal span per row.
func (r *Raster) FillCircle(center geom.Point, radius float64, c color.Color) {
	if r.img == nil || radius <= 0 {
		return
	}
	src := image.NewUniform(c)
	cx, cy, rad := center.X*r.density, center.Y*r.density, radius*r.density
	for y := int(math.Floor(cy - rad)); y <= int(math.Ceil(cy+rad)); y++ {
		dy := float64(y) + 0.5 - cy
		if dy*dy > rad*rad {
			continue
		}
		dx := math.Sqrt(rad*rad - dy*dy)
		x0, x1 := int(math.Round(cx-dx)), int(math.Round(cx+dx))
		draw.Draw(r.img, image.Rect(x0, y, x1, y+1), src, image.Point{}, draw.Over)
	}
	r.ops++
}

// StrokeLine draws a Bresenham line, widened to a square brush.
func (r *Raster) StrokeLine(a, b geom.Point, width float64, c color.Color) {
	if r.img == nil {
		return
	}
	brush := max(1, r.scale(width))
	src := image.NewUniform(c)
	x0, y0, x1, y1 := r.scale(a.X), r.scale(a.Y), r.scale(b.X), r.scale(b.Y)
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	e := dx + dy
	for {
		pt := image.Rect(x0-brush/2, y0-brush/2, x0-brush/2+brush, y0-brush/2+brush)
		draw.Draw(r.img, pt, src, image.Point{}, draw.Over)
		if x0 == x1 && y0 == y1 {
			break
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
	r.ops++
}

// DrawImage composites img with its top-left at at, scaled by scale.
func (r *Raster) DrawImage(img image.Image, at geom.Point, scale float64) {
	if r.img == nil || img == nil {
		return
	}
	if scale <= 0 {
		scale = 1
	}
	b := img.Bounds()
	f := scale * r.density
	dst := image.Rect(r.scale(at.X), r.scale(at.Y),
		r.scale(at.X)+int(math.Round(float64(b.Dx())*f)), r.scale(at.Y)+int(math.Round(float64(b.Dy())*f)))
	if dst.Dx() == b.Dx() && dst.Dy() == b.Dy() {
		draw.Draw(r.img, dst, img, b.Min, draw.Over)
	} else {
		draw.ApproxBiLinear.Scale(r.img, dst, img, b, draw.Over, nil)
	}
	r.ops++
}

// Text draws s with its baseline at at.
func (r *Raster) Text(s string, at geom.Point, c color.Color) {
	if r.img == nil {
		return
	}
	d := font.Drawer{
		Dst:  r.img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(r.scale(at.X), r.scale(at.Y)),
	}
	d.DrawString(s)
	r.ops++
}

// Release drops the image. Later calls are no-ops.
func (r *Raster) Release() { r.img = nil }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
