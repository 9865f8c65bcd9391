package layer

import (
	"image"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	ebitext "github.com/hajimehoshi/ebiten/v2/text"
	"github.com/hajimehoshi/ebiten/v2/vector"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/image/font/basicfont"

	"geoframe/internal/geom"
)

const canvasUploadCacheSize = 128

// Canvas is a GPU surface backed by an offscreen ebiten image. Source images
// passed to DrawImage are uploaded once and kept in a small LRU; evicted
// uploads are deallocated.
type Canvas struct {
	img     *ebiten.Image
	w, h    int
	density float64
	uploads *lru.Cache
}

// NewCanvas allocates a w x h logical canvas.
func NewCanvas(w, h int, density float64) *Canvas {
	if density <= 0 {
		density = 1
	}
	uploads, _ := lru.NewWithEvict(canvasUploadCacheSize, func(_, value interface{}) {
		value.(*ebiten.Image).Deallocate()
	})
	return &Canvas{
		img:     ebiten.NewImage(physical(w, density), physical(h, density)),
		w:       w,
		h:       h,
		density: density,
		uploads: uploads,
	}
}

// Image returns the offscreen image for compositing; nil after Release.
func (c *Canvas) Image() *ebiten.Image { return c.img }

func (c *Canvas) Size() (int, int) { return c.w, c.h }

func (c *Canvas) Density() float64 { return c.density }

func (c *Canvas) f(v float64) float32 { return float32(v * c.density) }

// Resize reallocates the image, scaling the previous content into it.
func (c *Canvas) Resize(w, h int, density float64) {
	if c.img == nil {
		return
	}
	if density <= 0 {
		density = c.density
	}
	pw, ph := physical(w, density), physical(h, density)
	next := ebiten.NewImage(pw, ph)
	ob := c.img.Bounds()
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(pw)/float64(ob.Dx()), float64(ph)/float64(ob.Dy()))
	op.Filter = ebiten.FilterLinear
	next.DrawImage(c.img, op)
	c.img.Deallocate()
	c.img, c.w, c.h, c.density = next, w, h, density
}

func (c *Canvas) Clear() {
	if c.img != nil {
		c.img.Clear()
	}
}

func (c *Canvas) FillRect(r geom.Rect, col color.Color) {
	if c.img == nil {
		return
	}
	vector.DrawFilledRect(c.img, c.f(r.Min.X), c.f(r.Min.Y), c.f(r.Width()), c.f(r.Height()), col, false)
}

func (c *Canvas) FillCircle(center geom.Point, radius float64, col color.Color) {
	if c.img == nil {
		return
	}
	vector.DrawFilledCircle(c.img, c.f(center.X), c.f(center.Y), c.f(radius), col, true)
}

func (c *Canvas) StrokeLine(a, b geom.Point, width float64, col color.Color) {
	if c.img == nil {
		return
	}
	vector.StrokeLine(c.img, c.f(a.X), c.f(a.Y), c.f(b.X), c.f(b.Y), c.f(width), col, true)
}

// DrawImage composites img. The same image value is only uploaded once.
func (c *Canvas) DrawImage(img image.Image, at geom.Point, scale float64) {
	if c.img == nil || img == nil {
		return
	}
	if scale <= 0 {
		scale = 1
	}
	var src *ebiten.Image
	if cached, ok := c.uploads.Get(img); ok {
		src = cached.(*ebiten.Image)
	} else {
		src = ebiten.NewImageFromImage(img)
		c.uploads.Add(img, src)
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale*c.density, scale*c.density)
	op.GeoM.Translate(at.X*c.density, at.Y*c.density)
	c.img.DrawImage(src, op)
}

// Forget drops the upload of img, for callers that know it is stale.
func (c *Canvas) Forget(img image.Image) {
	c.uploads.Remove(img)
}

func (c *Canvas) Text(s string, at geom.Point, col color.Color) {
	if c.img == nil {
		return
	}
	ebitext.Draw(c.img, s, basicfont.Face7x13, int(at.X*c.density), int(at.Y*c.density), col)
}

// Release frees the GPU image and every cached upload.
func (c *Canvas) Release() {
	if c.img == nil {
		return
	}
	c.uploads.Purge()
	c.img.Deallocate()
	c.img = nil
}
