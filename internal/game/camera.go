package game

import (
	"math"

	"geoframe/internal/geom"
	"geoframe/internal/mathutil"
)

const (
	MinCameraZoom = 0.25
	MaxCameraZoom = 16.0
)

// Camera is a 2D map camera: a world-pixel centre and a screen-per-world
// zoom factor, confined to the projected world.
type Camera struct {
	Center geom.Point
	Zoom   float64
	world  geom.Rect
}

// NewCamera places the camera at c with the given zoom.
func NewCamera(world geom.Rect, c geom.Point, zoom float64) *Camera {
	cam := &Camera{world: world, Center: c, Zoom: 1}
	cam.SetZoom(zoom)
	cam.clamp()
	return cam
}

// SetZoom clamps zoom to the camera limits.
func (c *Camera) SetZoom(z float64) {
	if z <= 0 || math.IsNaN(z) {
		z = 1
	}
	c.Zoom = mathutil.FloatClamp(z, MinCameraZoom, MaxCameraZoom)
}

// Pan moves the camera by a screen-space offset.
func (c *Camera) Pan(dx, dy float64) {
	c.Center.X += dx / c.Zoom
	c.Center.Y += dy / c.Zoom
	c.clamp()
}

// ZoomAt scales the zoom by factor keeping the world point under the
// screen position at fixed.
func (c *Camera) ZoomAt(factor float64, at geom.Point, screenW, screenH int) {
	if factor <= 0 {
		return
	}
	before := c.ScreenToWorld(at, screenW, screenH)
	c.SetZoom(c.Zoom * factor)
	after := c.ScreenToWorld(at, screenW, screenH)
	c.Center.X += before.X - after.X
	c.Center.Y += before.Y - after.Y
	c.clamp()
}

// View returns the world rectangle visible on a screenW x screenH screen.
func (c *Camera) View(screenW, screenH int) geom.Rect {
	return geom.Centered(c.Center.X, c.Center.Y, float64(screenW)/c.Zoom, float64(screenH)/c.Zoom)
}

// ScreenToWorld maps a screen position to world pixels.
func (c *Camera) ScreenToWorld(p geom.Point, screenW, screenH int) geom.Point {
	v := c.View(screenW, screenH)
	return geom.Point{X: v.Min.X + p.X/c.Zoom, Y: v.Min.Y + p.Y/c.Zoom}
}

func (c *Camera) clamp() {
	if c.world.Empty() {
		return
	}
	c.Center.X = mathutil.FloatClamp(c.Center.X, c.world.Min.X, c.world.Max.X)
	c.Center.Y = mathutil.FloatClamp(c.Center.Y, c.world.Min.Y, c.world.Max.Y)
}
