// Package geom holds the screen-space primitives shared by the culler and
// the drawing surfaces.
package geom

import "math"

// Point is a 2D coordinate.
type Point struct {
	X, Y float64
}

// Add returns p translated by o.
func (p Point) Add(o Point) Point { return Point{X: p.X + o.X, Y: p.Y + o.Y} }

// Sub returns p - o.
func (p Point) Sub(o Point) Point { return Point{X: p.X - o.X, Y: p.Y - o.Y} }

// Scale multiplies both coordinates by s.
func (p Point) Scale(s float64) Point { return Point{X: p.X * s, Y: p.Y * s} }

// Distance returns the euclidean distance between p and o.
func (p Point) Distance(o Point) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Rect is an axis-aligned rectangle. Edges are inclusive.
type Rect struct {
	Min, Max Point
}

// RectXYWH builds a rect from its top-left corner and size.
func RectXYWH(x, y, w, h float64) Rect {
	return Rect{Min: Point{X: x, Y: y}, Max: Point{X: x + w, Y: y + h}}
}

// Centered builds a rect of the given size around a center point.
func Centered(cx, cy, w, h float64) Rect {
	hw, hh := w/2, h/2
	return Rect{Min: Point{X: cx - hw, Y: cy - hh}, Max: Point{X: cx + hw, Y: cy + hh}}
}

// Width of the rect.
func (r Rect) Width() float64 { return r.Max.X - r.Min.X }

// Height of the rect.
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// Center of the rect.
func (r Rect) Center() Point {
	return Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool { return r.Max.X < r.Min.X || r.Max.Y < r.Min.Y }

// Expand grows the rect by m on every side.
func (r Rect) Expand(m float64) Rect {
	return Rect{
		Min: Point{X: r.Min.X - m, Y: r.Min.Y - m},
		Max: Point{X: r.Max.X + m, Y: r.Max.Y + m},
	}
}

// Translate moves the rect by d.
func (r Rect) Translate(d Point) Rect {
	return Rect{Min: r.Min.Add(d), Max: r.Max.Add(d)}
}

// Intersects is the AABB overlap test. Touching edges count as overlap.
func (r Rect) Intersects(o Rect) bool {
	return !(r.Max.X < o.Min.X || o.Max.X < r.Min.X || r.Max.Y < o.Min.Y || o.Max.Y < r.Min.Y)
}

// ContainsPoint reports whether p lies inside r or on its edge.
func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Union returns the smallest rect covering both.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Min: Point{X: math.Min(r.Min.X, o.Min.X), Y: math.Min(r.Min.Y, o.Min.Y)},
		Max: Point{X: math.Max(r.Max.X, o.Max.X), Y: math.Max(r.Max.Y, o.Max.Y)},
	}
}
