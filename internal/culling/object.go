package culling

import (
	"strings"

	"geoframe/internal/geom"
)

// Kind tags what a tracked object represents.
type Kind uint8

const (
	KindMarker Kind = iota
	KindPlayer
	KindEffect
	KindTile
)

var kindNames = [...]string{"marker", "player", "effect", "tile"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind maps a name onto a Kind, defaulting to KindMarker.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			return Kind(i)
		}
	}
	return KindMarker
}

// Shape selects which geometry of an Object is tested.
type Shape uint8

const (
	// ShapeNone objects carry no geometry and are always visible.
	ShapeNone Shape = iota
	ShapePoint
	ShapeBounds
)

// Object is a tracked entry. ID is the registry key.
type Object struct {
	ID       string
	Kind     Kind
	Shape    Shape
	Position geom.Point
	Bounds   geom.Rect
	Payload  any
}

// PointObject builds a position-only object.
func PointObject(id string, kind Kind, x, y float64, payload any) Object {
	return Object{ID: id, Kind: kind, Shape: ShapePoint, Position: geom.Point{X: x, Y: y}, Payload: payload}
}

// BoundsObject builds an object tested by AABB overlap.
func BoundsObject(id string, kind Kind, r geom.Rect, payload any) Object {
	return Object{ID: id, Kind: kind, Shape: ShapeBounds, Bounds: r, Position: r.Center(), Payload: payload}
}

// Patch is a partial update. Nil fields are left unchanged. Setting Position
// makes the object position-only; setting Bounds makes it bounds-tested.
type Patch struct {
	Position *geom.Point
	Bounds   *geom.Rect
	Kind     *Kind
	Payload  any
}

func (p Patch) apply(o *Object) {
	if p.Position != nil {
		o.Position = *p.Position
		o.Shape = ShapePoint
	}
	if p.Bounds != nil {
		o.Bounds = *p.Bounds
		o.Shape = ShapeBounds
		if p.Position == nil {
			o.Position = p.Bounds.Center()
		}
	}
	if p.Kind != nil {
		o.Kind = *p.Kind
	}
	if p.Payload != nil {
		o.Payload = p.Payload
	}
}

// visibleIn is the visibility test against already-expanded bounds.
func (o *Object) visibleIn(r geom.Rect) bool {
	switch o.Shape {
	case ShapePoint:
		return r.ContainsPoint(o.Position)
	case ShapeBounds:
		return r.Intersects(o.Bounds)
	default:
		return true
	}
}
