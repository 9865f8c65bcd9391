package pool

import "time"

// Names of the default pools.
const (
	Vector2Pool   = "vector2"
	Vector3Pool   = "vector3"
	ColorPool     = "color"
	RectPool      = "rect"
	MapObjectPool = "mapObject"
	EventDataPool = "eventData"
)

// Vector2 is a pooled 2D vector.
type Vector2 struct{ X, Y float64 }

// Vector3 is a pooled 3D vector.
type Vector3 struct{ X, Y, Z float64 }

// Color is a pooled RGBA color with channels in [0, 1]. Reset state is
// opaque black.
type Color struct{ R, G, B, A float64 }

// Rect is a pooled rectangle.
type Rect struct{ X, Y, Width, Height float64 }

// MapObject is a pooled record for an object on its way into the culler.
// Position comes from X/Y when HasXY is set, else from Lat/Lng when
// HasLatLng is set, else from IP.
type MapObject struct {
	ID        string
	Kind      string
	X, Y      float64
	Lat, Lng  float64
	HasXY     bool
	HasLatLng bool
	IP        string
	Payload   any
	Removed   bool
	Updated   time.Time
}

// SetXY places the record in world pixels.
func (o *MapObject) SetXY(x, y float64) {
	o.X, o.Y, o.HasXY = x, y, true
}

// SetLatLng places the record geographically.
func (o *MapObject) SetLatLng(lat, lng float64) {
	o.Lat, o.Lng, o.HasLatLng = lat, lng, true
}

// EventData is a pooled generic payload.
type EventData struct {
	Type      string
	Fields    map[string]any
	Timestamp time.Time
}

func resetColor(c *Color) { *c = Color{A: 1} }

func resetEventData(e *EventData) {
	fields := e.Fields
	clear(fields)
	*e = EventData{Fields: fields}
}

func newEventData() *EventData {
	return &EventData{Fields: make(map[string]any, 8)}
}

// Default pool bounds before scaling.
var defaultSizes = map[string]int{
	Vector2Pool:   1000,
	Vector3Pool:   500,
	ColorPool:     200,
	RectPool:      200,
	MapObjectPool: 500,
	EventDataPool: 100,
}

// RegisterDefaults creates the standard pools with their bounds multiplied by
// scale. A non-positive scale means 1.
func RegisterDefaults(m *Manager, scale float64) error {
	if scale <= 0 {
		scale = 1
	}
	size := func(name string) int { return max(1, int(float64(defaultSizes[name])*scale)) }

	if _, err := CreatePool[Vector2](m, Vector2Pool, nil, nil, size(Vector2Pool)); err != nil {
		return err
	}
	if _, err := CreatePool[Vector3](m, Vector3Pool, nil, nil, size(Vector3Pool)); err != nil {
		return err
	}
	if _, err := CreatePool(m, ColorPool, func() *Color { return &Color{A: 1} }, resetColor, size(ColorPool)); err != nil {
		return err
	}
	if _, err := CreatePool[Rect](m, RectPool, nil, nil, size(RectPool)); err != nil {
		return err
	}
	if _, err := CreatePool[MapObject](m, MapObjectPool, nil, nil, size(MapObjectPool)); err != nil {
		return err
	}
	if _, err := CreatePool(m, EventDataPool, newEventData, resetEventData, size(EventDataPool)); err != nil {
		return err
	}
	return nil
}
