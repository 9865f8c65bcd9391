package geo

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestProjectCorners(t *testing.T) {
	p := Projection{Zoom: 2}
	if p.WorldSize() != 1024 {
		t.Fatalf("world size = %v", p.WorldSize())
	}
	c := p.Project(0, 0)
	if !near(c.X, 512) || !near(c.Y, 512) {
		t.Errorf("origin = %+v, want center", c)
	}
	tl := p.Project(90, -180)
	if !near(tl.X, 0) || math.Abs(tl.Y) > 1e-6 {
		t.Errorf("top-left = %+v", tl)
	}
}

func TestUnprojectRoundTrip(t *testing.T) {
	p := Projection{Zoom: 3}
	for _, c := range [][2]float64{{51.5, -0.12}, {-33.9, 151.2}, {0, 0}, {40.7, -74}} {
		lat, lng := p.Unproject(p.Project(c[0], c[1]))
		if math.Abs(lat-c[0]) > 1e-9 || math.Abs(lng-c[1]) > 1e-9 {
			t.Errorf("round trip %v -> (%v, %v)", c, lat, lng)
		}
	}
}

const sample = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "sq", "properties": {},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
    {"type": "Feature", "properties": {"name": "pin", "kind": "player"},
     "geometry": {"type": "Point", "coordinates": [20, 5]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "MultiPoint", "coordinates": [[1, 1], [2, 2]]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}}
  ]
}`

func TestLoadGeoJSON(t *testing.T) {
	p := Projection{Zoom: 1}
	ds, err := LoadGeoJSON([]byte(sample), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Polygons) != 1 || ds.Polygons[0].ID != "sq" {
		t.Fatalf("polygons = %+v", ds.Polygons)
	}
	if len(ds.Polygons[0].Rings[0]) != 5 {
		t.Errorf("ring length = %d", len(ds.Polygons[0].Rings[0]))
	}
	if len(ds.Markers) != 3 {
		t.Fatalf("markers = %d, want 3", len(ds.Markers))
	}
	pin := ds.Markers[0]
	if pin.ID != "pin" || pin.Kind != "player" || pin.Lat != 5 || pin.Lng != 20 {
		t.Errorf("pin = %+v", pin)
	}
	if ds.Markers[1].ID != "feature-2/0" {
		t.Errorf("multipoint id = %q", ds.Markers[1].ID)
	}
	want := p.Project(5, 20)
	if pin.Position != want {
		t.Errorf("position = %+v, want %+v", pin.Position, want)
	}
	if !ds.Bounds.ContainsPoint(want) || !ds.Bounds.Intersects(ds.Polygons[0].Bounds) {
		t.Errorf("bounds %+v do not cover content", ds.Bounds)
	}
}

func TestLoadGeoJSONError(t *testing.T) {
	if _, err := LoadGeoJSON([]byte("{"), Projection{}); err == nil {
		t.Error("expected parse error")
	}
}

func TestNilLocator(t *testing.T) {
	m, err := OpenMaxMind("")
	if err != nil || m != nil {
		t.Fatalf("OpenMaxMind(\"\") = %v, %v", m, err)
	}
	if _, _, ok := m.Locate("1.1.1.1"); ok {
		t.Error("nil locator resolved an address")
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}
	if _, err := OpenMaxMind("/nonexistent/db.mmdb"); err == nil {
		t.Error("expected error for a missing file")
	}
}

