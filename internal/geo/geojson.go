package geo

import (
	"fmt"

	"github.com/paulmach/go.geojson"
	"github.com/rotisserie/eris"

	"geoframe/internal/geom"
)

// Polygon is a projected polygon: the first ring is the outline, the rest
// are holes.
type Polygon struct {
	ID     string
	Rings  [][]geom.Point
	Bounds geom.Rect
}

// Marker is a point feature.
type Marker struct {
	ID       string
	Kind     string
	Lat, Lng float64
	Position geom.Point
	Props    map[string]any
}

// Dataset is the drawable content of a feature collection.
type Dataset struct {
	Polygons []Polygon
	Markers  []Marker
	Bounds   geom.Rect
}

// LoadGeoJSON parses a feature collection and projects it. Polygons and
// multipolygons become Polygons, points and multipoints become Markers.
// Other geometry types are skipped.
func LoadGeoJSON(data []byte, proj Projection) (*Dataset, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse geojson")
	}

	ds := &Dataset{}
	first := true
	grow := func(r geom.Rect) {
		if first {
			ds.Bounds, first = r, false
			return
		}
		ds.Bounds = ds.Bounds.Union(r)
	}

	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		id := featureID(f, i)
		kind, _ := f.PropertyString("kind")

		switch {
		case f.Geometry.IsPolygon():
			if poly, ok := projectPolygon(id, f.Geometry.Polygon, proj); ok {
				ds.Polygons = append(ds.Polygons, poly)
				grow(poly.Bounds)
			}
		case f.Geometry.IsMultiPolygon():
			for j, rings := range f.Geometry.MultiPolygon {
				if poly, ok := projectPolygon(fmt.Sprintf("%s/%d", id, j), rings, proj); ok {
					ds.Polygons = append(ds.Polygons, poly)
					grow(poly.Bounds)
				}
			}
		case f.Geometry.IsPoint():
			m, ok := marker(id, kind, f.Geometry.Point, f.Properties, proj)
			if ok {
				ds.Markers = append(ds.Markers, m)
				grow(geom.Rect{Min: m.Position, Max: m.Position})
			}
		case f.Geometry.IsMultiPoint():
			for j, pt := range f.Geometry.MultiPoint {
				m, ok := marker(fmt.Sprintf("%s/%d", id, j), kind, pt, f.Properties, proj)
				if ok {
					ds.Markers = append(ds.Markers, m)
					grow(geom.Rect{Min: m.Position, Max: m.Position})
				}
			}
		}
	}
	return ds, nil
}

func featureID(f *geojson.Feature, i int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	if name, err := f.PropertyString("name"); err == nil && name != "" {
		return name
	}
	return fmt.Sprintf("feature-%d", i)
}

func marker(id, kind string, coord []float64, props map[string]any, proj Projection) (Marker, bool) {
	if len(coord) < 2 {
		return Marker{}, false
	}
	lng, lat := coord[0], coord[1]
	return Marker{
		ID:       id,
		Kind:     kind,
		Lat:      lat,
		Lng:      lng,
		Position: proj.Project(lat, lng),
		Props:    props,
	}, true
}

func projectPolygon(id string, rings [][][]float64, proj Projection) (Polygon, bool) {
	poly := Polygon{ID: id}
	first := true
	for _, ring := range rings {
		pts := make([]geom.Point, 0, len(ring))
		for _, c := range ring {
			if len(c) < 2 {
				continue
			}
			p := proj.Project(c[1], c[0])
			pts = append(pts, p)
			r := geom.Rect{Min: p, Max: p}
			if first {
				poly.Bounds, first = r, false
			} else {
				poly.Bounds = poly.Bounds.Union(r)
			}
		}
		if len(pts) >= 3 {
			poly.Rings = append(poly.Rings, pts)
		}
	}
	return poly, len(poly.Rings) > 0
}
