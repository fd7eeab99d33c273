package domain

import (
	"encoding/json"
	"fmt"
)

// Geometry types supported by entry geometries.
const (
	GeometryPoint   = "Point"
	GeometryPolygon = "Polygon"
)

// Geometry is a GeoJSON Point or Polygon in EPSG:4326. Coordinates are
// [lon, lat] or [lon, lat, alt].
type Geometry struct {
	Type    string
	Point   []float64
	Polygon [][][]float64
}

// Feature is a GeoJSON Feature wrapping one geometry.
type Feature struct {
	Geometry   Geometry
	Properties map[string]any
}

// NewPoint returns a point feature.
func NewPoint(lon, lat, alt float64) *Feature {
	return &Feature{Geometry: Geometry{Type: GeometryPoint, Point: []float64{lon, lat, alt}}}
}

// NewPolygon returns a polygon feature from one ring. The ring is closed
// when its last vertex differs from the first.
func NewPolygon(ring [][]float64) *Feature {
	if len(ring) > 0 {
		first, last := ring[0], ring[len(ring)-1]
		if !sameCoord(first, last) {
			closed := make([]float64, len(first))
			copy(closed, first)
			ring = append(ring, closed)
		}
	}
	return &Feature{Geometry: Geometry{Type: GeometryPolygon, Polygon: [][][]float64{ring}}}
}

func sameCoord(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Bounds returns the lon/lat bounding box [minx, miny, maxx, maxy].
func (g Geometry) Bounds() [4]float64 {
	var coords [][]float64
	switch g.Type {
	case GeometryPoint:
		coords = [][]float64{g.Point}
	case GeometryPolygon:
		for _, ring := range g.Polygon {
			coords = append(coords, ring...)
		}
	}
	if len(coords) == 0 {
		return [4]float64{}
	}
	b := [4]float64{coords[0][0], coords[0][1], coords[0][0], coords[0][1]}
	for _, c := range coords[1:] {
		b[0] = min(b[0], c[0])
		b[1] = min(b[1], c[1])
		b[2] = max(b[2], c[0])
		b[3] = max(b[3], c[1])
	}
	return b
}

type geometryJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// MarshalJSON implements json.Marshaler.
func (g Geometry) MarshalJSON() ([]byte, error) {
	var coords any
	switch g.Type {
	case GeometryPoint:
		coords = g.Point
	case GeometryPolygon:
		coords = g.Polygon
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return nil, err
	}
	return json.Marshal(geometryJSON{Type: g.Type, Coordinates: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var in geometryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*g = Geometry{Type: in.Type}
	switch in.Type {
	case GeometryPoint:
		return json.Unmarshal(in.Coordinates, &g.Point)
	case GeometryPolygon:
		return json.Unmarshal(in.Coordinates, &g.Polygon)
	}
	return fmt.Errorf("unsupported geometry type %q", in.Type)
}

type crsJSON struct {
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties"`
}

type featureJSON struct {
	Type       string         `json:"type"`
	CRS        *crsJSON       `json:"crs,omitempty"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

var wgs84CRS = &crsJSON{Type: "name", Properties: map[string]string{"name": "EPSG:4326"}}

// MarshalJSON implements json.Marshaler.
func (f Feature) MarshalJSON() ([]byte, error) {
	props := f.Properties
	if props == nil {
		props = map[string]any{}
	}
	return json.Marshal(featureJSON{Type: "Feature", CRS: wgs84CRS, Geometry: f.Geometry, Properties: props})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var in featureJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Type != "Feature" {
		return fmt.Errorf("expected Feature, got %q", in.Type)
	}
	f.Geometry = in.Geometry
	f.Properties = in.Properties
	return nil
}
