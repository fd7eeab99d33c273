package classify

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/geo"
	"github.com/Ning0612/ddb/internal/pointcloud"
)

func (c *Classifier) extractPointCloud(f *os.File, e *domain.Entry) error {
	h, err := pointcloud.ReadHeader(f)
	if err != nil {
		return err
	}

	e.Type = domain.EntryPointCloud
	props := map[string]domain.Value{
		"pointCount":  domain.Int(int64(h.PointCount)),
		"pointFormat": domain.Int(int64(h.PointFormat)),
		"version":     domain.String(h.Version()),
		"compressed":  domain.Bool(h.Compressed),
	}
	if h.EPSG != 0 {
		props["projection"] = domain.String(fmt.Sprintf("EPSG:%d", h.EPSG))
	}
	e.Properties = domain.SortedProperties(props)

	ring, center, err := h.LonLatBounds()
	if err != nil {
		c.log.Debug("point cloud without supported projection", "path", e.Path, "epsg", h.EPSG)
		return nil
	}
	e.PolygonGeometry = domain.NewPolygon(ring)
	e.PointGeometry = domain.NewPoint(center[0], center[1], center[2])
	return nil
}

type geoJSONDoc struct {
	Type     string `json:"type"`
	Features []struct {
		Geometry *geoJSONGeometry `json:"geometry"`
	} `json:"features"`
	Geometry    *geoJSONGeometry  `json:"geometry"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []geoJSONGeometry `json:"geometries"`
}

type geoJSONGeometry struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []geoJSONGeometry `json:"geometries"`
}

// extractGeoJSON records the feature count and the bounding box.
func (c *Classifier) extractGeoJSON(f *os.File, e *domain.Entry) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var doc geoJSONDoc
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return fmt.Errorf("decode geojson: %w", err)
	}

	b := geo.EmptyBounds()
	count := 0
	switch doc.Type {
	case "FeatureCollection":
		count = len(doc.Features)
		for _, ft := range doc.Features {
			if ft.Geometry != nil {
				ft.Geometry.extend(&b)
			}
		}
	case "Feature":
		count = 1
		if doc.Geometry != nil {
			doc.Geometry.extend(&b)
		}
	case "":
		return fmt.Errorf("decode geojson: missing type")
	default:
		count = 1
		g := geoJSONGeometry{Type: doc.Type, Coordinates: doc.Coordinates, Geometries: doc.Geometries}
		g.extend(&b)
	}

	e.Type = domain.EntryVector
	e.Properties = domain.SortedProperties(map[string]domain.Value{
		"featureCount": domain.Int(int64(count)),
	})
	if b.MinX > b.MaxX {
		return nil
	}
	e.PolygonGeometry = domain.NewPolygon([][]float64{
		{b.MinX, b.MaxY}, {b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY},
	})
	e.PointGeometry = domain.NewPoint((b.MinX+b.MaxX)/2, (b.MinY+b.MaxY)/2, 0)
	return nil
}

func (g *geoJSONGeometry) extend(b *geo.Bounds) {
	for i := range g.Geometries {
		g.Geometries[i].extend(b)
	}
	if len(g.Coordinates) == 0 {
		return
	}
	var coords any
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return
	}
	walkCoords(coords, b)
}

// walkCoords visits positions at any nesting depth.
func walkCoords(v any, b *geo.Bounds) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return
	}
	if x, ok := arr[0].(float64); ok {
		if len(arr) >= 2 {
			if y, ok := arr[1].(float64); ok {
				b.Extend(x, y)
			}
		}
		return
	}
	for _, item := range arr {
		walkCoords(item, b)
	}
}
