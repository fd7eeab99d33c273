package classify

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/geotiff"
)

// extractGeoRaster reports false when the TIFF carries no georeferencing.
func (c *Classifier) extractGeoRaster(f *os.File, e *domain.Entry) (bool, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	info, err := geotiff.Decode(f)
	if errors.Is(err, geotiff.ErrNotGeoTIFF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.Type = domain.EntryGeoRaster

	gt := make([]domain.Value, len(info.GeoTransform))
	for i, v := range info.GeoTransform {
		gt[i] = domain.Number(v)
	}
	props := map[string]domain.Value{
		"width":        domain.Int(int64(info.Width)),
		"height":       domain.Int(int64(info.Height)),
		"bands":        domain.Int(int64(info.Bands)),
		"geotransform": domain.List(gt...),
	}
	if info.EPSG != 0 {
		props["projection"] = domain.String(fmt.Sprintf("EPSG:%d", info.EPSG))
	}
	e.Properties = domain.SortedProperties(props)

	ring, center, err := info.LonLatFootprint()
	if err != nil {
		c.log.Debug("raster without supported projection", "path", e.Path, "epsg", info.EPSG, "error", err)
		return true, nil
	}
	coords := make([][]float64, 0, len(ring))
	for _, v := range ring {
		coords = append(coords, []float64{v[0], v[1], 0})
	}
	e.PolygonGeometry = domain.NewPolygon(coords)
	e.PointGeometry = domain.NewPoint(center[0], center[1], 0)
	return true, nil
}
