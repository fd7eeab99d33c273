// Package geotiff reads the georeferencing of TIFF files: pixel scale,
// tie points, the affine transformation and the GeoKey directory.
package geotiff

import (
	"errors"
	"fmt"
	"io"

	"github.com/rwcarlsen/goexif/tiff"

	"github.com/Ning0612/ddb/internal/geo"
)

// ErrNotGeoTIFF is returned for TIFF files without georeferencing.
var ErrNotGeoTIFF = errors.New("not a GeoTIFF")

// TIFF and GeoTIFF tag ids.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagSamplesPerPixel = 277
	tagPixelScale      = 33550
	tagTiepoint        = 33922
	tagTransformation  = 34264
	tagGeoKeyDirectory = 34735
	tagGeoDoubleParams = 34736
	tagGDALNoData      = 42113
)

// GeoKey ids.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072
)

// Model types.
const (
	ModelProjected  = 1
	ModelGeographic = 2
)

const rasterPixelIsPoint = 2

// Info is the georeferencing of the first image of a GeoTIFF.
type Info struct {
	Width, Height int
	Bands         int
	BitsPerSample int
	ModelType     int
	// EPSG is 0 when the CRS is user-defined
	EPSG int
	// GeoTransform maps pixel (col, row) to model coordinates:
	// x = gt[0] + col*gt[1] + row*gt[2], y = gt[3] + col*gt[4] + row*gt[5]
	GeoTransform [6]float64
	NoData       string
}

// Decode reads the first IFD of r. It returns ErrNotGeoTIFF when the file
// is a TIFF without a GeoKey directory or without a model transformation.
func Decode(r io.Reader) (*Info, error) {
	t, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	if len(t.Dirs) == 0 {
		return nil, fmt.Errorf("decode tiff: no image directory")
	}
	return fromDir(t.Dirs[0])
}

func fromDir(d *tiff.Dir) (*Info, error) {
	tags := make(map[uint16]*tiff.Tag, len(d.Tags))
	for _, tag := range d.Tags {
		tags[tag.Id] = tag
	}

	keysTag, ok := tags[tagGeoKeyDirectory]
	if !ok {
		return nil, ErrNotGeoTIFF
	}

	info := &Info{
		Width:         intValue(tags[tagImageWidth], 0),
		Height:        intValue(tags[tagImageLength], 0),
		Bands:         intValue(tags[tagSamplesPerPixel], 0),
		BitsPerSample: intValue(tags[tagBitsPerSample], 0),
	}
	if info.Bands == 0 {
		info.Bands = 1
	}
	if nd, ok := tags[tagGDALNoData]; ok {
		if s, err := nd.StringVal(); err == nil {
			info.NoData = s
		}
	}

	keys, err := geoKeys(keysTag, tags[tagGeoDoubleParams])
	if err != nil {
		return nil, err
	}
	info.ModelType = int(keys[keyModelType])
	switch info.ModelType {
	case ModelGeographic:
		info.EPSG = int(keys[keyGeographicType])
	case ModelProjected:
		info.EPSG = int(keys[keyProjectedType])
	}
	if info.EPSG == 32767 {
		info.EPSG = 0
	}

	switch {
	case tags[tagTransformation] != nil:
		m, err := floats(tags[tagTransformation], 16)
		if err != nil {
			return nil, err
		}
		info.GeoTransform = [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}
	case tags[tagPixelScale] != nil && tags[tagTiepoint] != nil:
		scale, err := floats(tags[tagPixelScale], 2)
		if err != nil {
			return nil, err
		}
		tp, err := floats(tags[tagTiepoint], 6)
		if err != nil {
			return nil, err
		}
		info.GeoTransform = [6]float64{
			tp[3] - tp[0]*scale[0], scale[0], 0,
			tp[4] + tp[1]*scale[1], 0, -scale[1],
		}
	default:
		return nil, ErrNotGeoTIFF
	}

	if keys[keyRasterType] == rasterPixelIsPoint {
		info.GeoTransform[0] -= info.GeoTransform[1] / 2
		info.GeoTransform[3] -= info.GeoTransform[5] / 2
	}
	return info, nil
}

// geoKeys returns the short-valued and double-valued keys of the directory.
func geoKeys(dir, doubles *tiff.Tag) (map[uint16]float64, error) {
	n := int(dir.Count)
	if n < 4 {
		return nil, fmt.Errorf("geokey directory too short")
	}
	vals := make([]int, n)
	for i := range vals {
		v, err := dir.Int(i)
		if err != nil {
			return nil, fmt.Errorf("geokey directory: %w", err)
		}
		vals[i] = v
	}

	count := vals[3]
	keys := make(map[uint16]float64, count)
	for k := 0; k < count; k++ {
		base := 4 + k*4
		if base+3 >= n {
			break
		}
		id, loc, off := uint16(vals[base]), vals[base+1], vals[base+3]
		switch loc {
		case 0:
			keys[id] = float64(off)
		case tagGeoDoubleParams:
			if doubles == nil {
				continue
			}
			if f, err := doubles.Float(off); err == nil {
				keys[id] = f
			}
		}
	}
	return keys, nil
}

func floats(tag *tiff.Tag, need int) ([]float64, error) {
	if int(tag.Count) < need {
		return nil, fmt.Errorf("tag %d: want %d values, got %d", tag.Id, need, tag.Count)
	}
	out := make([]float64, tag.Count)
	for i := range out {
		f, err := tag.Float(i)
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", tag.Id, err)
		}
		out[i] = f
	}
	return out, nil
}

func intValue(tag *tiff.Tag, def int) int {
	if tag == nil {
		return def
	}
	v, err := tag.Int(0)
	if err != nil {
		return def
	}
	return v
}

// PixelToModel maps a pixel position to model coordinates.
func (i *Info) PixelToModel(col, row float64) (x, y float64) {
	gt := i.GeoTransform
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// ModelToPixel maps model coordinates back to a pixel position.
func (i *Info) ModelToPixel(x, y float64) (col, row float64) {
	gt := i.GeoTransform
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return 0, 0
	}
	dx, dy := x-gt[0], y-gt[3]
	col = (dx*gt[5] - dy*gt[2]) / det
	row = (dy*gt[1] - dx*gt[4]) / det
	return col, row
}

// Projection returns the projection of the model space.
func (i *Info) Projection() (geo.Projection, error) {
	if i.EPSG == 0 {
		return nil, fmt.Errorf("user-defined coordinate system")
	}
	return geo.FromEPSG(i.EPSG)
}

// Corners returns the model coordinates of the upper-left, lower-left,
// lower-right and upper-right image corners.
func (i *Info) Corners() [4][2]float64 {
	w, h := float64(i.Width), float64(i.Height)
	var c [4][2]float64
	for k, p := range [4][2]float64{{0, 0}, {0, h}, {w, h}, {w, 0}} {
		c[k][0], c[k][1] = i.PixelToModel(p[0], p[1])
	}
	return c
}

// LonLatFootprint returns the image corners and center in EPSG:4326.
func (i *Info) LonLatFootprint() (ring [][]float64, center [2]float64, err error) {
	proj, err := i.Projection()
	if err != nil {
		return nil, center, err
	}
	for _, c := range i.Corners() {
		lon, lat := proj.ToLonLat(c[0], c[1])
		ring = append(ring, []float64{lon, lat})
	}
	cx, cy := i.PixelToModel(float64(i.Width)/2, float64(i.Height)/2)
	center[0], center[1] = proj.ToLonLat(cx, cy)
	return ring, center, nil
}

// MercatorBounds returns the raster extent in Web Mercator meters.
func (i *Info) MercatorBounds() (geo.Bounds, error) {
	proj, err := i.Projection()
	if err != nil {
		return geo.Bounds{}, err
	}
	merc, _ := geo.FromEPSG(3857)
	b := geo.EmptyBounds()
	w, h := float64(i.Width), float64(i.Height)
	// sample the edges, corners alone are not enough for UTM
	const steps = 8
	for s := 0; s <= steps; s++ {
		f := float64(s) / steps
		for _, p := range [][2]float64{{f * w, 0}, {f * w, h}, {0, f * h}, {w, f * h}} {
			mx, my := i.PixelToModel(p[0], p[1])
			lon, lat := proj.ToLonLat(mx, my)
			x, y := merc.FromLonLat(lon, lat)
			b.Extend(x, y)
		}
	}
	return b, nil
}

// Resolution returns the pixel size in model units.
func (i *Info) Resolution() float64 {
	return (abs(i.GeoTransform[1]) + abs(i.GeoTransform[5])) / 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
