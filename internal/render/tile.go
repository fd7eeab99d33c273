package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strconv"

	"golang.org/x/image/tiff"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/geo"
	"github.com/Ning0612/ddb/internal/geotiff"
)

// MaxTileSize bounds the pixel size of one tile.
const MaxTileSize = 4096

// Raster is a decoded georeferenced raster ready for tiling.
type Raster struct {
	Path string
	Info *geotiff.Info

	img    image.Image
	proj   geo.Projection
	merc   geo.Projection
	bounds geo.Bounds
	nodata *float64
}

// OpenRaster decodes the GeoTIFF at src.
func OpenRaster(src string) (*Raster, error) {
	const op = "tile"
	if src == "" {
		return nil, domain.E(domain.KindArgument, op, "", "source path cannot be empty")
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, domain.Wrap(domain.KindNotFound, op, src, err)
	}
	defer f.Close()

	info, err := geotiff.Decode(f)
	if err != nil {
		if errors.Is(err, geotiff.ErrNotGeoTIFF) {
			return nil, domain.E(domain.KindRender, op, src, "not a georeferenced raster")
		}
		return nil, domain.Wrap(domain.KindRender, op, src, err)
	}
	proj, err := info.Projection()
	if err != nil {
		return nil, domain.Wrap(domain.KindRender, op, src, err)
	}
	bounds, err := info.MercatorBounds()
	if err != nil {
		return nil, domain.Wrap(domain.KindRender, op, src, err)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, domain.Wrap(domain.KindIO, op, src, err)
	}
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, domain.Wrap(domain.KindRender, op, src, err)
	}

	merc, _ := geo.FromEPSG(3857)
	r := &Raster{Path: src, Info: info, img: img, proj: proj, merc: merc, bounds: bounds}
	if info.NoData != "" {
		if v, err := strconv.ParseFloat(info.NoData, 64); err == nil {
			r.nodata = &v
		}
	}
	return r, nil
}

// Bounds returns the raster extent in Web Mercator meters.
func (r *Raster) Bounds() geo.Bounds {
	return r.bounds
}

// NativeZoom returns the zoom level whose resolution best matches the
// raster pixel size.
func (r *Raster) NativeZoom(tileSize int) int {
	res := r.bounds.Width() / float64(r.Info.Width)
	return geo.ZoomForResolution(res, tileSize)
}

// Covers reports whether tile z/x/y overlaps the raster.
func (r *Raster) Covers(z, x, y int, tms bool) bool {
	return geo.TileBounds(z, x, y, tms).Intersects(r.bounds)
}

// Tile renders tile z/x/y as a size x size PNG. Pixels outside the raster
// are transparent.
func (r *Raster) Tile(ctx context.Context, z, x, y, size int, tms bool) ([]byte, error) {
	const op = "tile"
	if !geo.ValidTile(z, x, y) {
		return nil, domain.E(domain.KindRender, op, r.Path, fmt.Sprintf("invalid tile %d/%d/%d", z, x, y))
	}
	if size < 1 || size > MaxTileSize {
		return nil, domain.E(domain.KindRender, op, r.Path, fmt.Sprintf("invalid tile size %d", size))
	}
	tb := geo.TileBounds(z, x, y, tms)
	if !tb.Intersects(r.bounds) {
		return nil, domain.E(domain.KindRender, op, r.Path, fmt.Sprintf("tile %d/%d/%d is outside the raster", z, x, y))
	}

	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	px := tb.Width() / float64(size)
	src := r.img.Bounds()
	for row := 0; row < size; row++ {
		if row%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, domain.Wrap(domain.KindRender, op, r.Path, err)
			}
		}
		my := tb.MaxY - (float64(row)+0.5)*px
		for col := 0; col < size; col++ {
			mx := tb.MinX + (float64(col)+0.5)*px
			lon, lat := r.merc.ToLonLat(mx, my)
			sx, sy := r.proj.FromLonLat(lon, lat)
			fc, fr := r.Info.ModelToPixel(sx, sy)
			ic, ir := int(fc), int(fr)
			if fc < 0 || fr < 0 || ic >= src.Dx() || ir >= src.Dy() {
				continue
			}
			c := color.NRGBAModel.Convert(r.img.At(src.Min.X+ic, src.Min.Y+ir)).(color.NRGBA)
			if r.isNoData(c) {
				continue
			}
			out.SetNRGBA(col, row, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, domain.Wrap(domain.KindRender, op, r.Path, err)
	}
	return buf.Bytes(), nil
}

func (r *Raster) isNoData(c color.NRGBA) bool {
	if c.A == 0 {
		return true
	}
	if r.nodata == nil {
		return false
	}
	v := *r.nodata
	return float64(c.R) == v && float64(c.G) == v && float64(c.B) == v
}

// Tile renders one tile of the GeoTIFF at src.
func Tile(ctx context.Context, src string, z, x, y, size int, tms bool) ([]byte, error) {
	return Default().Tile(ctx, src, z, x, y, size, tms)
}

// TileToFile renders one tile of src and atomically writes the PNG to dest.
func TileToFile(ctx context.Context, src string, z, x, y, size int, tms bool, dest string) error {
	return Default().TileToFile(ctx, src, z, x, y, size, tms, dest)
}

// Tile renders one tile of the GeoTIFF at src.
func (r *Renderer) Tile(ctx context.Context, src string, z, x, y, size int, tms bool) (data []byte, err error) {
	defer func() { r.metrics.RecordRender(KindTile, err) }()

	raster, err := OpenRaster(src)
	if err != nil {
		return nil, err
	}
	data, err = raster.Tile(ctx, z, x, y, size, tms)
	if err != nil {
		return nil, err
	}
	r.log.Debug("tile rendered", "src", src, "z", z, "x", x, "y", y, "tms", tms)
	return data, nil
}

// TileToFile renders one tile of src and atomically writes the PNG to dest.
func (r *Renderer) TileToFile(ctx context.Context, src string, z, x, y, size int, tms bool, dest string) error {
	data, err := r.Tile(ctx, src, z, x, y, size, tms)
	if err != nil {
		return err
	}
	return writeFile("tile", dest, data)
}
