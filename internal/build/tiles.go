package build

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/geo"
	"github.com/Ning0612/ddb/internal/progress"
	"github.com/Ning0612/ddb/internal/render"
)

type tileJSON struct {
	TileJSON string     `json:"tilejson"`
	Name     string     `json:"name"`
	Scheme   string     `json:"scheme"`
	Tiles    []string   `json:"tiles"`
	MinZoom  int        `json:"minzoom"`
	MaxZoom  int        `json:"maxzoom"`
	Bounds   [4]float64 `json:"bounds"`
	Center   [3]float64 `json:"center"`
	TileSize int        `json:"tileSize"`
	Count    int        `json:"count"`
}

type tileAddr struct {
	z, x, y int
}

// pyramid returns the tiles covering bounds from minZ to maxZ, low zoom
// first.
func pyramid(bounds geo.Bounds, minZ, maxZ int) []tileAddr {
	var tiles []tileAddr
	for z := minZ; z <= maxZ; z++ {
		x0, y0, x1, y1 := geo.TileRange(bounds, z)
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				tiles = append(tiles, tileAddr{z, x, y})
			}
		}
	}
	return tiles
}

func (b *Builder) buildTiles(ctx context.Context, job Job, rep progress.Reporter) (domain.Entry, error) {
	raster, err := render.OpenRaster(job.Source)
	if err != nil {
		return domain.Entry{}, err
	}

	maxZ := raster.NativeZoom(b.cfg.TileSize)
	minZ := max(0, maxZ-b.cfg.ZoomLevels+1)
	tiles := pyramid(raster.Bounds(), minZ, maxZ)

	rep.Start(job.Entry.Path, int64(len(tiles)))
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for _, t := range tiles {
		g.Go(func() error {
			data, err := raster.Tile(gctx, t.z, t.x, t.y, b.cfg.TileSize, false)
			if err != nil {
				return err
			}
			dest := filepath.Join(job.Dir, fmt.Sprint(t.z), fmt.Sprint(t.x), fmt.Sprintf("%d.png", t.y))
			if err := writeFile(dest, data); err != nil {
				return err
			}
			rep.Update(done.Add(1))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Entry{}, err
	}

	merc, _ := geo.FromEPSG(3857)
	rb := raster.Bounds()
	west, south := merc.ToLonLat(rb.MinX, rb.MinY)
	east, north := merc.ToLonLat(rb.MaxX, rb.MaxY)
	doc := tileJSON{
		TileJSON: "2.2.0",
		Name:     filepath.Base(job.Entry.Path),
		Scheme:   "xyz",
		Tiles:    []string{"{z}/{x}/{y}.png"},
		MinZoom:  minZ,
		MaxZoom:  maxZ,
		Bounds:   [4]float64{west, south, east, north},
		Center:   [3]float64{(west + east) / 2, (south + north) / 2, float64(minZ)},
		TileSize: b.cfg.TileSize,
		Count:    len(tiles),
	}
	sum, err := writeJSON(filepath.Join(job.Dir, TilesManifest), doc)
	if err != nil {
		return domain.Entry{}, err
	}

	props := map[string]domain.Value{
		"maxzoom": domain.Int(int64(maxZ)),
		"minzoom": domain.Int(int64(minZ)),
		"tiles":   domain.Int(int64(len(tiles))),
	}
	return domain.Entry{
		Path:       TilesManifest,
		Hash:       sum,
		Type:       domain.EntryGeoRaster,
		Properties: domain.SortedProperties(props),
	}, nil
}
