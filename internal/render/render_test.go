package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/engine"
	"github.com/Ning0612/ddb/internal/geo"
	"github.com/Ning0612/ddb/internal/testutil"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	return New(engine.Current())
}

func TestThumbnail_Size(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name        string
		orientation int
		wantW       int
		wantH       int
	}{
		{"landscape", 1, 32, 18},
		{"rotated", 6, 18, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.CreateTestFile(t, dir, tt.name+".jpg", testutil.JPEG(64, 36, testutil.ExifSpec{
				Make: "DJI", Model: "FC300S", Orientation: tt.orientation,
			}))

			data, err := newRenderer(t).Thumbnail(context.Background(), src, 32)
			if err != nil {
				t.Fatalf("Thumbnail failed: %v", err)
			}
			img, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestThumbnailToFile(t *testing.T) {
	dir := t.TempDir()
	src := testutil.CreateTestFile(t, dir, "img.jpg", testutil.JPEG(40, 40, testutil.ExifSpec{Make: "x", Model: "y"}))
	dest := filepath.Join(dir, "out", "thumb.jpg")

	if err := newRenderer(t).ThumbnailToFile(context.Background(), src, 16, dest); err != nil {
		t.Fatalf("ThumbnailToFile failed: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("thumbnail not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("thumbnail is empty")
	}
}

func TestThumbnail_Errors(t *testing.T) {
	dir := t.TempDir()
	text := testutil.CreateTestFile(t, dir, "file.txt", []byte("test"))
	r := newRenderer(t)
	ctx := context.Background()

	if _, err := r.Thumbnail(ctx, text, 32); !errors.Is(err, domain.ErrRender) {
		t.Errorf("text file: got %v, want render error", err)
	}
	if _, err := r.Thumbnail(ctx, filepath.Join(dir, "missing.jpg"), 32); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing file: got %v, want not found", err)
	}
	if _, err := r.Thumbnail(ctx, text, -1); !errors.Is(err, domain.ErrRender) {
		t.Errorf("negative size: got %v, want render error", err)
	}
}

func writeRaster(t *testing.T, dir string) string {
	t.Helper()
	return testutil.CreateTestFile(t, dir, "ortho.tif", testutil.GeoTIFF(testutil.GeoTIFFOptions{
		Width: 256, Height: 256, Bands: 3,
		EPSG:    32615,
		OriginX: 576000, OriginY: 5188000,
		PixelSize: 0.5,
	}))
}

func decodeTile(t *testing.T, data []byte) (opaque, clear int) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("tile is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 256 || b.Dy() != 256 {
		t.Fatalf("tile size = %v", b)
	}
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a == 0 {
				clear++
			} else {
				opaque++
			}
		}
	}
	return opaque, clear
}

func TestRaster_Tile(t *testing.T) {
	src := writeRaster(t, t.TempDir())
	raster, err := OpenRaster(src)
	if err != nil {
		t.Fatalf("OpenRaster failed: %v", err)
	}

	b := raster.Bounds()
	center := geo.Bounds{
		MinX: (b.MinX + b.MaxX) / 2, MinY: (b.MinY + b.MaxY) / 2,
		MaxX: (b.MinX + b.MaxX) / 2, MaxY: (b.MinY + b.MaxY) / 2,
	}
	x, y, _, _ := geo.TileRange(center, 14)

	data, err := raster.Tile(context.Background(), 14, x, y, 256, false)
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	opaque, clear := decodeTile(t, data)
	if opaque == 0 {
		t.Error("tile over the raster has no opaque pixel")
	}
	if clear == 0 {
		t.Error("raster is smaller than the tile, expected transparent pixels")
	}

	// the same tile addressed from the south
	tmsY := (1 << 14) - 1 - y
	tmsData, err := raster.Tile(context.Background(), 14, x, tmsY, 256, true)
	if err != nil {
		t.Fatalf("TMS Tile failed: %v", err)
	}
	if !bytes.Equal(data, tmsData) {
		t.Error("XYZ and TMS addressing of one tile differ")
	}
}

func TestRaster_TileErrors(t *testing.T) {
	src := writeRaster(t, t.TempDir())
	raster, err := OpenRaster(src)
	if err != nil {
		t.Fatalf("OpenRaster failed: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name          string
		z, x, y, size int
	}{
		{"negative zoom", -1, 0, 0, 256},
		{"column out of range", 2, 4, 0, 256},
		{"zero size", 10, 0, 0, 0},
		{"outside raster", 18, 0, 0, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := raster.Tile(ctx, tt.z, tt.x, tt.y, tt.size, false); !errors.Is(err, domain.ErrRender) {
				t.Errorf("got %v, want render error", err)
			}
		})
	}
}

func TestOpenRaster_NotGeoreferenced(t *testing.T) {
	dir := t.TempDir()
	plain := testutil.CreateTestFile(t, dir, "plain.tif", testutil.GeoTIFF(testutil.GeoTIFFOptions{Width: 4, Height: 4, Bands: 3}))
	if _, err := OpenRaster(plain); !errors.Is(err, domain.ErrRender) {
		t.Errorf("got %v, want render error", err)
	}
	jpg := testutil.CreateTestFile(t, dir, "img.jpg", testutil.JPEG(8, 8, testutil.ExifSpec{}))
	if _, err := OpenRaster(jpg); !errors.Is(err, domain.ErrRender) {
		t.Errorf("got %v, want render error", err)
	}
}

func TestTileToFile(t *testing.T) {
	dir := t.TempDir()
	src := writeRaster(t, dir)
	raster, err := OpenRaster(src)
	if err != nil {
		t.Fatalf("OpenRaster failed: %v", err)
	}
	x, y, _, _ := geo.TileRange(raster.Bounds(), 16)

	dest := filepath.Join(dir, "tiles", "16", "tile.png")
	if err := newRenderer(t).TileToFile(context.Background(), src, 16, x, y, 256, false, dest); err != nil {
		t.Fatalf("TileToFile failed: %v", err)
	}
	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("tile not written: %v", err)
	}
	defer f.Close()
	if _, format, err := image.Decode(f); err != nil || format != "png" {
		t.Errorf("format = %q err = %v", format, err)
	}
}
