// Package render produces derived images of catalog files: JPEG
// thumbnails and Web Mercator PNG map tiles.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/engine"
	"github.com/Ning0612/ddb/internal/logger"
	"github.com/Ning0612/ddb/internal/metrics"
)

// Kinds reported to metrics.
const (
	KindThumbnail = "thumbnail"
	KindTile      = "tile"
)

// Renderer renders thumbnails and tiles. It keeps no per-file state and
// is safe for concurrent use.
type Renderer struct {
	// ThumbnailSize is used when a thumbnail size of 0 is requested
	ThumbnailSize int
	// Quality is the JPEG quality of thumbnails
	Quality int

	metrics *metrics.Metrics
	log     logger.Logger
}

// New creates a renderer from the registered engine configuration.
func New(rt *engine.Runtime) *Renderer {
	return &Renderer{
		ThumbnailSize: rt.Config.Thumbnail.Size,
		Quality:       rt.Config.Thumbnail.Quality,
		metrics:       rt.Metrics,
		log:           rt.Log.With("component", "render"),
	}
}

// Default returns a renderer of the current engine runtime.
func Default() *Renderer {
	return New(engine.Current())
}

// Thumbnail renders src with its longest side scaled to size.
func Thumbnail(ctx context.Context, src string, size int) ([]byte, error) {
	return Default().Thumbnail(ctx, src, size)
}

// ThumbnailToFile renders src and atomically writes the JPEG to dest.
func ThumbnailToFile(ctx context.Context, src string, size int, dest string) error {
	return Default().ThumbnailToFile(ctx, src, size, dest)
}

// Thumbnail renders src as a JPEG whose longest side is size pixels. EXIF
// orientation is applied.
func (r *Renderer) Thumbnail(ctx context.Context, src string, size int) (data []byte, err error) {
	const op = "thumbnail"
	defer func() { r.metrics.RecordRender(KindThumbnail, err) }()

	if src == "" {
		return nil, domain.E(domain.KindArgument, op, "", "source path cannot be empty")
	}
	if size == 0 {
		size = r.ThumbnailSize
	}
	if size < 1 {
		return nil, domain.E(domain.KindRender, op, src, fmt.Sprintf("invalid thumbnail size %d", size))
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, domain.Wrap(domain.KindNotFound, op, src, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, domain.Wrap(domain.KindRender, op, src, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindRender, op, src, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err == nil {
		img = orient(img, orientation(f))
	}
	thumb := scale(img, size)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: r.Quality}); err != nil {
		return nil, domain.Wrap(domain.KindRender, op, src, err)
	}
	r.log.Debug("thumbnail rendered", "src", src, "size", size, "bytes", buf.Len())
	return buf.Bytes(), nil
}

// ThumbnailToFile renders src and atomically writes the JPEG to dest.
func (r *Renderer) ThumbnailToFile(ctx context.Context, src string, size int, dest string) error {
	data, err := r.Thumbnail(ctx, src, size)
	if err != nil {
		return err
	}
	return writeFile("thumbnail", dest, data)
}

func writeFile(op, dest string, data []byte) error {
	if dest == "" {
		return domain.E(domain.KindArgument, op, "", "destination path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return domain.Wrap(domain.KindIO, op, dest, err)
	}
	if err := renameio.WriteFile(dest, data, 0644); err != nil {
		return domain.Wrap(domain.KindIO, op, dest, err)
	}
	return nil
}

// scale fits img into a size x size box, keeping the aspect ratio.
func scale(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}
	if w >= h {
		h = max(1, h*size/w)
		w = size
	} else {
		w = max(1, w*size/h)
		h = size
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// orientation returns the EXIF orientation of r, 1 when absent.
func orientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// orient applies an EXIF orientation so that the result displays upright.
func orient(img image.Image, o int) image.Image {
	if o <= 1 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch o {
			case 2:
				dx, dy = w-1-x, y
			case 3:
				dx, dy = w-1-x, h-1-y
			case 4:
				dx, dy = x, h-1-y
			case 5:
				dx, dy = y, x
			case 6:
				dx, dy = h-1-y, x
			case 7:
				dx, dy = h-1-y, w-1-x
			case 8:
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
