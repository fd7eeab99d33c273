// Package classify assigns an entry type to a file and extracts its
// type-specific properties and geometries.
package classify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ning0612/ddb/internal/core/checksum"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/logger"
)

// MarkerDir is the reserved directory that makes a directory a catalog.
const MarkerDir = ".ddb"

const sniffLen = 512

// Classifier inspects files. It holds no mutable state and is safe for
// concurrent use.
type Classifier struct {
	calc *checksum.DefaultCalculator
	log  logger.Logger
}

// New creates a classifier hashing with calc. A nil calc uses the default
// SHA-256 calculator.
func New(calc *checksum.DefaultCalculator, log logger.Logger) *Classifier {
	if calc == nil {
		calc = checksum.NewDefaultCalculator()
	}
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Classifier{calc: calc, log: log}
}

// Classify builds the entry for absPath, recorded under relPath. The
// result depends only on the file bytes and path, plus size and mtime.
func (c *Classifier) Classify(ctx context.Context, absPath, relPath string, withHash bool) (domain.Entry, error) {
	const op = "classify"

	st, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Entry{}, domain.Wrap(domain.KindNotFound, op, relPath, err)
		}
		return domain.Entry{}, domain.Wrap(domain.KindIO, op, relPath, err)
	}

	entry := domain.Entry{
		Path:       relPath,
		ModTime:    st.ModTime().UTC().Truncate(time.Second),
		Properties: domain.NewProperties(),
	}

	if st.IsDir() {
		entry.Type = domain.EntryDirectory
		if fi, err := os.Stat(filepath.Join(absPath, MarkerDir)); err == nil && fi.IsDir() {
			entry.Type = domain.EntryDroneDB
		}
		return entry, nil
	}

	entry.Size = st.Size()

	f, err := os.Open(absPath)
	if err != nil {
		return domain.Entry{}, domain.Wrap(domain.KindIO, op, relPath, err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return domain.Entry{}, domain.Wrap(domain.KindIO, op, relPath, err)
	}
	head = head[:n]

	format := sniff(head, strings.ToLower(filepath.Ext(relPath)))
	if err := c.extract(ctx, f, format, &entry); err != nil {
		return domain.Entry{}, domain.Wrap(domain.KindIO, op, relPath, err)
	}

	if withHash {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return domain.Entry{}, domain.Wrap(domain.KindIO, op, relPath, err)
		}
		sum, err := c.calc.Calculate(ctx, f, c.calc.Algorithm())
		if err != nil {
			return domain.Entry{}, domain.Wrap(domain.KindIO, op, relPath, err)
		}
		entry.Hash = sum
	}

	return entry, nil
}

// Hash computes the content digest of absPath.
func (c *Classifier) Hash(ctx context.Context, absPath string) (string, error) {
	return c.calc.HashFile(ctx, absPath)
}

// Format is the container format recognised by sniffing.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatTIFF
	FormatWebP
	FormatLAS
	FormatGeoJSON
	FormatVector
	FormatMarkdown
	FormatVideo
	FormatModel
)

var extFormats = map[string]Format{
	".jpg":      FormatJPEG,
	".jpeg":     FormatJPEG,
	".png":      FormatPNG,
	".gif":      FormatGIF,
	".tif":      FormatTIFF,
	".tiff":     FormatTIFF,
	".webp":     FormatWebP,
	".las":      FormatLAS,
	".laz":      FormatLAS,
	".geojson":  FormatGeoJSON,
	".shp":      FormatVector,
	".kml":      FormatVector,
	".kmz":      FormatVector,
	".gpkg":     FormatVector,
	".fgb":      FormatVector,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".mp4":      FormatVideo,
	".mov":      FormatVideo,
	".avi":      FormatVideo,
	".mkv":      FormatVideo,
	".webm":     FormatVideo,
	".m4v":      FormatVideo,
	".obj":      FormatModel,
	".gltf":     FormatModel,
	".glb":      FormatModel,
	".fbx":      FormatModel,
	".dae":      FormatModel,
	".3ds":      FormatModel,
	".ply":      FormatModel,
}

// sniff picks the format by magic bytes first and by extension second.
func sniff(head []byte, ext string) Format {
	switch {
	case bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(head, []byte("GIF87a")), bytes.HasPrefix(head, []byte("GIF89a")):
		return FormatGIF
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")):
		return FormatTIFF
	case bytes.HasPrefix(head, []byte("LASF")):
		return FormatLAS
	case len(head) >= 12 && string(head[:4]) == "RIFF" && string(head[8:12]) == "WEBP":
		return FormatWebP
	case len(head) >= 12 && string(head[:4]) == "RIFF" && string(head[8:12]) == "AVI ":
		return FormatVideo
	case len(head) >= 12 && string(head[4:8]) == "ftyp":
		return FormatVideo
	case bytes.HasPrefix(head, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatVideo
	case bytes.HasPrefix(head, []byte("glTF")):
		return FormatModel
	}
	if f, ok := extFormats[ext]; ok {
		return f
	}
	return FormatUnknown
}

// extract fills type, properties and geometries of a regular file.
func (c *Classifier) extract(ctx context.Context, f *os.File, format Format, e *domain.Entry) error {
	e.Type = domain.EntryGeneric

	var err error
	switch format {
	case FormatJPEG, FormatPNG, FormatGIF, FormatWebP:
		err = c.extractImage(f, format, e)
	case FormatTIFF:
		err = c.extractTIFF(f, e)
	case FormatLAS:
		err = c.extractPointCloud(f, e)
	case FormatGeoJSON:
		err = c.extractGeoJSON(f, e)
	case FormatVector:
		e.Type = domain.EntryVector
	case FormatMarkdown:
		e.Type = domain.EntryMarkdown
	case FormatVideo:
		e.Type = domain.EntryVideo
	case FormatModel:
		e.Type = domain.EntryModel
	case FormatUnknown:
	default:
		return fmt.Errorf("unhandled format %d", format)
	}
	if err != nil {
		// unreadable payloads degrade to a generic entry
		c.log.Debug("extraction failed", "path", e.Path, "error", err)
		e.Type = domain.EntryGeneric
		e.Properties = domain.NewProperties()
		e.PointGeometry, e.PolygonGeometry = nil, nil
	}
	finalize(e)
	return ctx.Err()
}

// finalize drops geometries from types that never carry one.
func finalize(e *domain.Entry) {
	switch e.Type {
	case domain.EntryGeoImage, domain.EntryGeoPanorama, domain.EntryGeoRaster,
		domain.EntryPointCloud, domain.EntryVector, domain.EntryGeoVideo:
	case domain.EntryImage, domain.EntryPanorama, domain.EntryGeneric, domain.EntryMarkdown,
		domain.EntryVideo, domain.EntryModel, domain.EntryDirectory, domain.EntryDroneDB,
		domain.EntryUndefined:
		e.PointGeometry, e.PolygonGeometry = nil, nil
	}
}
