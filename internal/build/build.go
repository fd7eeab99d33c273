// Package build derives web-ready representations of catalog entries:
// Entwine Point Tiles for point clouds and XYZ tile pyramids for
// georeferenced rasters.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/Ning0612/ddb/internal/config"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/engine"
	"github.com/Ning0612/ddb/internal/logger"
	"github.com/Ning0612/ddb/internal/progress"
)

// Manifest files written at the top of each output.
const (
	EPTManifest   = "ept.json"
	TilesManifest = "tiles.json"
)

// KindFor returns the build kind of an entry type.
func KindFor(t domain.EntryType) (domain.BuildKind, bool) {
	switch t {
	case domain.EntryPointCloud:
		return domain.BuildEPT, true
	case domain.EntryGeoRaster:
		return domain.BuildTiles, true
	case domain.EntryUndefined, domain.EntryDirectory, domain.EntryGeneric, domain.EntryGeoImage,
		domain.EntryImage, domain.EntryDroneDB, domain.EntryMarkdown, domain.EntryVideo,
		domain.EntryGeoVideo, domain.EntryModel, domain.EntryPanorama, domain.EntryGeoPanorama,
		domain.EntryVector:
		return "", false
	}
	return "", false
}

// Buildable reports whether entries of type t have a build.
func Buildable(t domain.EntryType) bool {
	_, ok := KindFor(t)
	return ok
}

// Job is one entry to build.
type Job struct {
	// Source is the absolute path of the entry file
	Source string
	Entry  domain.Entry
	// Dir is the empty directory receiving the output
	Dir string
}

// Builder runs jobs. It holds no per-job state.
type Builder struct {
	cfg config.BuildConfig
	log logger.Logger
}

// New creates a builder from the engine configuration.
func New(rt *engine.Runtime) *Builder {
	return &Builder{
		cfg: rt.Config.Build,
		log: rt.Log.With("component", "build"),
	}
}

// Run builds job.Entry into job.Dir and returns the manifest entry of the
// output. The manifest path is relative to job.Dir.
func (b *Builder) Run(ctx context.Context, job Job, rep progress.Reporter) (domain.Entry, error) {
	const op = "build"
	if rep == nil {
		rep = progress.NullReporter{}
	}
	kind, ok := KindFor(job.Entry.Type)
	if !ok {
		return domain.Entry{}, domain.E(domain.KindBuild, op, job.Entry.Path, "entry type "+job.Entry.Type.String()+" is not buildable")
	}
	if err := os.MkdirAll(job.Dir, 0755); err != nil {
		return domain.Entry{}, domain.Wrap(domain.KindIO, op, job.Entry.Path, err)
	}

	var manifest domain.Entry
	var err error
	switch kind {
	case domain.BuildEPT:
		manifest, err = b.buildEPT(ctx, job, rep)
	case domain.BuildTiles:
		manifest, err = b.buildTiles(ctx, job, rep)
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.Entry{}, domain.Wrap(domain.KindBuild, op, job.Entry.Path, ctx.Err())
		}
		var de *domain.Error
		if errors.As(err, &de) {
			return domain.Entry{}, err
		}
		return domain.Entry{}, domain.Wrap(domain.KindBuild, op, job.Entry.Path, err)
	}

	manifest.Size, err = dirSize(job.Dir)
	if err != nil {
		return domain.Entry{}, domain.Wrap(domain.KindIO, op, job.Entry.Path, err)
	}
	manifest.ModTime = job.Entry.ModTime
	manifest.PointGeometry = job.Entry.PointGeometry
	manifest.PolygonGeometry = job.Entry.PolygonGeometry
	b.log.Info("build finished", "path", job.Entry.Path, "kind", kind, "size", manifest.Size)
	return manifest, nil
}

// writeJSON atomically writes v, indented, and returns its sha256.
func writeJSON(path string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}

func copyFile(dst string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	pf, err := renameio.NewPendingFile(dst)
	if err != nil {
		return err
	}
	defer pf.Cleanup()
	if _, err := io.Copy(pf, src); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
