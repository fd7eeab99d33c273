// Package catalog implements the catalog handle and every operation on an
// indexed directory.
package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/ddb/internal/adapter/local"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/engine"
	"github.com/Ning0612/ddb/internal/index"
	"github.com/Ning0612/ddb/internal/logger"
)

// MarkerDir is the directory that turns a directory into a catalog.
const MarkerDir = local.MarkerDir

// Catalog is an open catalog. Handles of the same root share one lock, so
// any number of them may be used concurrently.
type Catalog struct {
	root string
	fs   *local.Adapter
	idx  *index.Index
	rt   *engine.Runtime
	log  logger.Logger
}

// Init creates the marker directory and an empty index in root.
func Init(ctx context.Context, root string) (*Catalog, error) {
	const op = "init"
	rt := engine.Current()

	fs, err := local.New(root)
	if err != nil {
		return nil, domain.Wrap(domain.KindNotFound, op, root, err)
	}
	marker := filepath.Join(fs.Root(), MarkerDir)
	if _, err := os.Stat(marker); err == nil {
		return nil, domain.E(domain.KindConflict, op, fs.Root(), "catalog already initialized")
	}

	var c *Catalog
	err = measure(rt, op, func() error {
		if err := os.Mkdir(marker, 0755); err != nil {
			if os.IsExist(err) {
				return domain.E(domain.KindConflict, op, fs.Root(), "catalog already initialized")
			}
			return domain.Wrap(domain.KindIO, op, fs.Root(), err)
		}
		idx, err := index.Create(marker)
		if err != nil {
			os.RemoveAll(marker)
			return domain.Wrap(domain.KindIO, op, fs.Root(), err)
		}
		c = newCatalog(rt, fs, idx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("catalog initialized")
	return c, nil
}

// Open opens the catalog in root. root may also name the marker directory
// itself.
func Open(ctx context.Context, root string) (*Catalog, error) {
	const op = "open"
	rt := engine.Current()

	if root != "" && filepath.Base(filepath.Clean(root)) == MarkerDir {
		root = filepath.Dir(filepath.Clean(root))
	}
	fs, err := local.New(root)
	if err != nil {
		return nil, domain.Wrap(domain.KindNotFound, op, root, err)
	}

	idx, err := index.Open(filepath.Join(fs.Root(), MarkerDir))
	if err != nil {
		if errors.Is(err, index.ErrNoIndex) {
			return nil, domain.E(domain.KindNotFound, op, fs.Root(), "not a catalog")
		}
		return nil, domain.Wrap(domain.KindIO, op, fs.Root(), err)
	}
	c := newCatalog(rt, fs, idx)
	c.log.Debug("catalog opened")
	return c, nil
}

func newCatalog(rt *engine.Runtime, fs *local.Adapter, idx *index.Index) *Catalog {
	rt.Metrics.CatalogOpened()
	return &Catalog{
		root: fs.Root(),
		fs:   fs,
		idx:  idx,
		rt:   rt,
		log:  rt.Log.With("component", "catalog", "root", fs.Root()),
	}
}

// Close releases the index. The handle must not be used afterwards.
func (c *Catalog) Close() error {
	if c == nil || c.idx == nil {
		return nil
	}
	err := c.idx.Close()
	c.idx = nil
	c.rt.Metrics.CatalogClosed()
	return err
}

// Root returns the absolute catalog root.
func (c *Catalog) Root() string {
	if c == nil {
		return ""
	}
	return c.root
}

func (c *Catalog) markerDir() string {
	return filepath.Join(c.root, MarkerDir)
}

// check rejects nil and closed handles.
func (c *Catalog) check(op string) error {
	if c == nil {
		return domain.E(domain.KindArgument, op, "", "catalog handle is nil")
	}
	if c.idx == nil {
		return domain.E(domain.KindArgument, op, c.root, "catalog is closed")
	}
	return nil
}

// read runs fn under the shared lock of the root.
func (c *Catalog) read(ctx context.Context, op string, fn func(s *index.Store) error) error {
	if err := c.check(op); err != nil {
		return err
	}
	return measure(c.rt, op, func() error {
		unlock, err := c.rt.Locks.RLock(ctx, c.root)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, c.root, err)
		}
		defer unlock()
		return fn(&c.idx.Store)
	})
}

// write runs fn in one transaction under the exclusive lock of the root.
func (c *Catalog) write(ctx context.Context, op string, fn func(tx *index.Tx) error) error {
	if err := c.check(op); err != nil {
		return err
	}
	return measure(c.rt, op, func() error {
		unlock, err := c.rt.Locks.Lock(ctx, c.root, c.markerDir(), op)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, c.root, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				c.log.Warn("failed to release lock", "op", op, "error", err)
			}
		}()
		return c.idx.Update(ctx, fn)
	})
}

func measure(rt *engine.Runtime, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	rt.Metrics.RecordOperation(op, err, time.Since(start))
	if err != nil {
		rt.Log.Debug("operation failed", "op", op, "error", err)
	}
	return err
}

// rel converts a user supplied path into its index form: slash separated,
// relative to the root, "" for the root itself.
func (c *Catalog) rel(op, path string) (string, error) {
	rel, err := c.fs.Rel(path)
	if err != nil {
		return "", domain.Wrap(domain.KindNotFound, op, path, err)
	}
	if isMarker(rel) {
		return "", domain.E(domain.KindNotFound, op, path, "path is inside the catalog marker directory")
	}
	if rel == "." {
		return "", nil
	}
	return rel, nil
}

// scope is rel for optional targets: "" selects the whole catalog.
func (c *Catalog) scope(op, target string) (string, error) {
	if target == "" {
		return "", nil
	}
	return c.rel(op, target)
}

func isMarker(rel string) bool {
	return rel == MarkerDir || len(rel) > len(MarkerDir) && rel[:len(MarkerDir)+1] == MarkerDir+"/"
}

// fail wraps err with op unless it already is a catalog error.
func fail(kind domain.Kind, op, path string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(kind, op, path, err)
}
