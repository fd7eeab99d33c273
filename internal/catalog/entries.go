package catalog

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/ddb/internal/adapter/local"
	"github.com/Ning0612/ddb/internal/core/diff"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/engine"
	"github.com/Ning0612/ddb/internal/index"
)

// Add indexes paths, recursing into directories, and returns their
// entries in input order. Parent directories of added paths are indexed
// as directory entries. Either every path is indexed or none is.
func (c *Catalog) Add(ctx context.Context, paths ...string) ([]domain.Entry, error) {
	const op = "add"
	if err := c.check(op); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, domain.E(domain.KindArgument, op, "", "no paths to add")
	}
	if _, err := os.Stat(c.root); err != nil {
		return nil, domain.Wrap(domain.KindNotFound, op, c.root, err)
	}

	// resolve everything before touching the index
	var targets []string
	seen := make(map[string]bool)
	for _, p := range paths {
		rel, err := c.rel(op, p)
		if err != nil {
			return nil, err
		}
		found, err := c.expand(ctx, op, p, rel)
		if err != nil {
			return nil, err
		}
		for _, t := range found {
			if !seen[t] {
				seen[t] = true
				targets = append(targets, t)
			}
		}
	}

	entries, err := c.classifyAll(ctx, targets, true)
	if err != nil {
		return nil, fail(domain.KindIO, op, "", err)
	}

	err = c.write(ctx, op, func(tx *index.Tx) error {
		if err := c.putParents(ctx, tx, targets, seen); err != nil {
			return err
		}
		for _, e := range entries {
			if err := tx.PutEntry(ctx, e); err != nil {
				return domain.Wrap(domain.KindIO, op, e.Path, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.rt.Metrics.RecordEntries(entries)
	c.log.Info("entries added", "count", len(entries))
	return entries, nil
}

// expand returns rel and, for directories, every path below it. The root
// itself expands to its contents only.
func (c *Catalog) expand(ctx context.Context, op, orig, rel string) ([]string, error) {
	info, err := c.fs.Stat(ctx, rel)
	if err != nil {
		return nil, domain.Wrap(domain.KindNotFound, op, orig, err)
	}
	if !info.IsDir() {
		return []string{rel}, nil
	}

	var found []string
	err = c.fs.Walk(ctx, rel, func(fi domain.FileInfo) error {
		if fi.Path == "." || fi.Path == "" {
			return nil
		}
		if fi.Type == domain.FileTypeSymlink {
			return nil
		}
		found = append(found, fi.Path)
		return nil
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindIO, op, orig, err)
	}
	return found, nil
}

// classifyAll classifies paths concurrently, keeping their order.
func (c *Catalog) classifyAll(ctx context.Context, paths []string, withHash bool) ([]domain.Entry, error) {
	entries := make([]domain.Entry, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.rt.Config.Add.Concurrency)
	for i, p := range paths {
		g.Go(func() error {
			abs, err := c.fs.Abs(p)
			if err != nil {
				return err
			}
			e, err := c.rt.Classifier.Classify(gctx, abs, p, withHash)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// putParents indexes the missing ancestors of paths as directories.
func (c *Catalog) putParents(ctx context.Context, tx *index.Tx, paths []string, added map[string]bool) error {
	parents := make(map[string]bool)
	for _, p := range paths {
		for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if added[dir] {
				continue
			}
			parents[dir] = true
		}
	}
	if len(parents) == 0 {
		return nil
	}

	dirs := make([]string, 0, len(parents))
	for d := range parents {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		_, ok, err := tx.GetEntry(ctx, dir)
		if err != nil {
			return domain.Wrap(domain.KindIO, "add", dir, err)
		}
		if ok {
			continue
		}
		abs, err := c.fs.Abs(dir)
		if err != nil {
			return domain.Wrap(domain.KindNotFound, "add", dir, err)
		}
		e, err := c.rt.Classifier.Classify(ctx, abs, dir, false)
		if domain.KindOf(err) == domain.KindNotFound {
			// a move target whose parents are created by the rename
			e = domain.Entry{Path: dir, Type: domain.EntryDirectory, ModTime: time.Now().UTC().Truncate(time.Second), Properties: domain.NewProperties()}
		} else if err != nil {
			return err
		}
		if err := tx.PutEntry(ctx, e); err != nil {
			return domain.Wrap(domain.KindIO, "add", dir, err)
		}
	}
	return nil
}

// Remove drops target and everything under it from the index together
// with their metadata and builds, and returns the removed paths. The root
// clears the whole index.
func (c *Catalog) Remove(ctx context.Context, target string) ([]string, error) {
	const op = "remove"
	if err := c.check(op); err != nil {
		return nil, err
	}
	rel, err := c.rel(op, target)
	if err != nil {
		return nil, err
	}

	var removed []string
	var builds []domain.Build
	err = c.write(ctx, op, func(tx *index.Tx) error {
		if rel != "" {
			_, ok, err := tx.GetEntry(ctx, rel)
			if err != nil {
				return domain.Wrap(domain.KindIO, op, rel, err)
			}
			if !ok {
				return domain.E(domain.KindNotFound, op, rel, "entry is not indexed")
			}
		}
		var err error
		if removed, err = tx.DeleteTree(ctx, rel); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		deleted, err := tx.DeleteBuilds(ctx, rel)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		// outputs are keyed by source hash, so copies of a file share one
		remaining, err := tx.Builds(ctx, "")
		if err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		builds = unusedOutputs(deleted, remaining)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, b := range builds {
		if err := os.RemoveAll(filepath.Join(c.root, filepath.FromSlash(b.Output))); err != nil {
			c.log.Warn("failed to remove build output", "path", b.Path, "output", b.Output, "error", err)
		}
	}
	c.log.Info("entries removed", "target", rel, "count", len(removed))
	return removed, nil
}

func unusedOutputs(deleted, remaining []domain.Build) []domain.Build {
	used := make(map[string]bool, len(remaining))
	for _, b := range remaining {
		used[b.Output] = true
	}
	var out []domain.Build
	for _, b := range deleted {
		if !used[b.Output] {
			used[b.Output] = true
			out = append(out, b)
		}
	}
	return out
}

// List returns indexed entries sorted by path. The root and directories
// list their children, or their whole subtree when recursive; a file lists
// itself, or nothing when it is not indexed.
func (c *Catalog) List(ctx context.Context, target string, recursive bool) ([]domain.Entry, error) {
	const op = "list"
	if err := c.check(op); err != nil {
		return nil, err
	}
	rel, err := c.rel(op, target)
	if err != nil {
		return nil, err
	}

	var entries []domain.Entry
	err = c.read(ctx, op, func(s *index.Store) error {
		if rel != "" {
			e, ok, err := s.GetEntry(ctx, rel)
			if err != nil {
				return domain.Wrap(domain.KindIO, op, rel, err)
			}
			if !ok {
				entries = []domain.Entry{}
				return nil
			}
			if !e.IsDir() {
				entries = []domain.Entry{e}
				return nil
			}
		}
		var err error
		if entries, err = s.Entries(ctx, rel, recursive); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Entry returns the indexed entry of path.
func (c *Catalog) Entry(ctx context.Context, path string) (domain.Entry, error) {
	const op = "entry"
	if err := c.check(op); err != nil {
		return domain.Entry{}, err
	}
	rel, err := c.rel(op, path)
	if err != nil {
		return domain.Entry{}, err
	}
	if rel == "" {
		return domain.Entry{}, domain.E(domain.KindNotFound, op, path, "the root is not an entry")
	}

	var e domain.Entry
	err = c.read(ctx, op, func(s *index.Store) error {
		var ok bool
		var err error
		if e, ok, err = s.GetEntry(ctx, rel); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		if !ok {
			return domain.E(domain.KindNotFound, op, rel, "entry is not indexed")
		}
		return nil
	})
	return e, err
}

// MoveEntry renames the entry from, and its subtree, to to. The file is
// moved on disk too when it exists at from.
func (c *Catalog) MoveEntry(ctx context.Context, from, to string) (domain.Entry, error) {
	const op = "move"
	if err := c.check(op); err != nil {
		return domain.Entry{}, err
	}
	src, err := c.rel(op, from)
	if err != nil {
		return domain.Entry{}, err
	}
	dst, err := c.rel(op, to)
	if err != nil {
		return domain.Entry{}, err
	}
	if src == "" || dst == "" {
		return domain.Entry{}, domain.E(domain.KindValidation, op, from, "cannot move the catalog root")
	}
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return domain.Entry{}, domain.E(domain.KindValidation, op, dst, "cannot move an entry into itself")
	}

	var moved domain.Entry
	err = c.write(ctx, op, func(tx *index.Tx) error {
		if _, ok, err := tx.GetEntry(ctx, src); err != nil {
			return domain.Wrap(domain.KindIO, op, src, err)
		} else if !ok {
			return domain.E(domain.KindNotFound, op, src, "entry is not indexed")
		}
		if _, ok, err := tx.GetEntry(ctx, dst); err != nil {
			return domain.Wrap(domain.KindIO, op, dst, err)
		} else if ok {
			return domain.E(domain.KindConflict, op, dst, "destination is already indexed")
		}
		taken, err := c.fs.Exists(ctx, dst)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, dst, err)
		}
		if taken {
			return domain.E(domain.KindConflict, op, dst, "destination already exists")
		}

		if err := tx.MoveTree(ctx, src, dst); err != nil {
			return domain.Wrap(domain.KindIO, op, src, err)
		}
		if err := c.putParents(ctx, tx, []string{dst}, map[string]bool{}); err != nil {
			return err
		}
		e, _, err := tx.GetEntry(ctx, dst)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, dst, err)
		}
		moved = e

		// the rename runs last so a failure rolls the index back
		onDisk, err := c.fs.Exists(ctx, src)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, src, err)
		}
		if onDisk {
			if err := c.fs.Rename(ctx, src, dst); err != nil {
				return domain.Wrap(domain.KindIO, op, src, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Entry{}, err
	}
	c.log.Info("entry moved", "from", src, "to", dst)
	return moved, nil
}

// InfoOptions configures Info.
type InfoOptions struct {
	WithHash  bool
	Recursive bool
}

// Info classifies path without any catalog. A directory reports its
// children, or its whole subtree when Recursive. Entry paths keep the
// prefix of path.
func Info(ctx context.Context, target string, opts InfoOptions) ([]domain.Entry, error) {
	const op = "info"
	rt := engine.Current()
	if target == "" {
		return nil, domain.E(domain.KindArgument, op, "", "no path given")
	}

	var entries []domain.Entry
	err := measure(rt, op, func() error {
		st, err := os.Stat(target)
		if err != nil {
			return domain.Wrap(domain.KindNotFound, op, target, err)
		}
		shown := filepath.ToSlash(filepath.Clean(target))
		if !st.IsDir() {
			e, err := rt.Classifier.Classify(ctx, target, shown, opts.WithHash)
			if err != nil {
				return err
			}
			entries = []domain.Entry{e}
			return nil
		}

		fs, err := local.New(target)
		if err != nil {
			return domain.Wrap(domain.KindNotFound, op, target, err)
		}
		var children []string
		err = fs.Walk(ctx, ".", func(fi domain.FileInfo) error {
			if fi.Path == "." {
				return nil
			}
			children = append(children, fi.Path)
			if fi.IsDir() && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		})
		if err != nil {
			return domain.Wrap(domain.KindIO, op, target, err)
		}

		entries = make([]domain.Entry, len(children))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(rt.Config.Add.Concurrency)
		for i, child := range children {
			g.Go(func() error {
				abs := filepath.Join(fs.Root(), filepath.FromSlash(child))
				e, err := rt.Classifier.Classify(gctx, abs, path.Join(shown, child), opts.WithHash)
				if err != nil {
					return err
				}
				entries[i] = e
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, fail(domain.KindIO, op, target, err)
	}
	return entries, nil
}

// Delta computes the adds and removes that turn source into target.
func Delta(ctx context.Context, source, target *Catalog) (domain.Delta, error) {
	const op = "delta"
	if source == nil || target == nil {
		return domain.Delta{}, domain.E(domain.KindArgument, op, "", "both catalogs are required")
	}

	var src, tgt []domain.Entry
	if err := source.read(ctx, op, func(s *index.Store) error {
		var err error
		src, err = s.Entries(ctx, "", true)
		return err
	}); err != nil {
		return domain.Delta{}, fail(domain.KindIO, op, source.root, err)
	}
	if err := target.read(ctx, op, func(s *index.Store) error {
		var err error
		tgt, err = s.Entries(ctx, "", true)
		return err
	}); err != nil {
		return domain.Delta{}, fail(domain.KindIO, op, target.root, err)
	}

	return diff.Delta(src, tgt, diff.NewHashComparer()), nil
}
