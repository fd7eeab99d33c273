package catalog

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/ddb/internal/build"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/index"
	"github.com/Ning0612/ddb/internal/progress"
)

// buildDir holds committed outputs, keyed by source hash and kind.
const buildDir = "build"

// BuildOptions select what Build derives.
type BuildOptions struct {
	// Target limits the build to one entry or subtree; "" builds everything
	Target string
	// Force rebuilds outputs that are already up to date
	Force    bool
	Reporter progress.Reporter
}

// IsBuildable reports whether the indexed entry at path has a build.
func (c *Catalog) IsBuildable(ctx context.Context, path string) (bool, error) {
	e, err := c.Entry(ctx, path)
	if err != nil {
		return false, err
	}
	return build.Buildable(e.Type), nil
}

// Builds returns the committed build records under target.
func (c *Catalog) Builds(ctx context.Context, target string) ([]domain.Build, error) {
	const op = "builds"
	if err := c.check(op); err != nil {
		return nil, err
	}
	rel, err := c.scope(op, target)
	if err != nil {
		return nil, err
	}
	var builds []domain.Build
	err = c.read(ctx, op, func(s *index.Store) error {
		var err error
		if builds, err = s.Builds(ctx, rel); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		return nil
	})
	return builds, err
}

// Build derives the web-ready outputs of every buildable entry selected by
// opts and returns their build records. Outputs are produced outside the
// catalog lock in a staging directory and committed one at a time; an
// entry whose hash changed meanwhile is not committed. On failure the
// records committed so far are returned with the error.
func (c *Catalog) Build(ctx context.Context, opts BuildOptions) ([]domain.Build, error) {
	const op = "build"
	if err := c.check(op); err != nil {
		return nil, err
	}
	rep := opts.Reporter
	if rep == nil {
		rep = progress.NullReporter{}
	}
	rel, err := c.scope(op, opts.Target)
	if err != nil {
		return nil, err
	}

	var (
		todo    []domain.Entry
		current []domain.Build
	)
	err = c.read(ctx, op, func(s *index.Store) error {
		candidates, err := c.buildCandidates(ctx, s, op, rel)
		if err != nil {
			return err
		}
		for _, e := range candidates {
			kind, _ := build.KindFor(e.Type)
			b, ok, err := s.GetBuild(ctx, e.Path, kind)
			if err != nil {
				return domain.Wrap(domain.KindIO, op, e.Path, err)
			}
			if !opts.Force && ok && b.Hash == e.Hash && c.exists(b.Output) {
				current = append(current, b)
				continue
			}
			todo = append(todo, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	builder := build.New(c.rt)
	builds := current
	rep.SetTotal(len(todo))
	for _, e := range todo {
		b, err := c.buildOne(ctx, builder, e, rep)
		if err != nil {
			rep.Error(err)
			return builds, err
		}
		rep.Complete()
		if b != nil {
			builds = append(builds, *b)
		}
	}
	c.log.Info("build finished", "target", rel, "built", len(todo), "current", len(current))
	return builds, nil
}

// buildCandidates returns the buildable entries of rel. A file target that
// cannot be built is an error; a directory without buildable entries is not.
func (c *Catalog) buildCandidates(ctx context.Context, s *index.Store, op, rel string) ([]domain.Entry, error) {
	var entries []domain.Entry
	if rel != "" {
		e, ok, err := s.GetEntry(ctx, rel)
		if err != nil {
			return nil, domain.Wrap(domain.KindIO, op, rel, err)
		}
		if !ok {
			return nil, domain.E(domain.KindNotFound, op, rel, "entry is not indexed")
		}
		if !e.IsDir() {
			if !build.Buildable(e.Type) {
				return nil, domain.E(domain.KindBuild, op, rel, "entry type "+e.Type.String()+" is not buildable")
			}
			return []domain.Entry{e}, nil
		}
	}
	all, err := s.Entries(ctx, rel, true)
	if err != nil {
		return nil, domain.Wrap(domain.KindIO, op, rel, err)
	}
	for _, e := range all {
		if build.Buildable(e.Type) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (c *Catalog) buildOne(ctx context.Context, builder *build.Builder, e domain.Entry, rep progress.Reporter) (*domain.Build, error) {
	const op = "build"
	kind, _ := build.KindFor(e.Type)
	if e.Hash == "" {
		return nil, domain.E(domain.KindBuild, op, e.Path, "entry has no hash")
	}

	staging := filepath.Join(c.markerDir(), buildDir, ".tmp-"+uuid.NewString())
	defer os.RemoveAll(staging)

	start := time.Now()
	manifest, err := builder.Run(ctx, build.Job{
		Source: filepath.Join(c.root, filepath.FromSlash(e.Path)),
		Entry:  e,
		Dir:    staging,
	}, rep)
	c.rt.Metrics.RecordBuild(kind, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindBuild, op, e.Path, err)
	}

	output := path.Join(MarkerDir, buildDir, e.Hash, string(kind))
	b := &domain.Build{
		Path:    e.Path,
		Hash:    e.Hash,
		Kind:    kind,
		Output:  output,
		Entry:   manifest,
		Created: time.Now().UTC(),
	}
	err = c.write(ctx, op, func(tx *index.Tx) error {
		now, ok, err := tx.GetEntry(ctx, e.Path)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, e.Path, err)
		}
		if !ok || now.Hash != e.Hash {
			b = nil
			return nil
		}
		final := filepath.Join(c.root, filepath.FromSlash(output))
		if err := os.RemoveAll(final); err != nil {
			return domain.Wrap(domain.KindIO, op, e.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
			return domain.Wrap(domain.KindIO, op, e.Path, err)
		}
		if err := os.Rename(staging, final); err != nil {
			return domain.Wrap(domain.KindIO, op, e.Path, err)
		}
		if err := tx.PutBuild(ctx, *b); err != nil {
			return domain.Wrap(domain.KindIO, op, e.Path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		c.log.Warn("entry changed during build, output discarded", "path", e.Path)
	}
	return b, nil
}

func (c *Catalog) exists(output string) bool {
	_, err := os.Stat(filepath.Join(c.root, filepath.FromSlash(output)))
	return err == nil
}
