package catalog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/index"
	"github.com/Ning0612/ddb/internal/stac"
)

// StacOptions select the STAC document to produce.
type StacOptions struct {
	// EntryPath selects an Item; "" produces the Collection
	EntryPath     string
	CollectionURL string
	CollectionID  string
	RegistryURL   string
}

// Stac returns the STAC Item of opts.EntryPath, or the Collection of the
// whole catalog, as JSON. Missing URLs and the collection id are derived
// from the catalog tag.
func (c *Catalog) Stac(ctx context.Context, opts StacOptions) (string, error) {
	const op = "stac"
	if err := c.check(op); err != nil {
		return "", err
	}
	rel := ""
	if opts.EntryPath != "" {
		var err error
		if rel, err = c.rel(op, opts.EntryPath); err != nil {
			return "", err
		}
	}

	var doc any
	err := c.read(ctx, op, func(s *index.Store) error {
		sopts, err := c.stacOptions(ctx, s, op, opts)
		if err != nil {
			return err
		}
		if rel != "" {
			e, ok, err := s.GetEntry(ctx, rel)
			if err != nil {
				return domain.Wrap(domain.KindIO, op, rel, err)
			}
			if !ok {
				return domain.E(domain.KindNotFound, op, rel, "entry is not indexed")
			}
			doc = stac.NewItem(e, sopts)
			return nil
		}

		entries, err := s.Entries(ctx, "", true)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		info, err := c.stacInfo(ctx, s, op, sopts)
		if err != nil {
			return err
		}
		doc = stac.NewCollection(entries, info, sopts)
		return nil
	})
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", domain.Wrap(domain.KindUnknown, op, rel, err)
	}
	return string(data), nil
}

func (c *Catalog) stacOptions(ctx context.Context, s *index.Store, op string, opts StacOptions) (stac.Options, error) {
	out := stac.Options{
		CollectionURL: opts.CollectionURL,
		CollectionID:  opts.CollectionID,
		RegistryURL:   opts.RegistryURL,
	}
	if out.CollectionURL != "" && out.CollectionID != "" && out.RegistryURL != "" {
		return out, nil
	}

	raw, _, err := s.GetAttribute(ctx, index.AttrTag)
	if err != nil {
		return out, domain.Wrap(domain.KindIO, op, "", err)
	}
	if raw == "" {
		if out.CollectionURL == "" {
			return out, domain.E(domain.KindArgument, op, "", "collection URL is required when the catalog has no tag")
		}
		if out.CollectionID == "" {
			out.CollectionID = filepath.Base(c.root)
		}
		if out.RegistryURL == "" {
			out.RegistryURL = DefaultRegistry
		}
		return out, nil
	}

	tag, err := ParseTag(raw)
	if err != nil {
		return out, err
	}
	if out.RegistryURL == "" {
		out.RegistryURL = tag.RegistryURL()
	}
	if out.CollectionID == "" {
		out.CollectionID = tag.Namespace + "/" + tag.Dataset
	}
	if out.CollectionURL == "" {
		out.CollectionURL = strings.TrimRight(out.RegistryURL, "/") + "/orgs/" + tag.Namespace + "/ds/" + tag.Dataset
	}
	return out, nil
}

// stacInfo reads the title, description and license of the collection
// from catalog metadata.
func (c *Catalog) stacInfo(ctx context.Context, s *index.Store, op string, opts stac.Options) (stac.Info, error) {
	records, err := s.CatalogMeta(ctx)
	if err != nil {
		return stac.Info{}, domain.Wrap(domain.KindIO, op, "", err)
	}
	info := stac.Info{Title: opts.CollectionID}
	for _, m := range records {
		v, ok := m.Data.AsString()
		if !ok {
			continue
		}
		switch m.Key {
		case "name", "title":
			info.Title = v
		case "description":
			info.Description = v
		case "license":
			info.License = v
		}
	}
	return info, nil
}
