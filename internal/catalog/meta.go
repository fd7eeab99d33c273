package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/index"
	"github.com/Ning0612/ddb/internal/meta"
)

// MetaResult is the answer of MetaGet. Singular keys encode as one
// record, plural keys as the ordered list.
type MetaResult struct {
	Key     string
	Plural  bool
	Records []domain.Meta
}

// First returns the first record. MetaGet never returns an empty result.
func (r MetaResult) First() domain.Meta {
	if len(r.Records) == 0 {
		return domain.Meta{}
	}
	return r.Records[0]
}

// MarshalJSON implements json.Marshaler.
func (r MetaResult) MarshalJSON() ([]byte, error) {
	if r.Plural {
		records := r.Records
		if records == nil {
			records = []domain.Meta{}
		}
		return json.Marshal(records)
	}
	return json.Marshal(r.First())
}

// metaPath resolves the scope of a metadata record. "" is the catalog
// itself; any other path must be indexed.
func (c *Catalog) metaPath(ctx context.Context, s *index.Store, op, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	rel, err := c.rel(op, path)
	if err != nil || rel == "" {
		return rel, err
	}
	if _, ok, err := s.GetEntry(ctx, rel); err != nil {
		return "", domain.Wrap(domain.KindIO, op, rel, err)
	} else if !ok {
		return "", domain.E(domain.KindNotFound, op, rel, "entry is not indexed")
	}
	return rel, nil
}

func newMeta(key, path string, data domain.Value) domain.Meta {
	return domain.Meta{
		ID:      uuid.NewString(),
		Key:     key,
		Path:    path,
		Data:    data,
		ModTime: time.Now().UTC(),
	}
}

// MetaAdd appends a record to the plural key. path "" scopes it to the
// catalog.
func (c *Catalog) MetaAdd(ctx context.Context, key, data, path string) (domain.Meta, error) {
	const op = "meta add"
	if err := c.check(op); err != nil {
		return domain.Meta{}, err
	}
	if err := meta.CheckArity(op, key, meta.Plural); err != nil {
		return domain.Meta{}, err
	}
	value, err := meta.ParseValue(op, data)
	if err != nil {
		return domain.Meta{}, err
	}

	var m domain.Meta
	err = c.write(ctx, op, func(tx *index.Tx) error {
		rel, err := c.metaPath(ctx, &tx.Store, op, path)
		if err != nil {
			return err
		}
		m = newMeta(key, rel, value)
		if err := tx.AddMeta(ctx, m); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		return nil
	})
	if err != nil {
		return domain.Meta{}, err
	}
	return m, nil
}

// MetaSet stores the only record of the singular key, replacing any
// previous value.
func (c *Catalog) MetaSet(ctx context.Context, key, data, path string) (domain.Meta, error) {
	const op = "meta set"
	if err := c.check(op); err != nil {
		return domain.Meta{}, err
	}
	if err := meta.CheckArity(op, key, meta.Singular); err != nil {
		return domain.Meta{}, err
	}
	value, err := meta.ParseValue(op, data)
	if err != nil {
		return domain.Meta{}, err
	}

	var m domain.Meta
	err = c.write(ctx, op, func(tx *index.Tx) error {
		rel, err := c.metaPath(ctx, &tx.Store, op, path)
		if err != nil {
			return err
		}
		if m, err = tx.SetMeta(ctx, newMeta(key, rel, value)); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		return nil
	})
	if err != nil {
		return domain.Meta{}, err
	}
	return m, nil
}

// MetaGet returns the records of key under path.
func (c *Catalog) MetaGet(ctx context.Context, key, path string) (MetaResult, error) {
	const op = "meta get"
	if err := c.check(op); err != nil {
		return MetaResult{}, err
	}
	if err := meta.ValidateKey(op, key); err != nil {
		return MetaResult{}, err
	}

	res := MetaResult{Key: key, Plural: meta.ArityOf(key) == meta.Plural}
	err := c.read(ctx, op, func(s *index.Store) error {
		rel, err := c.metaPath(ctx, s, op, path)
		if err != nil {
			return err
		}
		if res.Records, err = s.GetMeta(ctx, key, rel); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		if len(res.Records) == 0 {
			return domain.E(domain.KindNotFound, op, rel, "no metadata for key "+key)
		}
		return nil
	})
	if err != nil {
		return MetaResult{}, err
	}
	return res, nil
}

// MetaRemove deletes the record with id and returns how many records were
// deleted.
func (c *Catalog) MetaRemove(ctx context.Context, id string) (int, error) {
	const op = "meta remove"
	if err := c.check(op); err != nil {
		return 0, err
	}
	if id == "" {
		return 0, domain.E(domain.KindArgument, op, "", "metadata id cannot be empty")
	}
	var n int
	err := c.write(ctx, op, func(tx *index.Tx) error {
		var err error
		if n, err = tx.RemoveMeta(ctx, id); err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
	return n, err
}

// MetaUnset deletes every record of key under path and returns how many
// records were deleted.
func (c *Catalog) MetaUnset(ctx context.Context, key, path string) (int, error) {
	const op = "meta unset"
	if err := c.check(op); err != nil {
		return 0, err
	}
	if err := meta.ValidateKey(op, key); err != nil {
		return 0, err
	}
	var n int
	err := c.write(ctx, op, func(tx *index.Tx) error {
		rel, err := c.metaPath(ctx, &tx.Store, op, path)
		if err != nil {
			return err
		}
		if n, err = tx.UnsetMeta(ctx, key, rel); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		return nil
	})
	return n, err
}

// MetaList returns the distinct keys under path with their record counts.
// path "" lists the whole catalog.
func (c *Catalog) MetaList(ctx context.Context, path string) ([]domain.MetaSummary, error) {
	const op = "meta list"
	if err := c.check(op); err != nil {
		return nil, err
	}
	var list []domain.MetaSummary
	err := c.read(ctx, op, func(s *index.Store) error {
		rel, err := c.metaPath(ctx, s, op, path)
		if err != nil {
			return err
		}
		if list, err = s.ListMeta(ctx, rel); err != nil {
			return domain.Wrap(domain.KindIO, op, rel, err)
		}
		return nil
	})
	return list, err
}
