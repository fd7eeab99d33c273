package catalog

import (
	"context"
	"sort"
	"strconv"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/index"
)

// Attributes returns the catalog attributes.
func (c *Catalog) Attributes(ctx context.Context) (domain.Attributes, error) {
	const op = "attributes"
	var attrs domain.Attributes
	err := c.read(ctx, op, func(s *index.Store) error {
		var err error
		attrs, err = readAttributes(ctx, s)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
	return attrs, err
}

func readAttributes(ctx context.Context, s *index.Store) (domain.Attributes, error) {
	var attrs domain.Attributes
	public, ok, err := s.GetAttribute(ctx, index.AttrPublic)
	if err != nil {
		return attrs, err
	}
	if ok {
		attrs.Public, _ = strconv.ParseBool(public)
	}
	if attrs.Entries, err = s.CountEntries(ctx); err != nil {
		return attrs, err
	}
	if attrs.LastUpdate, err = s.LastUpdate(ctx); err != nil {
		return attrs, err
	}
	return attrs, nil
}

// ChangeAttributes updates the writable attributes and returns the
// result. Only "public", a boolean, is writable.
func (c *Catalog) ChangeAttributes(ctx context.Context, changes map[string]domain.Value) (domain.Attributes, error) {
	const op = "chattr"
	if err := c.check(op); err != nil {
		return domain.Attributes{}, err
	}
	if changes == nil {
		return domain.Attributes{}, domain.E(domain.KindArgument, op, "", "attributes cannot be nil")
	}

	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		switch k {
		case index.AttrPublic:
			b, ok := changes[k].AsBool()
			if !ok {
				return domain.Attributes{}, domain.E(domain.KindValidation, op, "", "attribute public must be a boolean")
			}
			values[k] = strconv.FormatBool(b)
		default:
			return domain.Attributes{}, domain.E(domain.KindValidation, op, "", "unknown attribute "+strconv.Quote(k))
		}
	}

	var attrs domain.Attributes
	err := c.write(ctx, op, func(tx *index.Tx) error {
		for _, k := range keys {
			if err := tx.SetAttribute(ctx, k, values[k]); err != nil {
				return domain.Wrap(domain.KindIO, op, "", err)
			}
		}
		var err error
		if attrs, err = readAttributes(ctx, &tx.Store); err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
	if err != nil {
		return domain.Attributes{}, err
	}
	c.log.Info("attributes changed", "keys", keys)
	return attrs, nil
}
