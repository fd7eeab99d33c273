package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/index"
)

var stampEncoding cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	stampEncoding = em
}

type stampBody struct {
	Entries []map[string]string `cbor:"entries"`
	Meta    []string            `cbor:"meta"`
}

// Stamp returns the integrity snapshot of the catalog: every entry path
// with its hash, every metadata id, and a checksum over both.
func (c *Catalog) Stamp(ctx context.Context) (domain.Stamp, error) {
	const op = "stamp"
	var body stampBody
	err := c.read(ctx, op, func(s *index.Store) error {
		entries, err := s.Entries(ctx, "", true)
		if err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		body.Entries = make([]map[string]string, len(entries))
		for i, e := range entries {
			body.Entries[i] = map[string]string{e.Path: e.Hash}
		}
		if body.Meta, err = s.MetaIDs(ctx); err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
	if err != nil {
		return domain.Stamp{}, err
	}

	data, err := stampEncoding.Marshal(body)
	if err != nil {
		return domain.Stamp{}, domain.Wrap(domain.KindIO, op, "", err)
	}
	sum := sha256.Sum256(data)
	return domain.Stamp{
		Checksum: hex.EncodeToString(sum[:]),
		Entries:  body.Entries,
		Meta:     body.Meta,
	}, nil
}
