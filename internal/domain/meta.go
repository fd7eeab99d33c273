package domain

import (
	"encoding/json"
	"time"
)

// Meta is one metadata record of a catalog. Path "" scopes the record to
// the catalog itself.
type Meta struct {
	ID      string
	Key     string
	Path    string
	Data    Value
	ModTime time.Time
}

type metaJSON struct {
	ID    string `json:"id"`
	Key   string `json:"key,omitempty"`
	Path  string `json:"path,omitempty"`
	Data  Value  `json:"data"`
	MTime int64  `json:"mtime"`
}

// MarshalJSON implements json.Marshaler.
func (m Meta) MarshalJSON() ([]byte, error) {
	return json.Marshal(metaJSON{ID: m.ID, Key: m.Key, Path: m.Path, Data: m.Data, MTime: m.ModTime.Unix()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var in metaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Meta{ID: in.ID, Key: in.Key, Path: in.Path, Data: in.Data, ModTime: time.Unix(in.MTime, 0).UTC()}
	return nil
}

// MetaSummary is one distinct metadata key with its record count.
type MetaSummary struct {
	Key   string `json:"key"`
	Path  string `json:"path,omitempty"`
	Count int    `json:"count"`
}
