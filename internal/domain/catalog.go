package domain

import "time"

// DeltaItem identifies one entry in a Delta.
type DeltaItem struct {
	Path string    `json:"path"`
	Hash string    `json:"hash"`
	Type EntryType `json:"type"`
}

// Delta is the add/remove set transforming a source entry set into a
// target entry set.
type Delta struct {
	Adds    []DeltaItem `json:"adds"`
	Removes []DeltaItem `json:"removes"`
}

// Empty reports whether the two entry sets were identical.
func (d Delta) Empty() bool {
	return len(d.Adds) == 0 && len(d.Removes) == 0
}

// Stamp is an integrity snapshot of a catalog.
type Stamp struct {
	Checksum string              `json:"checksum"`
	Entries  []map[string]string `json:"entries"`
	Meta     []string            `json:"meta"`
}

// BuildKind names a derived representation.
type BuildKind string

const (
	// BuildEPT is an Entwine Point Tile octree of a point cloud
	BuildEPT BuildKind = "ept"
	// BuildTiles is an XYZ PNG pyramid of a georaster
	BuildTiles BuildKind = "tiles"
)

// Build records one committed derived representation.
type Build struct {
	// Path of the source entry
	Path string `json:"path"`
	// Hash of the source entry at build time
	Hash string    `json:"hash"`
	Kind BuildKind `json:"kind"`
	// Output is relative to the catalog root, under .ddb/build
	Output  string    `json:"output"`
	Entry   Entry     `json:"entry"`
	Created time.Time `json:"created"`
}

// Attributes are the catalog-level attributes.
type Attributes struct {
	Public     bool      `json:"public"`
	Entries    int       `json:"entries"`
	LastUpdate time.Time `json:"lastUpdate"`
}
