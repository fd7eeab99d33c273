package diff

import (
	"sort"
	"strings"

	"github.com/Ning0612/ddb/internal/domain"
)

// DiffResult represents the comparison result between two entries
type DiffResult int

const (
	// EntriesIdentical indicates path and hash are the same
	EntriesIdentical DiffResult = iota
	// EntryModified indicates the path exists in both but the content differs
	EntryModified
	// EntryOnlyInSource indicates the entry only exists in source
	EntryOnlyInSource
	// EntryOnlyInTarget indicates the entry only exists in target
	EntryOnlyInTarget
)

// String returns the string representation of the result
func (r DiffResult) String() string {
	switch r {
	case EntriesIdentical:
		return "identical"
	case EntryModified:
		return "modified"
	case EntryOnlyInSource:
		return "only-in-source"
	case EntryOnlyInTarget:
		return "only-in-target"
	default:
		return "unknown"
	}
}

// Comparer compares two entries of the same path
type Comparer interface {
	// Compare compares source and target entries, either may be nil
	Compare(src, tgt *domain.Entry) DiffResult
}

// HashComparer compares entries by content hash only. Size and mtime are
// ignored since the digest is a pure function of the bytes.
type HashComparer struct{}

// NewHashComparer creates a new HashComparer
func NewHashComparer() *HashComparer {
	return &HashComparer{}
}

// Compare implements the Comparer interface
func (c *HashComparer) Compare(src, tgt *domain.Entry) DiffResult {
	// Both nil - shouldn't happen but handle gracefully
	if src == nil && tgt == nil {
		return EntriesIdentical
	}
	if src != nil && tgt == nil {
		return EntryOnlyInSource
	}
	if src == nil && tgt != nil {
		return EntryOnlyInTarget
	}
	if src.Hash != tgt.Hash {
		return EntryModified
	}
	return EntriesIdentical
}

// Delta computes the add/remove set transforming source into target.
// A modified path shows up in both lists: removed with the source hash,
// added with the target hash. Adds are ordered by path so parents come
// before children; removes are ordered deepest first.
func Delta(source, target []domain.Entry, cmp Comparer) domain.Delta {
	if cmp == nil {
		cmp = NewHashComparer()
	}

	src := index(source)
	tgt := index(target)

	delta := domain.Delta{Adds: []domain.DeltaItem{}, Removes: []domain.DeltaItem{}}

	for path, t := range tgt {
		switch cmp.Compare(src[path], t) {
		case EntryOnlyInTarget, EntryModified:
			delta.Adds = append(delta.Adds, item(t))
		}
	}
	for path, s := range src {
		switch cmp.Compare(s, tgt[path]) {
		case EntryOnlyInSource, EntryModified:
			delta.Removes = append(delta.Removes, item(s))
		}
	}

	sort.Slice(delta.Adds, func(i, j int) bool {
		return delta.Adds[i].Path < delta.Adds[j].Path
	})
	sort.Slice(delta.Removes, func(i, j int) bool {
		di := strings.Count(delta.Removes[i].Path, "/")
		dj := strings.Count(delta.Removes[j].Path, "/")
		if di != dj {
			return di > dj
		}
		return delta.Removes[i].Path < delta.Removes[j].Path
	})
	return delta
}

func index(entries []domain.Entry) map[string]*domain.Entry {
	m := make(map[string]*domain.Entry, len(entries))
	for i := range entries {
		m[entries[i].Path] = &entries[i]
	}
	return m
}

func item(e *domain.Entry) domain.DeltaItem {
	return domain.DeltaItem{Path: e.Path, Hash: e.Hash, Type: e.Type}
}
