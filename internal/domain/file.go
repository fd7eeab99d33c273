package domain

import "time"

// FileType is the on-disk kind of a path seen while walking a catalog root.
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	// FileTypeSymlink paths are never indexed
	FileTypeSymlink
)

// FileInfo is what the filesystem adapter reports for one path, before
// classification turns it into an Entry.
type FileInfo struct {
	// Path is root-relative with forward slashes
	Path    string
	Type    FileType
	Size    int64 // 0 for directories
	ModTime time.Time
}

// IsDir reports whether the path is a directory.
func (f FileInfo) IsDir() bool {
	return f.Type == FileTypeDirectory
}
