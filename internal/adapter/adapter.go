// Package adapter defines the filesystem boundary of a catalog.
package adapter

import (
	"context"
	"io"

	"github.com/Ning0612/ddb/internal/domain"
)

// WalkFunc is called for every path visited by Walk. Returning an error
// stops the walk.
type WalkFunc func(info domain.FileInfo) error

// Adapter is a filesystem confined to a catalog root.
// Paths are relative to the root and use forward slashes. Implementations
// return domain.ErrPermissionDenied for paths escaping the root.
type Adapter interface {
	// Root returns the absolute root directory
	Root() string

	// Rel converts an absolute path, or a path relative to the root, into
	// the root-relative form. The root itself is ".".
	Rel(path string) (string, error)

	// Abs returns the absolute path of a root-relative path
	Abs(path string) (string, error)

	// List returns the immediate children of a directory, sorted by name
	// Returns domain.ErrNotFound if path doesn't exist
	// Returns domain.ErrNotDirectory if path is a file
	List(ctx context.Context, path string) ([]domain.FileInfo, error)

	// Walk visits path and, for directories, everything below it in
	// lexical order. The catalog marker directory is skipped.
	Walk(ctx context.Context, path string, fn WalkFunc) error

	// Read opens a file for reading
	// Caller is responsible for closing the reader
	// Returns domain.ErrNotFile if path is a directory
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write atomically creates or replaces a file, creating parents
	Write(ctx context.Context, path string, r io.Reader) error

	// Rename moves a file or directory, creating the parents of newPath
	Rename(ctx context.Context, oldPath, newPath string) error

	// Delete removes a file or empty directory
	Delete(ctx context.Context, path string) error

	// Stat returns metadata for a single path
	Stat(ctx context.Context, path string) (domain.FileInfo, error)

	// Mkdir creates a directory and any necessary parents
	Mkdir(ctx context.Context, path string) error

	// Exists checks if a path exists
	Exists(ctx context.Context, path string) (bool, error)
}
