// Package local implements the catalog filesystem adapter on the local disk.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/Ning0612/ddb/internal/adapter"
	"github.com/Ning0612/ddb/internal/domain"
)

// MarkerDir is the catalog marker directory skipped by Walk.
const MarkerDir = ".ddb"

var _ adapter.Adapter = (*Adapter)(nil)

// Adapter implements adapter.Adapter for the local filesystem
type Adapter struct {
	root string
}

// New creates a new local filesystem adapter.
// root must exist and be a directory; it is made absolute and has its
// symlinks resolved.
func New(root string) (*Adapter, error) {
	if root == "" {
		return nil, domain.ErrNotFound
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, mapError(err)
	}
	if !info.IsDir() {
		return nil, domain.ErrNotDirectory
	}

	return &Adapter{root: absRoot}, nil
}

// Root returns the absolute root directory
func (a *Adapter) Root() string {
	return a.root
}

// Rel converts path into its root-relative, slash separated form.
func (a *Adapter) Rel(path string) (string, error) {
	if path == "" {
		return "", domain.ErrNotFound
	}
	full := filepath.FromSlash(path)
	if !filepath.IsAbs(full) {
		full = filepath.Join(a.root, full)
	} else if resolved, err := evalExisting(full); err == nil {
		full = resolved
	}

	rel, err := filepath.Rel(a.root, filepath.Clean(full))
	if err != nil {
		return "", domain.ErrPermissionDenied
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.ErrPermissionDenied
	}
	return filepath.ToSlash(rel), nil
}

// evalExisting resolves symlinks of the longest existing prefix of path so
// that paths under a symlinked temp dir still match the resolved root.
func evalExisting(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}
	dir, base := filepath.Split(filepath.Clean(path))
	if dir == "" || dir == path {
		return path, nil
	}
	parent, err := evalExisting(filepath.Clean(dir))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}

// Abs returns the absolute path of a root-relative path
func (a *Adapter) Abs(path string) (string, error) {
	return a.resolvePath(path)
}

// resolvePath safely resolves a relative path to absolute path within root
// Returns error if path attempts to escape root directory
func (a *Adapter) resolvePath(relPath string) (string, error) {
	if relPath == "" || relPath == "." {
		return a.root, nil
	}

	relPath = filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(relPath) {
		return "", domain.ErrPermissionDenied
	}

	fullPath := filepath.Join(a.root, relPath)

	// filepath.Rel also covers root="/data" vs fullPath="/data2"
	rel, err := filepath.Rel(a.root, fullPath)
	if err != nil {
		return "", domain.ErrPermissionDenied
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.ErrPermissionDenied
	}

	return fullPath, nil
}

// List returns the immediate children of a directory
func (a *Adapter) List(ctx context.Context, path string) ([]domain.FileInfo, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, mapError(err)
	}

	result := make([]domain.FileInfo, 0, len(entries))
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		info, err := entry.Info()
		if err != nil {
			continue // vanished between ReadDir and Info
		}
		result = append(result, fileInfoFromOS(joinRel(path, entry.Name()), info))
	}

	return result, nil
}

// Walk visits path and everything below it
func (a *Adapter) Walk(ctx context.Context, path string, fn adapter.WalkFunc) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}

	return filepath.WalkDir(fullPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return mapError(err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() && d.Name() == MarkerDir {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return mapError(err)
		}
		return fn(fileInfoFromOS(filepath.ToSlash(rel), info))
	})
}

// Read opens a file for reading
func (a *Adapter) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	if info.IsDir() {
		return nil, domain.ErrNotFile
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, mapError(err)
	}

	return file, nil
}

// Write creates or overwrites a file through a pending file renamed into place
func (a *Adapter) Write(ctx context.Context, path string, r io.Reader) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return mapError(err)
	}

	t, err := renameio.NewPendingFile(fullPath, renameio.WithPermissions(0644))
	if err != nil {
		return mapError(err)
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, r); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(t.CloseAtomicallyReplace())
}

// Rename moves oldPath to newPath
func (a *Adapter) Rename(ctx context.Context, oldPath, newPath string) error {
	from, err := a.resolvePath(oldPath)
	if err != nil {
		return err
	}
	to, err := a.resolvePath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return mapError(err)
	}
	return mapError(os.Rename(from, to))
}

// Delete removes a file or empty directory
func (a *Adapter) Delete(ctx context.Context, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}
	if fullPath == a.root {
		return domain.ErrPermissionDenied
	}
	return mapError(os.Remove(fullPath))
}

// Stat returns metadata for a single path
func (a *Adapter) Stat(ctx context.Context, path string) (domain.FileInfo, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return domain.FileInfo{}, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return domain.FileInfo{}, mapError(err)
	}

	return fileInfoFromOS(filepath.ToSlash(filepath.Clean(filepath.FromSlash(path))), info), nil
}

// Mkdir creates a directory and any necessary parents
func (a *Adapter) Mkdir(ctx context.Context, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}
	return mapError(os.MkdirAll(fullPath, 0755))
}

// Exists checks if a path exists
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapError(err)
}

// SortByPath orders infos by path.
func SortByPath(infos []domain.FileInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
}

func joinRel(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return strings.TrimSuffix(filepath.ToSlash(dir), "/") + "/" + name
}

// fileInfoFromOS converts os.FileInfo to domain.FileInfo
func fileInfoFromOS(path string, info os.FileInfo) domain.FileInfo {
	fileType := domain.FileTypeRegular
	if info.IsDir() {
		fileType = domain.FileTypeDirectory
	} else if info.Mode()&os.ModeSymlink != 0 {
		fileType = domain.FileTypeSymlink
	}

	size := info.Size()
	if info.IsDir() {
		size = 0
	}

	return domain.FileInfo{
		Path:    path,
		Type:    fileType,
		Size:    size,
		ModTime: info.ModTime(),
	}
}

// mapError converts OS errors to domain errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case os.IsNotExist(err):
		return domain.ErrNotFound
	case os.IsPermission(err):
		return domain.ErrPermissionDenied
	case os.IsExist(err):
		return domain.ErrConflict
	case errors.Is(err, syscall.ENOTDIR):
		return domain.ErrNotDirectory
	case errors.Is(err, syscall.ENOTEMPTY):
		return domain.ErrConflict
	}
	return err
}
