package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Ning0612/ddb/internal/domain"
)

const entryColumns = `path, hash, type, properties, mtime, size, point_geom, polygon_geom`

// prefixRange returns the bounds selecting every descendant of dir:
// path >= dir + "/" AND path < dir + "0" ('0' sorts right after '/').
func prefixRange(dir string) (lo, hi string) {
	return dir + "/", dir + "0"
}

// PutEntry inserts or replaces the entry at e.Path.
func (s *Store) PutEntry(ctx context.Context, e domain.Entry) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	point, err := encodeFeature(e.PointGeometry)
	if err != nil {
		return err
	}
	polygon, err := encodeFeature(e.PolygonGeometry)
	if err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO entries (path, hash, type, properties, mtime, size, depth, point_geom, polygon_geom)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.q.ExecContext(ctx, query,
		e.Path,
		e.Hash,
		int(e.Type),
		string(props),
		e.ModTime.Unix(),
		e.Size,
		e.Depth(),
		point,
		polygon,
	)
	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", e.Path, err)
	}
	return nil
}

// GetEntry returns the entry at path. ok is false when it is not indexed.
func (s *Store) GetEntry(ctx context.Context, path string) (e domain.Entry, ok bool, err error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE path = ?`, path)
	e, err = scanEntry(row)
	if err == sql.ErrNoRows {
		return domain.Entry{}, false, nil
	}
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("failed to query entry %s: %w", path, err)
	}
	return e, true, nil
}

// Entries returns entries sorted by path. dir "" selects from the root.
// When recursive is false only the immediate children of dir are returned.
func (s *Store) Entries(ctx context.Context, dir string, recursive bool) ([]domain.Entry, error) {
	var (
		where []string
		args  []any
	)
	if dir != "" {
		lo, hi := prefixRange(dir)
		where = append(where, "path >= ? AND path < ?")
		args = append(args, lo, hi)
	}
	if !recursive {
		depth := 0
		if dir != "" {
			depth = strings.Count(dir, "/") + 1
		}
		where = append(where, "depth = ?")
		args = append(args, depth)
	}

	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY path`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

// CountEntries returns the number of indexed entries.
func (s *Store) CountEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// LastUpdate returns the newest entry modification time.
func (s *Store) LastUpdate(ctx context.Context) (time.Time, error) {
	var mtime sql.NullInt64
	if err := s.q.QueryRowContext(ctx, `SELECT MAX(mtime) FROM entries`).Scan(&mtime); err != nil {
		return time.Time{}, fmt.Errorf("failed to query last update: %w", err)
	}
	return time.Unix(mtime.Int64, 0).UTC(), nil
}

// DeleteTree removes path and everything under it together with their
// metadata; path "" removes all entries. It returns the removed paths
// sorted. Build records are left to DeleteBuilds.
func (s *Store) DeleteTree(ctx context.Context, path string) ([]string, error) {
	where, args := treeFilter(path)

	rows, err := s.q.QueryContext(ctx, `SELECT path FROM entries`+where+` ORDER BY path`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	removed := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		removed = append(removed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM entries`+where, args...); err != nil {
		return nil, fmt.Errorf("failed to delete entries: %w", err)
	}
	// catalog scoped meta (path '') survives a full clear
	metaWhere := where
	if path == "" {
		metaWhere = ` WHERE path != ''`
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM meta`+metaWhere, args...); err != nil {
		return nil, fmt.Errorf("failed to delete meta: %w", err)
	}
	return removed, nil
}

// MoveTree renames path and everything under it to newPath. Entry
// metadata and build records follow the entries.
func (s *Store) MoveTree(ctx context.Context, path, newPath string) error {
	where, args := treeFilter(path)
	rows, err := s.q.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries`+where, args...)
	if err != nil {
		return fmt.Errorf("failed to query entries: %w", err)
	}
	var moved []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan entry: %w", err)
		}
		moved = append(moved, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating entries: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM entries`+where, args...); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	sort.Slice(moved, func(i, j int) bool { return moved[i].Path < moved[j].Path })
	for _, e := range moved {
		e.Path = newPath + strings.TrimPrefix(e.Path, path)
		if err := s.PutEntry(ctx, e); err != nil {
			return err
		}
	}

	// substr counts characters, not bytes
	for _, table := range []string{"meta", "builds"} {
		query := fmt.Sprintf(`UPDATE %s SET path = ? || substr(path, ?)`, table) + where
		if _, err := s.q.ExecContext(ctx, query, append([]any{newPath, utf8.RuneCountInString(path) + 1}, args...)...); err != nil {
			return fmt.Errorf("failed to move %s: %w", table, err)
		}
	}
	return nil
}

// treeFilter returns a WHERE clause matching path and its descendants.
func treeFilter(path string) (string, []any) {
	if path == "" {
		return "", nil
	}
	lo, hi := prefixRange(path)
	return ` WHERE (path = ? OR (path >= ? AND path < ?))`, []any{path, lo, hi}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (domain.Entry, error) {
	var (
		e              domain.Entry
		typ            int
		props          string
		mtime          int64
		point, polygon sql.NullString
	)
	if err := row.Scan(&e.Path, &e.Hash, &typ, &props, &mtime, &e.Size, &point, &polygon); err != nil {
		return domain.Entry{}, err
	}
	e.Type = domain.EntryType(typ)
	e.ModTime = time.Unix(mtime, 0).UTC()
	if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
		return domain.Entry{}, fmt.Errorf("decode properties of %s: %w", e.Path, err)
	}
	var err error
	if e.PointGeometry, err = decodeFeature(point); err != nil {
		return domain.Entry{}, err
	}
	if e.PolygonGeometry, err = decodeFeature(polygon); err != nil {
		return domain.Entry{}, err
	}
	return e, nil
}

func encodeFeature(f *domain.Feature) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeFeature(s sql.NullString) (*domain.Feature, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var f domain.Feature
	if err := json.Unmarshal([]byte(s.String), &f); err != nil {
		return nil, fmt.Errorf("decode geometry: %w", err)
	}
	return &f, nil
}
