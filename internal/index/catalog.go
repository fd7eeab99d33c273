package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ning0612/ddb/internal/domain"
)

// Attribute keys stored in the attributes table.
const (
	AttrTag    = "tag"
	AttrPublic = "public"
)

// GetAttribute returns the raw value of key. ok is false when unset.
func (s *Store) GetAttribute(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.q.QueryRowContext(ctx, `SELECT value FROM attributes WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query attribute %s: %w", key, err)
	}
	return value, true, nil
}

// SetAttribute stores value under key.
func (s *Store) SetAttribute(ctx context.Context, key, value string) error {
	if _, err := s.q.ExecContext(ctx,
		`INSERT OR REPLACE INTO attributes (key, value) VALUES (?, ?)`, key, value,
	); err != nil {
		return fmt.Errorf("failed to save attribute %s: %w", key, err)
	}
	return nil
}

// DeleteAttribute removes key.
func (s *Store) DeleteAttribute(ctx context.Context, key string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM attributes WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete attribute %s: %w", key, err)
	}
	return nil
}

// AppendPassword stores a password hash after the existing ones.
func (s *Store) AppendPassword(ctx context.Context, hash string) error {
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO passwords (hash, created_at) VALUES (?, ?)`, hash, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}
	return nil
}

// Passwords returns the stored hashes in insertion order.
func (s *Store) Passwords(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT hash FROM passwords ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query passwords: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan password: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ClearPasswords removes every password and returns how many were stored.
func (s *Store) ClearPasswords(ctx context.Context) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM passwords`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear passwords: %w", err)
	}
	return affected(res)
}

// PutBuild inserts or replaces the build record of (b.Path, b.Kind).
func (s *Store) PutBuild(ctx context.Context, b domain.Build) error {
	entry, err := json.Marshal(b.Entry)
	if err != nil {
		return fmt.Errorf("failed to encode build entry: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO builds (path, kind, hash, output, entry, created)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.Path, string(b.Kind), b.Hash, b.Output, string(entry), b.Created.Unix()); err != nil {
		return fmt.Errorf("failed to save build %s: %w", b.Path, err)
	}
	return nil
}

// GetBuild returns the build record of (path, kind).
func (s *Store) GetBuild(ctx context.Context, path string, kind domain.BuildKind) (b domain.Build, ok bool, err error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT path, kind, hash, output, entry, created FROM builds WHERE path = ? AND kind = ?`,
		path, string(kind),
	)
	b, err = scanBuild(row)
	if err == sql.ErrNoRows {
		return domain.Build{}, false, nil
	}
	if err != nil {
		return domain.Build{}, false, fmt.Errorf("failed to query build %s: %w", path, err)
	}
	return b, true, nil
}

// Builds returns the build records of path and everything under it
// sorted by path; path "" returns all of them.
func (s *Store) Builds(ctx context.Context, path string) ([]domain.Build, error) {
	where, args := treeFilter(path)
	rows, err := s.q.QueryContext(ctx,
		`SELECT path, kind, hash, output, entry, created FROM builds`+where+` ORDER BY path, kind`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer rows.Close()

	builds := []domain.Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// DeleteBuilds removes the build records of path and everything under it
// and returns them, so their output can be cleaned up.
func (s *Store) DeleteBuilds(ctx context.Context, path string) ([]domain.Build, error) {
	builds, err := s.Builds(ctx, path)
	if err != nil {
		return nil, err
	}
	where, args := treeFilter(path)
	if _, err := s.q.ExecContext(ctx, `DELETE FROM builds`+where, args...); err != nil {
		return nil, fmt.Errorf("failed to delete builds: %w", err)
	}
	return builds, nil
}

func scanBuild(row scanner) (domain.Build, error) {
	var (
		b       domain.Build
		kind    string
		entry   string
		created int64
	)
	if err := row.Scan(&b.Path, &kind, &b.Hash, &b.Output, &entry, &created); err != nil {
		return domain.Build{}, err
	}
	b.Kind = domain.BuildKind(kind)
	b.Created = time.Unix(created, 0).UTC()
	if err := json.Unmarshal([]byte(entry), &b.Entry); err != nil {
		return domain.Build{}, fmt.Errorf("decode build entry %s: %w", b.Path, err)
	}
	return b, nil
}
