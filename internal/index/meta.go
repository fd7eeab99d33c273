package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Ning0612/ddb/internal/domain"
)

// AddMeta inserts a new record.
func (s *Store) AddMeta(ctx context.Context, m domain.Meta) error {
	data, err := m.Data.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode meta data: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO meta (id, path, key, data, mtime) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Path, m.Key, string(data), m.ModTime.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save meta %s: %w", m.Key, err)
	}
	return nil
}

// SetMeta replaces the record stored under (key, path). An existing
// record keeps its id; m.ID is used otherwise. The stored record is
// returned.
func (s *Store) SetMeta(ctx context.Context, m domain.Meta) (domain.Meta, error) {
	existing, err := s.GetMeta(ctx, m.Key, m.Path)
	if err != nil {
		return domain.Meta{}, err
	}
	if len(existing) == 0 {
		return m, s.AddMeta(ctx, m)
	}

	m.ID = existing[0].ID
	data, err := m.Data.MarshalJSON()
	if err != nil {
		return domain.Meta{}, fmt.Errorf("failed to encode meta data: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		`UPDATE meta SET data = ?, mtime = ? WHERE id = ?`,
		string(data), m.ModTime.Unix(), m.ID,
	); err != nil {
		return domain.Meta{}, fmt.Errorf("failed to update meta %s: %w", m.Key, err)
	}
	// singular keys never hold more than one record
	if len(existing) > 1 {
		if _, err := s.q.ExecContext(ctx,
			`DELETE FROM meta WHERE key = ? AND path = ? AND id != ?`, m.Key, m.Path, m.ID,
		); err != nil {
			return domain.Meta{}, fmt.Errorf("failed to prune meta %s: %w", m.Key, err)
		}
	}
	return m, nil
}

// GetMeta returns the records under (key, path) in insertion order.
func (s *Store) GetMeta(ctx context.Context, key, path string) ([]domain.Meta, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, key, path, data, mtime FROM meta WHERE key = ? AND path = ? ORDER BY rowid`,
		key, path,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query meta: %w", err)
	}
	defer rows.Close()

	var records []domain.Meta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		records = append(records, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meta: %w", err)
	}
	return records, nil
}

// RemoveMeta deletes the record with the given id and returns the number
// of deleted records.
func (s *Store) RemoveMeta(ctx context.Context, id string) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM meta WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to remove meta %s: %w", id, err)
	}
	return affected(res)
}

// UnsetMeta deletes every record under (key, path).
func (s *Store) UnsetMeta(ctx context.Context, key, path string) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM meta WHERE key = ? AND path = ?`, key, path)
	if err != nil {
		return 0, fmt.Errorf("failed to unset meta %s: %w", key, err)
	}
	return affected(res)
}

// ListMeta returns the distinct keys with their record counts. path ""
// counts every record of a key whatever its scope; otherwise only records
// scoped to path are listed.
func (s *Store) ListMeta(ctx context.Context, path string) ([]domain.MetaSummary, error) {
	query := `SELECT key, '', COUNT(*) FROM meta GROUP BY key ORDER BY key`
	var args []any
	if path != "" {
		query = `SELECT key, path, COUNT(*) FROM meta WHERE path = ? GROUP BY key ORDER BY key`
		args = append(args, path)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meta: %w", err)
	}
	defer rows.Close()

	summaries := []domain.MetaSummary{}
	for rows.Next() {
		var ms domain.MetaSummary
		if err := rows.Scan(&ms.Key, &ms.Path, &ms.Count); err != nil {
			return nil, fmt.Errorf("failed to scan meta summary: %w", err)
		}
		summaries = append(summaries, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meta: %w", err)
	}
	return summaries, nil
}

// MetaIDs returns every record id sorted.
func (s *Store) MetaIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM meta ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query meta ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan meta id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CatalogMeta returns every record scoped to the catalog itself, ordered
// by key then insertion.
func (s *Store) CatalogMeta(ctx context.Context) ([]domain.Meta, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, key, path, data, mtime FROM meta WHERE path = '' ORDER BY key, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query meta: %w", err)
	}
	defer rows.Close()

	var records []domain.Meta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		records = append(records, m)
	}
	return records, rows.Err()
}

func scanMeta(row scanner) (domain.Meta, error) {
	var (
		m     domain.Meta
		data  string
		mtime int64
	)
	if err := row.Scan(&m.ID, &m.Key, &m.Path, &data, &mtime); err != nil {
		return domain.Meta{}, err
	}
	if err := m.Data.UnmarshalJSON([]byte(data)); err != nil {
		return domain.Meta{}, fmt.Errorf("decode meta %s: %w", m.ID, err)
	}
	m.ModTime = time.Unix(mtime, 0).UTC()
	return m, nil
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}
