// Package index persists a catalog in the sqlite database kept under the
// catalog marker directory.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the database file inside the marker directory.
const FileName = "dbase.sqlite"

const schemaVersion = 1

// ErrNoIndex is returned by Open when the database file does not exist.
var ErrNoIndex = errors.New("index does not exist")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store holds the queries. It runs either directly on the database or
// inside a transaction.
type Store struct {
	q querier
}

// Index is an open catalog database.
type Index struct {
	Store
	db   *sql.DB
	path string
}

// Tx is a write transaction.
type Tx struct {
	Store
	tx *sql.Tx
}

// Create creates the database in dir. dir must exist.
func Create(dir string) (*Index, error) {
	if dir == "" {
		return nil, fmt.Errorf("index directory cannot be empty")
	}
	dbPath := filepath.Join(dir, FileName)
	if _, err := os.Stat(dbPath); err == nil {
		return nil, fmt.Errorf("index already exists: %s", dbPath)
	}
	return open(dbPath)
}

// Open opens the existing database in dir.
func Open(dir string) (*Index, error) {
	dbPath := filepath.Join(dir, FileName)
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoIndex, dbPath)
		}
		return nil, fmt.Errorf("failed to stat index: %w", err)
	}
	return open(dbPath)
}

func open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	idx := &Index{Store: Store{q: db}, db: db, path: dbPath}

	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return idx, nil
}

// initSchema creates the database schema
func (i *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL DEFAULT '',
		type INTEGER NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}',
		mtime INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		depth INTEGER NOT NULL DEFAULT 0,
		point_geom TEXT,
		polygon_geom TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entries_depth ON entries(depth);

	CREATE TABLE IF NOT EXISTS meta (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL DEFAULT '',
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		mtime INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_meta_key_path ON meta(key, path);

	CREATE TABLE IF NOT EXISTS attributes (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS passwords (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS builds (
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		hash TEXT NOT NULL,
		output TEXT NOT NULL,
		entry TEXT NOT NULL,
		created INTEGER NOT NULL,
		PRIMARY KEY (path, kind)
	);
	`

	if _, err := i.db.Exec(schema); err != nil {
		return err
	}
	_, err := i.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Path returns the database file path.
func (i *Index) Path() string {
	return i.path
}

// Update runs fn in a transaction, committing when fn returns nil.
func (i *Index) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{Store: Store{q: sqlTx}, tx: sqlTx}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (i *Index) Close() error {
	if i.db != nil {
		return i.db.Close()
	}
	return nil
}
