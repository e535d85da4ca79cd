package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrSchema reports that the local store could not be opened or provisioned.
var ErrSchema = errors.New("local store unavailable")

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite cache of the remote Fever account.
//
// The pool is limited to a single connection so every reader and writer is
// serialized; a view rebuild is never observed half done.
type DB struct {
	conn *sqlx.DB
	path string
}

// Open creates or opens a SQLite database at the given path, provisions the
// base tables and compiles the logical views.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %w", ErrSchema, err)
	}

	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", ErrSchema, err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: setting journal mode: %w", ErrSchema, err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: setting busy timeout: %w", ErrSchema, err)
	}

	if err := migrate(conn.DB); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: migrating schema: %w", ErrSchema, err)
	}

	db := &DB{conn: conn, path: dbPath}
	if err := db.RebuildViews(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: compiling views: %w", ErrSchema, err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
