// Package sqlite provides the embedded SQLite backend built on the pure Go
// modernc driver. The objects table is created on open.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"graphstore/internal/infra/persistence/sqlexec"
	"graphstore/internal/persistence/core"
)

const defaultPath = "graphstore.db"

// Dialect is the SQLite statement dialect.
var Dialect = core.Dialect{Name: "sqlite"}

// Store executes statements against a single SQLite file.
type Store struct {
	*sqlexec.DB
	path string
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if err := sqlexec.ApplySchema(ctx, db, sqlexec.SQLiteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: sqlexec.New(db, core.DriverSQLite, Dialect), path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
