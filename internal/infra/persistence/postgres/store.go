// Package postgres provides the PostgreSQL SQL backend. It opens the server
// through the pgx database/sql driver and ensures the objects table exists.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"graphstore/internal/infra/persistence/sqlexec"
	"graphstore/internal/persistence/core"
)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with the storage factory defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/graphstore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the PostgreSQL statement dialect.
var Dialect = core.Dialect{Name: "postgres", Numbered: true}

// Store executes statements against PostgreSQL.
type Store struct {
	*sqlexec.DB
	dsn string
}

// NewStore opens a Postgres-backed executor using the provided DSN (falls back to defaultDSN)
// and ensures the objects table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlexec.ApplySchema(ctx, db, sqlexec.PostgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: sqlexec.New(db, core.DriverPostgres, Dialect), dsn: dsn}, nil
}

// DSN returns the connection string the store was opened with.
func (s *Store) DSN() string { return s.dsn }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
