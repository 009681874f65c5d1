package persistence

import (
	"context"
	"fmt"
	"os"

	"graphstore/internal/infra/persistence/memory"
	"graphstore/internal/infra/persistence/postgres"
	"graphstore/internal/infra/persistence/sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
}

// Open constructs the executor named by opts.Driver (default sqlite).
func Open(ctx context.Context, opts Options) (Executor, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, opts.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenFromEnv selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	GRAPHSTORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	GRAPHSTORE_SQLITE_PATH: path to sqlite file (default ./graphstore.db)
//	GRAPHSTORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenFromEnv(ctx context.Context) (Executor, error) {
	return Open(ctx, Options{
		Driver:      Driver(os.Getenv("GRAPHSTORE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("GRAPHSTORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("GRAPHSTORE_POSTGRES_DSN"),
	})
}
