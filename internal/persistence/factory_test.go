package persistence

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	exec, err := Open(ctx, Options{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if exec.Driver() != DriverMemory {
		t.Fatalf("unexpected driver %s", exec.Driver())
	}
	_ = exec.Close()

	if _, err := Open(ctx, Options{Driver: "bogus"}); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestOpenFromEnvDefaultsToSQLite(t *testing.T) {
	t.Setenv("GRAPHSTORE_STORAGE_DRIVER", "")
	t.Setenv("GRAPHSTORE_SQLITE_PATH", filepath.Join(t.TempDir(), "env.db"))
	exec, err := OpenFromEnv(context.Background())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = exec.Close() }()
	if exec.Driver() != DriverSQLite {
		t.Fatalf("expected sqlite default, got %s", exec.Driver())
	}
}
