package persistence

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyPersistencePackageImportsInfra ensures that only the persistence
// package wraps the SQL backends. Other packages must depend on the Executor
// contract instead of importing infra packages directly.
func TestOnlyPersistencePackageImportsInfra(t *testing.T) {
	infraPrefix := "graphstore/internal/infra/persistence"
	allowedPrefix := "graphstore/internal/persistence"

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "graphstore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if strings.HasPrefix(pkg.PkgPath, allowedPrefix) || strings.HasPrefix(pkg.PkgPath, infraPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if importPath == infraPrefix || strings.HasPrefix(importPath, infraPrefix+"/") {
				seen[filepath.Join(pkg.PkgPath, "...")+": "+importPath] = struct{}{}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden import of infra persistence package: %s", v)
		}
		t.Fatalf("found %d forbidden imports of infra persistence packages", len(violations))
	}
}
