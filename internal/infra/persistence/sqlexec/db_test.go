package sqlexec

import (
	"strings"
	"testing"

	"graphstore/internal/persistence/core"
)

func TestDialectRebind(t *testing.T) {
	pg := core.Dialect{Name: "postgres", Numbered: true}
	got := pg.Rebind("SELECT a FROM t WHERE b = ? AND c = '?' AND d = ?")
	want := "SELECT a FROM t WHERE b = $1 AND c = '?' AND d = $2"
	if got != want {
		t.Fatalf("rebind mismatch:\nwant %s\ngot  %s", want, got)
	}
	lite := core.Dialect{Name: "sqlite"}
	if q := lite.Rebind("SELECT ?"); q != "SELECT ?" {
		t.Fatalf("sqlite rebind changed query: %s", q)
	}
}

func TestIsQuery(t *testing.T) {
	cases := map[string]bool{
		"  select 1":                                 true,
		"WITH x AS (SELECT 1) SELECT * FROM x":       true,
		"DELETE FROM objects WHERE proxy_id = ? ":    false,
		"INSERT INTO t (a) VALUES (?) RETURNING a":   true,
		"CREATE TABLE IF NOT EXISTS objects (a INT)": false,
	}
	for q, want := range cases {
		if got := core.IsQuery(q); got != want {
			t.Fatalf("IsQuery(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	for name, script := range map[string]string{"sqlite": SQLiteSchema, "postgres": PostgresSchema} {
		stmts := SplitStatements(script)
		if len(stmts) != 2 {
			t.Fatalf("%s: expected 2 statements, got %d: %q", name, len(stmts), stmts)
		}
		for _, stmt := range stmts {
			if strings.HasPrefix(stmt, "--") || strings.HasSuffix(stmt, ";") {
				t.Fatalf("%s: statement not cleaned: %q", name, stmt)
			}
		}
		if !strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS objects") {
			t.Fatalf("%s: unexpected first statement %q", name, stmts[0])
		}
	}
	if got := SplitStatements("SELECT 1"); len(got) != 1 || got[0] != "SELECT 1" {
		t.Fatalf("unterminated tail lost: %q", got)
	}
}
