package sqlexec

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLiteSchema creates the objects table on SQLite.
const SQLiteSchema = `
-- one row per stored object, keyed by proxy id
CREATE TABLE IF NOT EXISTS objects (
	proxy_id INTEGER PRIMARY KEY,
	type_name TEXT NOT NULL,
	key_kind TEXT NOT NULL,
	primary_key TEXT,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS objects_type_key ON objects (type_name, primary_key);
`

// PostgresSchema creates the objects table on PostgreSQL.
const PostgresSchema = `
-- one row per stored object, keyed by proxy id
CREATE TABLE IF NOT EXISTS objects (
	proxy_id BIGINT PRIMARY KEY,
	type_name TEXT NOT NULL,
	key_kind TEXT NOT NULL,
	primary_key TEXT,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS objects_type_key ON objects (type_name, primary_key);
`

// SplitStatements splits a semicolon-terminated script into statements,
// dropping blank lines and "--" comment lines. Terminating semicolons are
// stripped.
func SplitStatements(script string) []string {
	scanner := bufio.NewScanner(strings.NewReader(script))
	var stmts []string
	var current strings.Builder
	flush := func() {
		if stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";"); stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}

// ApplySchema runs every statement of script against db in order.
func ApplySchema(ctx context.Context, db *sql.DB, script string) error {
	for _, stmt := range SplitStatements(script) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
