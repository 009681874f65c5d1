// Package core defines the SQL execution contract shared by the persistence
// layer and its database backends.
package core

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Driver identifies a concrete SQL backend implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory emulation (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// ObjectsTable is the generic table every persisted object lives in.
const ObjectsTable = "objects"

// ObjectColumns lists the objects table columns in statement order. The
// first column is the conflict target for upserts.
var ObjectColumns = []string{"proxy_id", "type_name", "key_kind", "primary_key", "payload"}

// ResultSet is the outcome of one executed statement. Queries fill Columns
// and Rows; other statements only report RowsAffected.
type ResultSet struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// Len returns the number of returned rows.
func (r ResultSet) Len() int { return len(r.Rows) }

// Statement is a prepared statement bound to one executor.
type Statement interface {
	Execute(ctx context.Context, args ...any) (ResultSet, error)
	Close() error
}

// Executor runs SQL text against a backend. Queries are written with `?`
// placeholders; executors rebind them for their dialect.
type Executor interface {
	Execute(ctx context.Context, query string, args ...any) (ResultSet, error)
	Prepare(ctx context.Context, query string) (Statement, error)
	// InTx runs fn against an executor scoped to one database transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Executor) error) error
	// Begin opens a database transaction that stays open until the caller
	// commits or rolls it back.
	Begin(ctx context.Context) (Tx, error)
	Dialect() Dialect
	Driver() Driver
	Close() error
}

// Tx is an open database transaction. Statements run through it until
// Commit or Rollback; Rollback after Commit is a no-op.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// Numbered selects $1, $2 placeholders instead of ?.
	Numbered bool
}

// Rebind rewrites ? placeholders for the dialect. Question marks inside
// single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsQuery reports whether query returns rows.
func IsQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH") || strings.Contains(q, " RETURNING ")
}

// ErrClosed is returned by executors used after Close.
var ErrClosed = errors.New("persistence: executor closed")
