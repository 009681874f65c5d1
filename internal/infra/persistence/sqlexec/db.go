// Package sqlexec adapts a database/sql handle to the persistence Executor
// contract. The sqlite, postgres and memory backends all build on it.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"graphstore/internal/persistence/core"
)

type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// DB executes statements through a *sql.DB.
type DB struct {
	db      *sql.DB
	driver  core.Driver
	dialect core.Dialect
	closed  atomic.Bool
}

// New wraps db.
func New(db *sql.DB, driver core.Driver, dialect core.Dialect) *DB {
	return &DB{db: db, driver: driver, dialect: dialect}
}

// SQL exposes the underlying handle.
func (d *DB) SQL() *sql.DB { return d.db }

// Dialect implements core.Executor.
func (d *DB) Dialect() core.Dialect { return d.dialect }

// Driver implements core.Executor.
func (d *DB) Driver() core.Driver { return d.driver }

// Execute implements core.Executor.
func (d *DB) Execute(ctx context.Context, query string, args ...any) (core.ResultSet, error) {
	if d.closed.Load() {
		return core.ResultSet{}, core.ErrClosed
	}
	return execute(ctx, d.db, d.dialect.Rebind(query), core.IsQuery(query), args)
}

// Prepare implements core.Executor.
func (d *DB) Prepare(ctx context.Context, query string) (core.Statement, error) {
	if d.closed.Load() {
		return nil, core.ErrClosed
	}
	return prepare(ctx, d.db, d.dialect, query)
}

// InTx implements core.Executor.
func (d *DB) InTx(ctx context.Context, fn func(core.Executor) error) error {
	tx, err := d.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

// Begin implements core.Executor.
func (d *DB) Begin(ctx context.Context) (core.Tx, error) {
	if d.closed.Load() {
		return nil, core.ErrClosed
	}
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &txExecutor{tx: sqlTx, parent: d}, nil
}

// Close implements core.Executor.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

type txExecutor struct {
	tx     *sql.Tx
	parent *DB
}

func (t *txExecutor) Execute(ctx context.Context, query string, args ...any) (core.ResultSet, error) {
	return execute(ctx, t.tx, t.parent.dialect.Rebind(query), core.IsQuery(query), args)
}

func (t *txExecutor) Prepare(ctx context.Context, query string) (core.Statement, error) {
	return prepare(ctx, t.tx, t.parent.dialect, query)
}

// InTx on a transaction-scoped executor joins the open transaction.
func (t *txExecutor) InTx(_ context.Context, fn func(core.Executor) error) error { return fn(t) }

// Begin on a transaction-scoped executor joins the open transaction and
// leaves commit and rollback to its owner.
func (t *txExecutor) Begin(context.Context) (core.Tx, error) { return joinedTx{t}, nil }

func (t *txExecutor) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *txExecutor) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

func (t *txExecutor) Dialect() core.Dialect { return t.parent.dialect }
func (t *txExecutor) Driver() core.Driver   { return t.parent.driver }
func (t *txExecutor) Close() error          { return nil }

type joinedTx struct{ *txExecutor }

func (joinedTx) Commit() error   { return nil }
func (joinedTx) Rollback() error { return nil }

type statement struct {
	stmt  *sql.Stmt
	query bool
}

func prepare(ctx context.Context, c conn, dialect core.Dialect, query string) (core.Statement, error) {
	stmt, err := c.PrepareContext(ctx, dialect.Rebind(query))
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	return &statement{stmt: stmt, query: core.IsQuery(query)}, nil
}

func (s *statement) Execute(ctx context.Context, args ...any) (core.ResultSet, error) {
	if s.query {
		rows, err := s.stmt.QueryContext(ctx, args...)
		if err != nil {
			return core.ResultSet{}, err
		}
		return collect(rows)
	}
	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		return core.ResultSet{}, err
	}
	return affected(res), nil
}

func (s *statement) Close() error { return s.stmt.Close() }

func execute(ctx context.Context, c conn, query string, isQuery bool, args []any) (core.ResultSet, error) {
	if isQuery {
		rows, err := c.QueryContext(ctx, query, args...)
		if err != nil {
			return core.ResultSet{}, err
		}
		return collect(rows)
	}
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return core.ResultSet{}, err
	}
	return affected(res), nil
}

func affected(res sql.Result) core.ResultSet {
	n, err := res.RowsAffected()
	if err != nil {
		n = -1
	}
	return core.ResultSet{RowsAffected: n}
}

func collect(rows *sql.Rows) (rs core.ResultSet, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	cols, err := rows.Columns()
	if err != nil {
		return core.ResultSet{}, err
	}
	rs.Columns = cols
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return core.ResultSet{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = append([]byte(nil), b...)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return core.ResultSet{}, err
	}
	rs.RowsAffected = int64(len(rs.Rows))
	return rs, nil
}
