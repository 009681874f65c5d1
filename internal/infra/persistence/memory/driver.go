package memory

import (
	"cmp"
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Conn is a database/sql driver connection that keeps tables in memory. It
// understands the narrow statement shapes the persistence layer issues:
// CREATE TABLE, INSERT with optional ON CONFLICT upsert on the first column,
// DELETE and SELECT with an optional single equality predicate and ORDER BY.
type Conn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	RowsErr    error
	snapshot   map[string][]map[string]any
}

type memDriver struct {
	conn *Conn
}

func (d *memDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Statements returns a copy of the recorded statement texts.
func (c *Conn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.Execs)
}

// Rows returns a copy of the rows of table.
func (c *Conn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		out = append(out, maps.Clone(row))
	}
	return out
}

// Prepare implements driver.Conn.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &stmt{conn: c, query: query}, nil
}

// Close implements driver.Conn.
func (c *Conn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *Conn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx. Rollback restores the tables as
// they were at begin.
func (c *Conn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.snapshot = cloneTables(c.Tables)
	return &memTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	head := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(head, "CREATE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(head, "TRUNCATE TABLE"):
		table := strings.ToLower(strings.Fields(strings.TrimSpace(query))[2])
		delete(c.Tables, table)
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(head, "INSERT INTO"):
		return c.insert(query, args)
	case strings.HasPrefix(head, "DELETE FROM"):
		return c.delete(query, args)
	}
	return nil, fmt.Errorf("memory: unsupported statement: %s", query)
}

func (c *Conn) insert(query string, args []driver.NamedValue) (driver.Result, error) {
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	primary := cols[0]
	for i, existing := range c.Tables[table] {
		if existing[primary] != row[primary] {
			continue
		}
		if !strings.Contains(strings.ToUpper(query), "ON CONFLICT") {
			return nil, fmt.Errorf("duplicate key %v in %s", row[primary], table)
		}
		c.Tables[table][i] = row
		return driver.RowsAffected(1), nil
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

func (c *Conn) delete(query string, args []driver.NamedValue) (driver.Result, error) {
	table, col, err := parseDelete(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("missing args for delete %s", table)
	}
	target := args[0].Value
	before := len(c.Tables[table])
	c.Tables[table] = slices.DeleteFunc(c.Tables[table], func(row map[string]any) bool {
		return row[col] == target
	})
	return driver.RowsAffected(int64(before - len(c.Tables[table]))), nil
}

// QueryContext implements driver.QueryerContext.
func (c *Conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	table, cols, where, order, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	if where != "" && len(args) == 0 {
		return nil, fmt.Errorf("missing args for select %s", table)
	}
	matched := slices.Clone(c.Tables[table])
	if order != "" {
		slices.SortStableFunc(matched, func(a, b map[string]any) int { return compareValues(a[order], b[order]) })
	}
	values := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		if where != "" && row[where] != args[0].Value {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &memRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type memTx struct {
	conn *Conn
}

func (t *memTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.FailCommit {
		t.conn.Tables = t.conn.snapshot
		t.conn.snapshot = nil
		return fmt.Errorf("commit fail")
	}
	t.conn.snapshot = nil
	return nil
}

func (t *memTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.snapshot != nil {
		t.conn.Tables = t.conn.snapshot
		t.conn.snapshot = nil
	}
	return nil
}

type stmt struct {
	conn  *Conn
	query string
}

func (s *stmt) Close() error  { return nil }
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.conn.ExecContext(context.Background(), s.query, named(args))
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.conn.QueryContext(context.Background(), s.query, named(args))
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

type memRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *memRows) Columns() []string { return r.cols }
func (r *memRows) Close() error      { return nil }

func (r *memRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func cloneTables(in map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(in))
	for table, rows := range in {
		cp := make([]map[string]any, len(rows))
		for i, row := range rows {
			cp[i] = maps.Clone(row)
		}
		out[table] = cp
	}
	return out
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	cols := splitColumns(rest[open+1 : closeIdx])
	if len(cols) == 0 || cols[0] == "" {
		return "", nil, fmt.Errorf("cannot parse insert columns: %s", query)
	}
	return table, cols, nil
}

func parseDelete(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	prefix := "delete from "
	whereToken := " where "
	if !strings.HasPrefix(lower, prefix) {
		return "", "", fmt.Errorf("cannot parse delete: %s", query)
	}
	rest := strings.TrimSpace(trimmed[len(prefix):])
	whereIdx := strings.Index(strings.ToLower(rest), whereToken)
	if whereIdx == -1 {
		return "", "", fmt.Errorf("cannot parse delete: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:whereIdx]))
	col, err := predicateColumn(rest[whereIdx+len(whereToken):])
	if err != nil {
		return "", "", fmt.Errorf("cannot parse delete predicate: %s", query)
	}
	return table, col, nil
}

func parseSelect(query string) (table string, cols []string, where, order string, err error) {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return "", nil, "", "", fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return "", nil, "", "", fmt.Errorf("cannot parse select: %s", query)
	}
	rest := strings.Fields(trimmed[fromIdx+len(fromToken):])
	if len(rest) == 0 {
		return "", nil, "", "", fmt.Errorf("cannot parse select: %s", query)
	}
	tail := strings.Join(rest[1:], " ")
	if idx := strings.Index(strings.ToLower(tail), "order by "); idx != -1 {
		order = strings.ToLower(strings.TrimSpace(tail[idx+len("order by "):]))
		tail = tail[:idx]
	}
	if idx := strings.Index(strings.ToLower(tail), "where "); idx != -1 {
		where, err = predicateColumn(tail[idx+len("where "):])
		if err != nil {
			return "", nil, "", "", fmt.Errorf("cannot parse select predicate: %s", query)
		}
	}
	return strings.ToLower(rest[0]), splitColumns(trimmed[len(selectPrefix):fromIdx]), where, order, nil
}

// compareValues orders int64 and string column values; other types compare
// equal.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	return 0
}

func predicateColumn(where string) (string, error) {
	parts := strings.SplitN(where, "=", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("unsupported predicate %q", where)
	}
	return strings.ToLower(strings.TrimSpace(parts[0])), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
