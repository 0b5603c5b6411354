// Package testutil provides a stub database/sql driver for SQL store tests.
// It understands the small statement vocabulary the stores emit: CREATE
// TABLE, INSERT, UPDATE with a single SET column, DELETE and SELECT, each
// with an optional AND-joined equality WHERE clause.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StubConn records statements and keeps rows in memory. A transaction takes
// a copy of the tables that Rollback restores.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailPing   int
	Pings      int
	FailBegin  bool
	FailCommit bool
	RowsErr    error
	FailTables map[string]bool

	saved map[string][]map[string]any
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows currently held for table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		out = append(out, copyRow(row))
	}
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger. The first FailPing pings fail.
func (c *StubConn) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pings++
	if c.Pings <= c.FailPing {
		return fmt.Errorf("ping fail %d", c.Pings)
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.saved = copyTables(c.Tables)
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	if c.Tables == nil {
		c.Tables = make(map[string][]map[string]any)
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO"):
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
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE"):
		table, set, where, err := parseUpdate(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		value, err := set.bind(args)
		if err != nil {
			return nil, err
		}
		var n int64
		for _, row := range c.Tables[table] {
			ok, err := where.match(row, args)
			if err != nil {
				return nil, err
			}
			if ok {
				row[set.column] = value
				n++
			}
		}
		return driver.RowsAffected(n), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		table, where, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		var kept []map[string]any
		var n int64
		for _, row := range c.Tables[table] {
			ok, err := where.match(row, args)
			if err != nil {
				return nil, err
			}
			if ok {
				n++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[table] = kept
		return driver.RowsAffected(n), nil
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, cols, where, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	values := make([][]driver.Value, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		ok, err := where.match(row, args)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.saved = nil
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.saved != nil {
		t.conn.Tables = t.conn.saved
		t.conn.saved = nil
	}
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
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

// param is a bind placeholder: "$n" or a positional "?".
type param struct {
	column string
	index  int
}

func (p param) bind(args []driver.NamedValue) (any, error) {
	if p.index < 0 || p.index >= len(args) {
		return nil, fmt.Errorf("missing arg %d for %s", p.index+1, p.column)
	}
	return args[p.index].Value, nil
}

type predicate []param

func (w predicate) match(row map[string]any, args []driver.NamedValue) (bool, error) {
	for _, p := range w {
		want, err := p.bind(args)
		if err != nil {
			return false, err
		}
		if !equalValues(row[p.column], want) {
			return false, nil
		}
	}
	return true, nil
}

func equalValues(a, b any) bool {
	ab, aBytes := a.([]byte)
	bb, bBytes := b.([]byte)
	switch {
	case aBytes && bBytes:
		return string(ab) == string(bb)
	case aBytes:
		return string(ab) == fmt.Sprint(b)
	case bBytes:
		return fmt.Sprint(a) == string(bb)
	}
	return a == b
}

// placeholders numbers "?" positions left to right, continuing from next.
type placeholders struct{ next int }

func (p *placeholders) parse(column, token string) (param, error) {
	token = strings.TrimSpace(token)
	switch {
	case token == "?":
		idx := p.next
		p.next++
		return param{column: column, index: idx}, nil
	case strings.HasPrefix(token, "$"):
		n, err := strconv.Atoi(token[1:])
		if err != nil {
			return param{}, fmt.Errorf("bad placeholder %q", token)
		}
		return param{column: column, index: n - 1}, nil
	}
	return param{}, fmt.Errorf("unsupported literal %q", token)
}

func parseWhere(clause string, ph *placeholders) (predicate, error) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return nil, nil
	}
	var out predicate
	for _, part := range splitFold(clause, " and ") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("cannot parse predicate: %s", part)
		}
		p, err := ph.parse(strings.ToLower(strings.TrimSpace(kv[0])), kv[1])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// splitFold splits s around every case-insensitive occurrence of sep.
func splitFold(s, sep string) []string {
	var out []string
	lower := strings.ToLower(s)
	for {
		idx := strings.Index(lower, sep)
		if idx == -1 {
			return append(out, s)
		}
		out = append(out, s[:idx])
		s = s[idx+len(sep):]
		lower = lower[idx+len(sep):]
	}
}

func cutWhere(rest string) (string, string) {
	lower := strings.ToLower(rest)
	idx := strings.Index(lower, " where ")
	if idx == -1 {
		return strings.TrimSpace(rest), ""
	}
	return strings.TrimSpace(rest[:idx]), rest[idx+len(" where "):]
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
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

func parseUpdate(query string) (string, param, predicate, error) {
	rest := strings.TrimSpace(query)[len("update "):]
	setIdx := strings.Index(strings.ToLower(rest), " set ")
	if setIdx == -1 {
		return "", param{}, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:setIdx]))
	assignment, whereClause := cutWhere(rest[setIdx+len(" set "):])
	kv := strings.SplitN(assignment, "=", 2)
	if len(kv) != 2 {
		return "", param{}, nil, fmt.Errorf("cannot parse assignment: %s", query)
	}
	ph := &placeholders{}
	set, err := ph.parse(strings.ToLower(strings.TrimSpace(kv[0])), kv[1])
	if err != nil {
		return "", param{}, nil, err
	}
	where, err := parseWhere(whereClause, ph)
	if err != nil {
		return "", param{}, nil, err
	}
	return table, set, where, nil
}

func parseDelete(query string) (string, predicate, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	prefix := "delete from "
	if !strings.HasPrefix(lower, prefix) {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	table, whereClause := cutWhere(strings.TrimSpace(query)[len(prefix):])
	where, err := parseWhere(whereClause, &placeholders{})
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(table), where, nil
}

func parseSelect(query string) (string, []string, predicate, error) {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select ") {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := splitColumns(trimmed[len("select "):fromIdx])
	table, whereClause := cutWhere(trimmed[fromIdx+len(" from "):])
	if table == "" {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	where, err := parseWhere(whereClause, &placeholders{})
	if err != nil {
		return "", nil, nil, err
	}
	return strings.ToLower(strings.Fields(table)[0]), cols, where, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func copyTables(tables map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(tables))
	for name, rows := range tables {
		copied := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			copied = append(copied, copyRow(row))
		}
		out[name] = copied
	}
	return out
}
