// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory database/sql driver, named "fakedb",
// replaying canned rows and recording executed statements.
package fakedb // import "github.com/go-lpc/uartfix/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"

	"golang.org/x/xerrors"
)

var db struct {
	mu     sync.Mutex
	rows   Rows
	execs  []Exec
	lastID int64
	fail   *failure
	txs    []string
}

// Exec is a statement executed through the driver.
type Exec struct {
	Query string
	Args  []driver.Value
}

// Run runs f with rows as the result of the queries f issues.
// Statements executed by f are recorded and can be retrieved with Execs
// from within f.
// Calls to Run are serialized.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rows = rows
	db.execs = nil
	db.lastID = 0
	db.fail = nil
	db.txs = nil

	return f(ctx)
}

// Execs returns the statements executed since the start of the current Run.
func Execs() []Exec { return append([]Exec(nil), db.execs...) }

// Txs returns the outcome of the transactions of the current Run:
// "commit" or "rollback".
func Txs() []string { return append([]string(nil), db.txs...) }

// FailAfter makes the statement executed after n successful ones fail
// with err.
func FailAfter(n int, err error) {
	db.fail = &failure{n: n, err: err}
}

type failure struct {
	n   int
	err error
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

func (c *Conn) Close() error { return nil }

func (c *Conn) Begin() (driver.Tx, error) {
	return &Tx{}, nil
}

type Tx struct{}

func (tx *Tx) Commit() error {
	db.txs = append(db.txs, "commit")
	return nil
}

func (tx *Tx) Rollback() error {
	db.txs = append(db.txs, "rollback")
	return nil
}

type Stmt struct {
	query string
}

func (stmt *Stmt) Close() error { return nil }

// NumInput returns -1: the driver does not sanity check arguments.
func (stmt *Stmt) NumInput() int { return -1 }

func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	if f := db.fail; f != nil && f.n == len(db.execs) {
		return nil, xerrors.Errorf("fakedb: could not exec %q: %w", stmt.query, f.err)
	}
	db.execs = append(db.execs, Exec{
		Query: stmt.query,
		Args:  append([]driver.Value(nil), args...),
	})
	db.lastID++
	return result{id: db.lastID}, nil
}

func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return &db.rows, nil
}

type result struct {
	id int64
}

func (res result) LastInsertId() (int64, error) { return res.id, nil }
func (res result) RowsAffected() (int64, error) { return 1, nil }

// Rows are canned query results.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string {
	return rows.Names
}

func (rows *Rows) Close() error {
	return nil
}

func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Tx     = (*Tx)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Result = (*result)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
