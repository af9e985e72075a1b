// Package dbtest provides an in-memory db.Database driven by per-statement handlers.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"

	"codejudge/internal/common/db"
)

// ExecFunc handles a statement and returns the number of affected rows.
type ExecFunc func(args []interface{}) (int64, error)

// RowFunc returns the column values of a single row, or sql.ErrNoRows.
type RowFunc func(args []interface{}) ([]interface{}, error)

// RowsFunc returns the column values of every row.
type RowsFunc func(args []interface{}) ([][]interface{}, error)

// Fake routes queries by their exact SQL text. Handlers run under one mutex,
// so a handler sees a consistent view of whatever state the test keeps.
// A statement issued with an ended context is recorded and fails with ctx.Err().
type Fake struct {
	mu    sync.Mutex
	execs map[string]ExecFunc
	rows  map[string]RowFunc
	multi map[string]RowsFunc
	calls []string

	PingErr error
}

func New() *Fake {
	return &Fake{
		execs: make(map[string]ExecFunc),
		rows:  make(map[string]RowFunc),
		multi: make(map[string]RowsFunc),
	}
}

func (f *Fake) OnExec(query string, fn ExecFunc) *Fake {
	f.execs[query] = fn
	return f
}

func (f *Fake) OnQueryRow(query string, fn RowFunc) *Fake {
	f.rows[query] = fn
	return f
}

func (f *Fake) OnQuery(query string, fn RowsFunc) *Fake {
	f.multi[query] = fn
	return f
}

// Calls returns every statement executed so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CountCalls returns how often query was issued.
func (f *Fake) CountCalls(query string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == query {
			n++
		}
	}
	return n
}

func (f *Fake) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fn, ok := f.execs[query]
	if !ok {
		return nil, fmt.Errorf("dbtest: unexpected exec %q", query)
	}
	n, err := fn(args)
	if err != nil {
		return nil, err
	}
	return result(n), nil
}

func (f *Fake) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, query)
	if err := ctx.Err(); err != nil {
		return row{err: err}
	}
	fn, ok := f.rows[query]
	if !ok {
		return row{err: fmt.Errorf("dbtest: unexpected query row %q", query)}
	}
	values, err := fn(args)
	return row{values: values, err: err}
}

func (f *Fake) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fn, ok := f.multi[query]
	if !ok {
		return nil, fmt.Errorf("dbtest: unexpected query %q", query)
	}
	values, err := fn(args)
	if err != nil {
		return nil, err
	}
	return &rows{values: values, pos: -1}, nil
}

// PingErr is returned by Ping when set.
func (f *Fake) Ping(context.Context) error { return f.PingErr }
func (f *Fake) Close() error               { return nil }

type result int64

func (r result) LastInsertId() (int64, error) { return 0, nil }
func (r result) RowsAffected() (int64, error) { return int64(r), nil }

type row struct {
	values []interface{}
	err    error
}

func (r row) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type rows struct {
	values [][]interface{}
	pos    int
}

func (r *rows) Next() bool {
	r.pos++
	return r.pos < len(r.values)
}

func (r *rows) Scan(dest ...interface{}) error {
	if r.pos < 0 || r.pos >= len(r.values) {
		return fmt.Errorf("dbtest: scan outside result set")
	}
	return assign(dest, r.values[r.pos])
}

func (r *rows) Close() error { return nil }
func (r *rows) Err() error   { return nil }

func assign(dest []interface{}, values []interface{}) error {
	if len(dest) != len(values) {
		return fmt.Errorf("dbtest: scan %d columns into %d destinations", len(values), len(dest))
	}
	for i, d := range dest {
		if scanner, ok := d.(sql.Scanner); ok {
			if err := scanner.Scan(values[i]); err != nil {
				return fmt.Errorf("dbtest: column %d: %w", i, err)
			}
			continue
		}
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("dbtest: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if values[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().ConvertibleTo(elem.Type()) {
			return fmt.Errorf("dbtest: column %d: cannot assign %T to %s", i, values[i], elem.Type())
		}
		elem.Set(v.Convert(elem.Type()))
	}
	return nil
}

var _ db.Database = (*Fake)(nil)
