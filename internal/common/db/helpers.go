package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

// Querier runs statements against the pool.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsDuplicate reports whether err is a MySQL duplicate key error.
func IsDuplicate(err error) bool {
	_, ok := UniqueViolation(err)
	return ok
}

// UniqueViolation returns the violated key name of a MySQL duplicate key error.
func UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != mysqlDuplicateEntry {
		return "", false
	}
	const marker = "for key "
	idx := strings.LastIndex(myErr.Message, marker)
	if idx == -1 {
		return "", true
	}
	return strings.Trim(myErr.Message[idx+len(marker):], " `\"'"), true
}

// ExecAffected runs a write and returns the number of rows it changed.
// Guarded updates use it to tell a lost race from a successful write.
func ExecAffected(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error) {
	result, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
