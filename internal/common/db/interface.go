package db

import (
	"context"
)

// Database is the connection pool handle shared by repositories.
// Writes are single statements guarded in their WHERE clause.
type Database interface {
	Querier
	Ping(ctx context.Context) error
	Close() error
}

// Rows iterates over a multi-row result.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
