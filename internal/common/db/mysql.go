package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLConfig holds the MySQL connection pool settings.
type MySQLConfig struct {
	// DSN format: "user:password@tcp(host:port)/dbname". parseTime and loc=UTC are always forced.
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
}

func (c *MySQLConfig) withDefaults() MySQLConfig {
	out := *c
	if out.MaxOpenConnections <= 0 {
		out.MaxOpenConnections = 25
	}
	if out.MaxIdleConnections <= 0 {
		out.MaxIdleConnections = 5
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 5 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 10 * time.Minute
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 5 * time.Second
	}
	return out
}

// driverConfig parses the DSN and pins the options the repositories rely on:
// DATETIME columns scan into time.Time in UTC.
func (c MySQLConfig) driverConfig() (*mysql.Config, error) {
	if c.DSN == "" {
		return nil, errors.New("mysql dsn is required")
	}
	dc, err := mysql.ParseDSN(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn failed: %w", err)
	}
	dc.ParseTime = true
	dc.Loc = time.UTC
	if dc.Timeout == 0 {
		dc.Timeout = c.DialTimeout
	}
	return dc, nil
}

// MySQL implements Database on database/sql and go-sql-driver/mysql.
type MySQL struct {
	db *sql.DB
}

// NewMySQLWithConfig opens the pool and verifies it with a ping.
func NewMySQLWithConfig(config *MySQLConfig) (*MySQL, error) {
	if config == nil {
		return nil, errors.New("mysql config is required")
	}
	cfg := config.withDefaults()
	dc, err := cfg.driverConfig()
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(dc)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector failed: %w", err)
	}
	sqlDB := sql.OpenDB(connector)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping mysql failed: %w", err)
	}
	return &MySQL{db: sqlDB}, nil
}

func (m *MySQL) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &mysqlRows{rows}, nil
}

func (m *MySQL) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return mysqlRow{m.db.QueryRowContext(ctx, query, args...)}
}

func (m *MySQL) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return result, nil
}

func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

// mysqlRows wraps scan errors; sql.Rows already satisfies the rest of Rows.
type mysqlRows struct {
	*sql.Rows
}

func (r *mysqlRows) Scan(dest ...interface{}) error {
	if err := r.Rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

type mysqlRow struct {
	row *sql.Row
}

// Scan keeps sql.ErrNoRows reachable through errors.Is.
func (r mysqlRow) Scan(dest ...interface{}) error {
	if err := r.row.Scan(dest...); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

var _ Database = (*MySQL)(nil)
