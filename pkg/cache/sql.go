package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
)

// SQLDialect selects query syntax for SQLAdapter.
type SQLDialect int

const (
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite SQLDialect = iota
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL
	// DialectMySQL uses MySQL syntax (? placeholders).
	DialectMySQL
)

// ParseDialect maps a driver or dialect name to a SQLDialect.
func ParseDialect(name string) (SQLDialect, error) {
	switch name {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgreSQL, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return 0, fmt.Errorf("cache: unknown sql dialect %q", name)
	}
}

// SQLAdapter stores cache entries in a SQL table. It works with any
// database/sql driver. The table schema is:
//
//	CREATE TABLE katai_cache (
//	    cache_key VARCHAR(255) PRIMARY KEY,
//	    data      BLOB NOT NULL,
//	    updated_at TIMESTAMP NOT NULL
//	);
//
// EnsureSchema creates it if missing.
type SQLAdapter struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect
	closed    atomic.Bool
}

// SQLOption configures SQLAdapter.
type SQLOption func(*sqlConfig)

type sqlConfig struct {
	tableName string
	dialect   SQLDialect
}

// WithSQLTableName sets the table name.
// Default: "katai_cache".
func WithSQLTableName(name string) SQLOption {
	return func(c *sqlConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect.
// Default: DialectSQLite.
func WithSQLDialect(dialect SQLDialect) SQLOption {
	return func(c *sqlConfig) {
		c.dialect = dialect
	}
}

// NewSQLAdapter creates an adapter over db. The caller owns db.
func NewSQLAdapter(db *sql.DB, opts ...SQLOption) *SQLAdapter {
	cfg := &sqlConfig{
		tableName: "katai_cache",
		dialect:   DialectSQLite,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &SQLAdapter{
		db:        db,
		tableName: cfg.tableName,
		dialect:   cfg.dialect,
	}
}

func (s *SQLAdapter) placeholder(n int) string {
	if s.dialect == DialectPostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// EnsureSchema creates the cache table if it does not exist.
func (s *SQLAdapter) EnsureSchema(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				cache_key VARCHAR(255) PRIMARY KEY,
				data BYTEA NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				cache_key VARCHAR(255) PRIMARY KEY,
				data LONGBLOB NOT NULL,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`, s.tableName)
	default:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				cache_key TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				updated_at TIMESTAMP NOT NULL DEFAULT (datetime('now'))
			)
		`, s.tableName)
	}
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLAdapter) Read(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrAdapterClosed
	}
	query := fmt.Sprintf(`SELECT data FROM %s WHERE cache_key = %s`, s.tableName, s.placeholder(1))

	var data []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *SQLAdapter) Write(ctx context.Context, key string, data []byte) error {
	if s.closed.Load() {
		return ErrAdapterClosed
	}

	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (cache_key, data, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (cache_key) DO UPDATE SET
				data = EXCLUDED.data,
				updated_at = NOW()
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (cache_key, data, updated_at)
			VALUES (?, ?, NOW())
			ON DUPLICATE KEY UPDATE
				data = VALUES(data),
				updated_at = NOW()
		`, s.tableName)
	default:
		query = fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (cache_key, data, updated_at)
			VALUES (?, ?, datetime('now'))
		`, s.tableName)
	}

	_, err := s.db.ExecContext(ctx, query, key, data)
	return err
}

func (s *SQLAdapter) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrAdapterClosed
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE cache_key = %s`, s.tableName, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

// Close marks the adapter closed. The database handle is left open.
func (s *SQLAdapter) Close() error {
	s.closed.Store(true)
	return nil
}
