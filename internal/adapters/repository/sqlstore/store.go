// Package sqlstore implements the entity gateway on database/sql for SQLite and Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // register the pure-Go sqlite driver

	"github.com/okian/maap/internal/adapters/repository"
)

// Store persists live records in a SQL database.
type Store struct {
	db      *sql.DB
	dialect dialect

	maxOpenConns  int
	busyTimeoutMs int
	autoMigrate   bool
}

var _ repository.Store = (*Store)(nil)

// Open connects to the database and applies pending migrations.
// For sqlite, dsn is a file path or a complete file: URI.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		maxOpenConns:  10,
		busyTimeoutMs: 5000,
		autoMigrate:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	switch strings.ToLower(driver) {
	case DriverSQLite:
		s.dialect = sqliteDialect
		if dsn == ":memory:" {
			// Every connection would otherwise open its own empty database.
			s.maxOpenConns = 1
		}
		dsn = s.sqliteDSN(dsn)
	case DriverPostgres:
		s.dialect = postgresDialect
	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(s.dialect.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", s.dialect.name, err)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", s.dialect.name, err)
	}
	s.db = db

	if s.autoMigrate {
		if _, err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// sqliteDSN enables WAL, waits on locks and starts write transactions
// immediately so concurrent writers queue instead of failing on upgrade.
func (s *Store) sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate", path, s.busyTimeoutMs)
}

// Driver implements repository.Store.
func (s *Store) Driver() string { return s.dialect.name }

// DB exposes the underlying pool for maintenance commands and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// View runs fn with reads issued directly on the pool.
func (s *Store) View(ctx context.Context, fn func(r repository.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&conn{q: s.db, d: s.dialect})
}

// RunInTransaction runs fn inside one database transaction and commits when it returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&tx{conn: conn{q: sqlTx, d: s.dialect}}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}
