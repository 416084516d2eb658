// Package db handles database connectivity, migrations, and data access for
// the federation core. It supports both SQLite (default, no external
// dependencies) and PostgreSQL (DATABASE_URL=postgres://...). Grounded on
// gnp-x-stegodon/db/db.go's raw-SQL-over-database/sql idiom (singleton via
// sync.Once, sqlXxx string constants) and on klppl-klistr/internal/db/db.go's
// driver-detection / placeholder-helper pattern, since the two teacher
// repos' database layers are near-identical in style.
package db

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB wraps a database connection and exposes driver-portable query helpers.
// Domain-specific CRUD lives in sibling files (actors.go, notes.go, ...).
type DB struct {
	sql    *sql.DB
	driver string
}

var (
	instance *DB
	once     sync.Once
	openErr  error
)

// Open connects to databaseURL, which may be a bare file path (sqlite), a
// "sqlite://" URL, or a "postgres://"/"postgresql://" URL.
func Open(databaseURL string) (*DB, error) {
	driver, dsn := detectDriver(databaseURL)

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		const sqliteMaxConns = 4
		conn.SetMaxOpenConns(sqliteMaxConns)
		conn.SetMaxIdleConns(sqliteMaxConns)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := conn.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}
		log.Printf("DB: sqlite database opened (max_conns=%d)", sqliteMaxConns)
	}

	return &DB{sql: conn, driver: driver}, nil
}

// Init opens the process-wide singleton database connection exactly once.
// Subsequent calls are no-ops; use GetDB to retrieve the instance.
func Init(databaseURL string) error {
	once.Do(func() {
		instance, openErr = Open(databaseURL)
	})
	return openErr
}

// GetDB returns the singleton database connection established by Init.
// Panics if Init has not been called, matching the teacher's
// db.GetDB()-before-initialize-is-a-bug invariant.
func GetDB() *DB {
	if instance == nil {
		panic("db: GetDB called before Init")
	}
	return instance
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Raw exposes the underlying *sql.DB for callers (internal/store's
// transaction machinery) that need BeginTx directly.
func (d *DB) Raw() *sql.DB {
	return d.sql
}

// Ph and PhList expose the driver placeholder helpers to internal/store,
// whose cross-table transactional inserts bind to an open *sql.Tx that
// internal/db's own CreateXxx methods (which run on *sql.DB) have no way to
// reach.
func (d *DB) Ph(n int) string           { return d.ph(n) }
func (d *DB) PhList(from, n int) string { return d.phList(from, n) }

// ph returns the nth (1-based) SQL placeholder token for the active driver:
// "?" for sqlite, "$n" for postgres.
func (d *DB) ph(n int) string {
	if d.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// phList returns a comma-joined list of n placeholders starting at position
// from (1-based), e.g. phList(1, 3) -> "?, ?, ?" or "$1, $2, $3".
func (d *DB) phList(from, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = d.ph(from + i)
	}
	return strings.Join(parts, ", ")
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}

// isUniqueViolation detects the UniqueViolation domain error distinctly from
// other storage errors per spec.md §4.2, across both drivers' error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique constraint") // postgres
}

// ErrUniqueViolation is returned by insert methods in place of the raw
// driver error when a unique-constraint conflict occurs, so callers can use
// errors.Is without string matching.
var ErrUniqueViolation = fmt.Errorf("db: unique constraint violation")

func wrapUniqueViolation(err error) error {
	if isUniqueViolation(err) {
		return ErrUniqueViolation
	}
	return err
}

// WrapUniqueViolation exposes wrapUniqueViolation to internal/store's
// transactional insert helpers.
func WrapUniqueViolation(err error) error {
	return wrapUniqueViolation(err)
}
