// Package store persists received log entries and session tokens in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors for store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Store provides the data access layer over SQLite.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath, applies the connection pragmas
// and brings the schema up to date.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection keeps per-connection PRAGMAs in effect and serializes
	// writers.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: exec %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InTx runs fn in a transaction, committing when fn returns nil and rolling
// back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -16000",
	"PRAGMA temp_store = MEMORY",
}

// migration is one schema step. Steps are numbered by their position in
// migrations, starting at 1.
type migration struct {
	name  string
	stmts []string
}

var migrations = []migration{
	{
		// The natural key collapses re-delivered entries into one row.
		name: "create logs",
		stmts: []string{
			`CREATE TABLE logs (
				id          TEXT PRIMARY KEY,
				timestamp   TEXT NOT NULL,
				level       TEXT NOT NULL,
				message     TEXT NOT NULL,
				source      TEXT NOT NULL,
				received_at INTEGER NOT NULL,
				UNIQUE (timestamp, level, message, source)
			)`,
			`CREATE INDEX idx_logs_level_timestamp ON logs (level, timestamp)`,
			`CREATE INDEX idx_logs_timestamp ON logs (timestamp)`,
		},
	},
	{
		name: "create session",
		stmts: []string{
			`CREATE TABLE session (
				server     TEXT PRIMARY KEY,
				username   TEXT NOT NULL,
				token      TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		},
	},
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (s *Store) migrate() error {
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	err = s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version, m := i+1, migrations[i]
		err := s.InTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
				version, time.Now().Unix())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", version, m.name, err)
		}
	}
	return nil
}

// isUniqueConstraintError returns true if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
