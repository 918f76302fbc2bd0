package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

// newTestStore creates an in-memory Store for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		dbPath  string
		wantErr bool
	}{
		{
			name:   "in-memory database opens successfully",
			dbPath: ":memory:",
		},
		{
			name:    "invalid path returns error",
			dbPath:  "/nonexistent/dir/test.db",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.dbPath)
			if tt.wantErr {
				if err == nil {
					s.Close()
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer s.Close()
		})
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	ctx := context.Background()

	s1, err := New(path)
	if err != nil {
		t.Fatalf("first New() error: %v", err)
	}
	if err := s1.InsertLog(ctx, &LogEntry{Timestamp: "t1", Level: "INFO", Message: "kept", Source: "api"}); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening must not re-run applied migrations or lose rows.
	s2, err := New(path)
	if err != nil {
		t.Fatalf("second New() error: %v", err)
	}
	defer s2.Close()

	var applied int
	if err := s2.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&applied); err != nil {
		t.Fatalf("count schema_version: %v", err)
	}
	if applied != len(migrations) {
		t.Errorf("applied migrations = %d, want %d", applied, len(migrations))
	}
	if n, err := s2.CountLogs(ctx, ""); err != nil || n != 1 {
		t.Errorf("CountLogs = %d, %v; want 1, nil", n, err)
	}
	if err := s2.migrate(); err != nil {
		t.Errorf("migrate() on current schema: %v", err)
	}
}

func TestTablesExist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tables := []string{"logs", "session", "schema_version"}
	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			var name string
			err := s.db.QueryRowContext(ctx,
				"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
			).Scan(&name)
			if err != nil {
				t.Fatalf("table %q not found: %v", table, err)
			}
			if name != table {
				t.Errorf("expected table %q, got %q", table, name)
			}
		})
	}
}

func TestSchemaVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var version int
	err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestInTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert := func(tx *sql.Tx, id, msg string) error {
		_, err := tx.Exec(
			`INSERT INTO logs (id, timestamp, level, message, source, received_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, "2024-01-01T00:00:00Z", "INFO", msg, "tx-test", 1000,
		)
		return err
	}

	t.Run("commit on success", func(t *testing.T) {
		err := s.InTx(ctx, func(tx *sql.Tx) error {
			return insert(tx, "tx-log", "committed")
		})
		if err != nil {
			t.Fatalf("InTx: %v", err)
		}
		n, err := s.CountLogs(ctx, "")
		if err != nil {
			t.Fatalf("CountLogs: %v", err)
		}
		if n != 1 {
			t.Errorf("CountLogs = %d, want 1", n)
		}
	})

	t.Run("rollback on error", func(t *testing.T) {
		wantErr := errors.New("test error")
		err := s.InTx(ctx, func(tx *sql.Tx) error {
			_ = insert(tx, "tx-log-rollback", "rolled back")
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Errorf("error = %v, want %v", err, wantErr)
		}
		// Entry should not exist after rollback
		n, err := s.CountLogs(ctx, "")
		if err != nil {
			t.Fatalf("CountLogs: %v", err)
		}
		if n != 1 {
			t.Errorf("after rollback: CountLogs = %d, want 1", n)
		}
	})
}
