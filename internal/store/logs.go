package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
)

// LogEntry is one stored log line. Timestamp, Level, Message and Source
// come from the server and together identify the entry.
type LogEntry struct {
	ID         string
	Timestamp  string
	Level      string
	Message    string
	Source     string
	ReceivedAt int64
}

// NewULID generates a new ULID.
func NewULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertLog stores one entry. Returns ErrConflict if an identical entry
// is already stored.
func (s *Store) InsertLog(ctx context.Context, e *LogEntry) error {
	return insertLog(ctx, s.db, e)
}

// AppendLogs stores entries in one transaction, skipping those already
// stored, and returns how many were new.
func (s *Store) AppendLogs(ctx context.Context, entries []LogEntry) (int, error) {
	inserted := 0
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		for i := range entries {
			err := insertLog(ctx, tx, &entries[i])
			if errors.Is(err, ErrConflict) {
				continue
			}
			if err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func insertLog(ctx context.Context, db execer, e *LogEntry) error {
	if e.ID == "" {
		e.ID = NewULID()
	}
	if e.ReceivedAt == 0 {
		e.ReceivedAt = time.Now().Unix()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO logs (id, timestamp, level, message, source, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.Level, e.Message, e.Source, e.ReceivedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("log entry at %s: %w", e.Timestamp, ErrConflict)
		}
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListLogs returns the newest limit entries at level, oldest first. An
// empty level matches every level; limit <= 0 returns everything.
func (s *Store) ListLogs(ctx context.Context, level string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, level, message, source, received_at
		 FROM logs
		 WHERE ? = '' OR level = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		level, level, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message, &e.Source, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}

	slices.Reverse(entries)
	return entries, nil
}

// CountLogs returns the number of stored entries at level, or of all
// entries when level is empty.
func (s *Store) CountLogs(ctx context.Context, level string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM logs WHERE ? = '' OR level = ?`, level, level,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}
