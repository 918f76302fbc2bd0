package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is the last token issued by a log server, kept so the next run
// can log in by token.
type Session struct {
	Server    string
	Username  string
	Token     string
	CreatedAt int64
	UpdatedAt int64
}

// SaveSession inserts or replaces the session for sess.Server.
func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	now := time.Now().Unix()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (server, username, token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (server) DO UPDATE SET
			username = excluded.username,
			token = excluded.token,
			updated_at = excluded.updated_at`,
		sess.Server, sess.Username, sess.Token, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns the session stored for server. Returns ErrNotFound if
// there is none.
func (s *Store) GetSession(ctx context.Context, server string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT server, username, token, created_at, updated_at
		 FROM session WHERE server = ?`, server,
	).Scan(&sess.Server, &sess.Username, &sess.Token, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// DeleteSession removes the session for server. Returns ErrNotFound if
// there is none.
func (s *Store) DeleteSession(ctx context.Context, server string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE server = ?`, server)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
