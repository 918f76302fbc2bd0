// Package auth manages the log server session: password and token logins
// performed as remote calls over the wamp connection.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Sentinel errors for authentication operations.
var (
	ErrMissingCredentials = errors.New("no username and password configured")
	ErrInvalidSession     = errors.New("invalid session response")
)

// Procedure names, resolved by the client against its base address.
const (
	ProcedureLogin        = "/login"
	ProcedureLoginByToken = "/loginByToken"
	ProcedureLogout       = "/logout"
)

// Caller issues remote calls. *wamp.Client satisfies it.
type Caller interface {
	Send(ctx context.Context, target string, args ...any) (json.RawMessage, error)
}

// Session is the server's answer to a successful login.
type Session struct {
	Token    string `json:"Token"`
	Username string `json:"Username"`
}

// Service logs in to the log server and remembers the session token so a
// reconnect can resume the session without the password.
type Service struct {
	caller   Caller
	username string
	password string
	logger   *slog.Logger

	mu    sync.Mutex
	token string
}

// NewService creates a Service that falls back to username and password
// when no token is held or the token is rejected.
func NewService(caller Caller, username, password string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		caller:   caller,
		username: username,
		password: password,
		logger:   logger.With("component", "auth"),
	}
}

// Token returns the current session token, or "" when logged out.
func (svc *Service) Token() string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.token
}

// SetToken seeds the service with a token from a previous session.
func (svc *Service) SetToken(token string) {
	svc.mu.Lock()
	svc.token = token
	svc.mu.Unlock()
}

// Login authenticates with a username and password.
func (svc *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	raw, err := svc.caller.Send(ctx, ProcedureLogin, username, password)
	if err != nil {
		return nil, fmt.Errorf("login %q: %w", username, err)
	}
	return svc.accept(raw)
}

// LoginByToken resumes a session with a previously issued token.
func (svc *Service) LoginByToken(ctx context.Context, token string) (*Session, error) {
	raw, err := svc.caller.Send(ctx, ProcedureLoginByToken, token)
	if err != nil {
		return nil, fmt.Errorf("login by token %s: %w", Fingerprint(token), err)
	}
	return svc.accept(raw)
}

// Logout ends the session and forgets the token.
func (svc *Service) Logout(ctx context.Context) error {
	if _, err := svc.caller.Send(ctx, ProcedureLogout); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	svc.SetToken("")
	svc.logger.Info("logged out")
	return nil
}

// Authenticate logs in with the held token when there is one, falling back
// to the configured username and password if that fails.
func (svc *Service) Authenticate(ctx context.Context) (*Session, error) {
	if token := svc.Token(); token != "" {
		sess, err := svc.LoginByToken(ctx, token)
		if err == nil {
			return sess, nil
		}
		svc.logger.Warn("token login failed, falling back to password", "token", Fingerprint(token), "error", err)
	}

	if svc.username == "" {
		return nil, ErrMissingCredentials
	}
	return svc.Login(ctx, svc.username, svc.password)
}

func (svc *Service) accept(raw json.RawMessage) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if sess.Token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidSession)
	}

	svc.SetToken(sess.Token)
	svc.logger.Info("session established", "username", sess.Username, "token", Fingerprint(sess.Token))
	return &sess, nil
}

// Fingerprint returns a short, non-reversible label for a token, safe to log.
func Fingerprint(token string) string {
	if token == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(h[:6])
}
