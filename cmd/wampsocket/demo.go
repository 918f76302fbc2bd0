package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sovereign-im/wampsocket/internal/auth"
	"github.com/sovereign-im/wampsocket/internal/logstream"
	"github.com/sovereign-im/wampsocket/internal/ws"
)

var errInvalidCredentials = &ws.ProcedureError{Details: map[string]string{"error": "invalid credentials"}}

// demoRouter backs the development router: echo, the session procedures
// and a synthetic log stream.
type demoRouter struct {
	username string
	password string
	now      func() time.Time

	mu     sync.Mutex
	tokens map[string]string // token to username
	seq    int
}

// newDemoRouter creates a demoRouter. An empty username accepts any
// credentials.
func newDemoRouter(username, password string) *demoRouter {
	return &demoRouter{
		username: username,
		password: password,
		now:      time.Now,
		tokens:   make(map[string]string),
	}
}

// register installs the demo procedures on hub.
func (d *demoRouter) register(hub *ws.Hub) {
	hub.Handle("/echo", d.echo)
	hub.Handle(auth.ProcedureLogin, d.login)
	hub.Handle(auth.ProcedureLoginByToken, d.loginByToken)
	hub.Handle(auth.ProcedureLogout, d.logout)
}

func (d *demoRouter) echo(_ context.Context, args []json.RawMessage) (any, error) {
	if args == nil {
		args = []json.RawMessage{}
	}
	return args, nil
}

func (d *demoRouter) login(_ context.Context, args []json.RawMessage) (any, error) {
	var username, password string
	if err := decodeArgs(args, &username, &password); err != nil {
		return nil, err
	}
	if d.username != "" && (username != d.username || password != d.password) {
		return nil, errInvalidCredentials
	}

	token := uuid.NewString()
	d.mu.Lock()
	d.tokens[token] = username
	d.mu.Unlock()

	return auth.Session{Token: token, Username: username}, nil
}

func (d *demoRouter) loginByToken(_ context.Context, args []json.RawMessage) (any, error) {
	var token string
	if err := decodeArgs(args, &token); err != nil {
		return nil, err
	}

	d.mu.Lock()
	username, ok := d.tokens[token]
	d.mu.Unlock()
	if !ok {
		return nil, &ws.ProcedureError{Details: map[string]string{"error": "unknown token"}}
	}
	return auth.Session{Token: token, Username: username}, nil
}

// logout always succeeds. The router does not tie calls to sessions.
func (d *demoRouter) logout(context.Context, []json.RawMessage) (any, error) {
	return true, nil
}

// nextBatch returns an ADD batch holding one new entry. Levels rotate.
func (d *demoRouter) nextBatch() logstream.Batch {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	level := logstream.Levels[(seq-1)%len(logstream.Levels)]
	return logstream.Batch{
		Action: logstream.ActionAdd,
		Items: []logstream.Item{{
			Timestamp: d.now().UTC().Format(time.RFC3339Nano),
			Level:     level,
			Message:   fmt.Sprintf("demo entry %d", seq),
			Source:    "demo",
		}},
	}
}

// publish sends a batch on logstream.Topic every interval until ctx ends.
func (d *demoRouter) publish(ctx context.Context, hub *ws.Hub, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := hub.Publish(logstream.Topic, d.nextBatch())
			if err != nil {
				log.Warn("publish demo batch", "error", err)
				continue
			}
			log.Debug("published demo batch", "subscribers", n)
		}
	}
}

// decodeArgs unmarshals positional arguments into dst. Missing arguments
// leave their destination untouched.
func decodeArgs(args []json.RawMessage, dst ...any) error {
	for i, d := range dst {
		if i >= len(args) {
			return nil
		}
		if err := json.Unmarshal(args[i], d); err != nil {
			return &ws.ProcedureError{Details: map[string]string{"error": fmt.Sprintf("argument %d: %v", i, err)}}
		}
	}
	return nil
}
