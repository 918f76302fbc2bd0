// Package ws implements a small WAMP-style router for development and
// tests: it accepts WebSocket connections, greets them with a welcome
// frame, answers calls from a procedure table and fans out published
// events to subscribed connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

// ProcedureHandler serves one remote procedure. The returned value is sent
// as the CALL_RESULT payload; an error becomes a CALL_ERROR.
type ProcedureHandler func(ctx context.Context, args []json.RawMessage) (any, error)

// ProcedureError lets a handler choose the CALL_ERROR payload.
type ProcedureError struct {
	Details any
}

func (e *ProcedureError) Error() string {
	b, _ := json.Marshal(e.Details)
	return "procedure error: " + string(b)
}

// Hub manages active connections, the procedure table and event fan-out.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	procMu     sync.RWMutex
	procedures map[string]ProcedureHandler

	register   chan *Conn
	unregister chan *Conn
	done       chan struct{}
	stopOnce   sync.Once

	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:      make(map[string]*Conn),
		procedures: make(map[string]ProcedureHandler),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		done:       make(chan struct{}),
		logger:     logger.With("component", "router"),
	}
}

// Run starts the hub's main loop. It should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.conns[conn.id] = conn
			h.mu.Unlock()
			h.logger.Info("connection registered", "conn_id", conn.id)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.conns[conn.id]; ok {
				delete(h.conns, conn.id)
			}
			h.mu.Unlock()
			h.logger.Info("connection unregistered", "conn_id", conn.id)

		case <-h.done:
			return
		}
	}
}

// Stop signals the hub to stop its run loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Handle registers fn as the procedure name. Names are matched on their
// path, so "/login", "login" and "http://host/login" are the same procedure.
func (h *Hub) Handle(name string, fn ProcedureHandler) {
	h.procMu.Lock()
	h.procedures[normalizeName(name)] = fn
	h.procMu.Unlock()
}

func (h *Hub) lookup(target string) (ProcedureHandler, bool) {
	h.procMu.RLock()
	defer h.procMu.RUnlock()
	fn, ok := h.procedures[normalizeName(target)]
	return fn, ok
}

// Publish sends an EVENT with payload to every connection subscribed to
// topic and returns how many received it.
func (h *Hub) Publish(topic string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	key := normalizeName(topic)
	n := 0
	for _, c := range h.snapshot() {
		if c.publish(key, data) {
			n++
		}
	}
	return n, nil
}

// Subscribers returns how many connections are subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	key := normalizeName(topic)
	n := 0
	for _, c := range h.snapshot() {
		if c.subscribed(key) {
			n++
		}
	}
	return n
}

// CloseAll drops every connection, as a server restart would.
func (h *Hub) CloseAll() error {
	var errs []error
	for _, c := range h.snapshot() {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// normalizeName reduces a procedure or topic name to its path without the
// leading slash.
func normalizeName(name string) string {
	if u, err := url.Parse(name); err == nil && (u.Scheme != "" || u.Host != "") {
		name = u.Path
	}
	return strings.TrimPrefix(name, "/")
}
