// Package wamp implements a client for a lightweight WAMP-style protocol:
// remote procedure calls and topic subscriptions multiplexed over a single
// WebSocket connection, kept alive with heartbeats and re-established
// automatically after an unexpected drop.
package wamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/sovereign-im/wampsocket/internal/protocol"
	"github.com/sovereign-im/wampsocket/internal/tracer"
)

// Client owns one logical connection at a time and the call and
// subscription registries that share it.
type Client struct {
	cfg     Config
	base    *url.URL
	dial    DialFunc
	logger  *slog.Logger
	metrics *Metrics
	limiter *rate.Limiter

	calls *callRegistry
	subs  *subscriptionRegistry

	mu               sync.Mutex
	state            State
	initialized      bool
	intentional      bool
	reconnectPending bool
	reconnectTimer   *time.Timer
	conn             *conn
	onReconnect      func()
}

// New creates a Client. It does not connect; call Initialize.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:    cfg,
		base:   base,
		logger: slog.Default(),
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "wamp")
	if c.dial == nil {
		c.dial = NewWebsocketDialer(cfg.MaxMessageSize)
	}
	if cfg.RateLimitPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitPerSec)
	}
	c.calls = newCallRegistry()
	c.subs = newSubscriptionRegistry(c.logger)
	c.metrics.setState(StateDisconnected)

	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetOnReconnect sets the hook run, with no arguments, after each successful
// automatic reconnection. Subscriptions do not survive a reconnect, so this
// is where collaborators re-authenticate and re-subscribe.
func (c *Client) SetOnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

// Initialize opens the connection and blocks until the server's welcome
// frame arrives. A client can be initialized successfully only once; a
// failed attempt leaves it Disconnected and may be retried.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized || c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.intentional = false
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		c.logger.Warn("initialize failed", "url", c.cfg.URL, "error", err)
		return err
	}
	return nil
}

// connect dials, starts the connection pumps and waits for the welcome.
func (c *Client) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	t, err := c.dial(ctx, c.cfg.URL, c.cfg.Protocols)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	cn := newConn(connID(), t, c, c.cfg.SendBuffer)

	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		_ = t.Close()
		return fmt.Errorf("%w: client closed", ErrHandshake)
	}
	c.conn = cn
	c.mu.Unlock()

	c.logger.Debug("transport connected", "conn_id", cn.id, "url", c.cfg.URL)
	go cn.run()

	select {
	case <-cn.welcome:
		return nil
	case <-cn.done:
		if cn.welcomed.Load() {
			return nil
		}
		return fmt.Errorf("%w: connection closed before welcome", ErrHandshake)
	case <-ctx.Done():
	}

	c.mu.Lock()
	if cn.welcomed.Load() {
		c.mu.Unlock()
		return nil
	}
	cn.abandoned = true
	c.mu.Unlock()

	cn.close()
	<-cn.done
	return fmt.Errorf("%w: %w", ErrHandshake, ctx.Err())
}

// handleWelcome moves the connection to Open and starts its heartbeat.
// Runs on the connection's read pump.
func (c *Client) handleWelcome(cn *conn) {
	c.mu.Lock()
	if c.conn != cn || cn.abandoned || cn.welcomed.Load() {
		c.mu.Unlock()
		c.logger.Debug("ignoring welcome", "conn_id", cn.id)
		return
	}
	cn.welcomed.Store(true)
	c.initialized = true
	c.setStateLocked(StateOpen)
	cn.heartbeat = startHeartbeat(c.cfg.HeartbeatInterval, func(counter uint64) error {
		f, err := protocol.Heartbeat(counter)
		if err != nil {
			return err
		}
		return cn.sendFrame(f)
	}, c.logger, c.metrics)
	c.mu.Unlock()

	close(cn.welcome)
	c.logger.Info("connection open", "conn_id", cn.id, "url", c.cfg.URL)
}

// connectionClosed runs once per connection after both pumps have exited.
func (c *Client) connectionClosed(cn *conn) {
	c.mu.Lock()
	current := c.conn == cn
	if current {
		c.conn = nil
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	// Both registries are cleared before a reconnect can be armed so the
	// reconnect hook never re-subscribes into a registry about to be reset.
	failed := c.calls.failAll(ErrConnectionLost)
	dropped := c.subs.reset()
	c.logger.Info("connection closed",
		"conn_id", cn.id,
		"failed_calls", failed,
		"dropped_subscriptions", dropped,
	)

	if !current {
		return
	}
	c.mu.Lock()
	if c.conn == nil && c.initialized && !c.intentional {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the single reconnection timer. Further calls
// while an attempt is pending or in flight are coalesced. c.mu must be held.
func (c *Client) scheduleReconnectLocked() {
	if c.intentional || c.reconnectPending {
		return
	}
	c.reconnectPending = true
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectDelay, c.reconnect)
	c.logger.Info("reconnect scheduled", "delay", c.cfg.ReconnectDelay)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if c.intentional {
		c.reconnectPending = false
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	err := c.connect(context.Background())

	c.mu.Lock()
	c.reconnectPending = false
	if c.intentional {
		c.mu.Unlock()
		return
	}
	if err != nil {
		if c.conn == nil {
			c.setStateLocked(StateDisconnected)
		}
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.metrics.reconnect("failure")
		c.logger.Warn("reconnect failed", "url", c.cfg.URL, "error", err)
		return
	}
	if c.conn == nil {
		// Dropped again straight after the welcome.
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.metrics.reconnect("failure")
		return
	}
	hook := c.onReconnect
	c.mu.Unlock()

	c.metrics.reconnect("success")
	c.logger.Info("reconnected", "url", c.cfg.URL)
	if hook != nil {
		hook()
	}
}

// Close shuts the connection down for good: it cancels any pending
// reconnection, stops the heartbeat and fails outstanding calls with
// ErrConnectionLost. Close is idempotent and may be called from an event
// handler.
func (c *Client) Close() error {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectTimer != nil {
		if c.reconnectTimer.Stop() {
			c.reconnectPending = false
		}
		c.reconnectTimer = nil
	}
	if c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	cn := c.conn
	if cn == nil {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.calls.failAll(ErrConnectionLost)
		return nil
	}
	c.conn = nil
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	cn.close()
	if cn.dispatching.Load() {
		// Called from an event handler. The read pump finishes the teardown
		// once the handler returns.
		c.calls.failAll(ErrConnectionLost)
	} else {
		<-cn.done
	}

	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.logger.Info("client closed", "conn_id", cn.id)
	return nil
}

// Send calls the remote procedure target with args and waits for its
// result. target is resolved against the configured base address.
func (c *Client) Send(ctx context.Context, target string, args ...any) (json.RawMessage, error) {
	cn, err := c.openConn()
	if err != nil {
		return nil, err
	}
	target = c.resolve(target)

	ctx, span := tracer.StartSpan(ctx, "wamp.call", trace.WithAttributes(
		tracer.StringAttr("wamp.target", target),
		tracer.IntAttr("wamp.args", len(args)),
	))
	defer span.End()

	start := time.Now()
	result, err := c.call(ctx, cn, target, args)
	c.metrics.observeCall(err, time.Since(start))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return result, nil
}

func (c *Client) call(ctx context.Context, cn *conn, target string, args []any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wamp: rate limit: %w", err)
		}
	}

	id := uuid.NewString()
	f, err := protocol.Call(id, target, args...)
	if err != nil {
		return nil, err
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return nil, err
	}

	p, err := c.calls.issue(id, target, c.cfg.CallTimeout)
	if err != nil {
		return nil, err
	}
	if err := cn.enqueue(data); err != nil {
		c.calls.cancel(id, err)
		return nil, err
	}

	select {
	case res := <-p.done:
		return res.result, res.err
	case <-ctx.Done():
		if c.calls.cancel(id, ctx.Err()) {
			return nil, ctx.Err()
		}
		res := <-p.done
		return res.result, res.err
	}
}

// Subscribe registers handler for events on topic. The returned function
// removes this registration. Several handlers may share a topic over one
// server subscription, so the UNSUBSCRIBE frame is sent only when the last
// local handler for the topic is removed; sending it earlier would stop
// delivery to the handlers that remain. Subscriptions last for the current
// connection only.
func (c *Client) Subscribe(topic string, handler EventHandler) (Unsubscribe, error) {
	if handler == nil {
		return nil, errors.New("wamp: nil event handler")
	}
	cn, err := c.openConn()
	if err != nil {
		return nil, err
	}
	topic = c.resolve(topic)

	f, err := protocol.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	id := c.subs.add(topic, handler)
	if err := cn.sendFrame(f); err != nil {
		c.subs.remove(topic, id)
		return nil, err
	}
	c.logger.Debug("subscribed", "topic", topic, "subscription", id)

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(topic, id) })
	}, nil
}

func (c *Client) unsubscribe(topic string, id uint64) {
	found, last := c.subs.remove(topic, id)
	if !found || !last {
		return
	}

	cn, err := c.openConn()
	if err != nil {
		return
	}
	f, err := protocol.Unsubscribe(topic)
	if err == nil {
		err = cn.sendFrame(f)
	}
	if err != nil {
		c.logger.Warn("unsubscribe not sent", "topic", topic, "error", err)
		return
	}
	c.logger.Debug("unsubscribed", "topic", topic)
}

// dispatch routes one inbound frame. It is the only consumer of a
// connection's frames, so frames are handled strictly in arrival order.
func (c *Client) dispatch(cn *conn, data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		c.dropMalformed(cn, err)
		return
	}

	if f.Type() == protocol.TypeWelcome {
		c.handleWelcome(cn)
		return
	}
	if !cn.welcomed.Load() {
		c.logger.Debug("ignoring frame before welcome", "conn_id", cn.id, "type", f.Type().String())
		return
	}

	switch f.Type() {
	case protocol.TypeCallResult:
		id, result, err := protocol.ParseResult(f)
		if err != nil {
			c.dropMalformed(cn, err)
			return
		}
		if !c.calls.resolve(id, result) {
			c.logger.Debug("dropping result for unknown call", "call_id", id)
		}

	case protocol.TypeCallError:
		id, details, err := protocol.ParseResult(f)
		if err != nil {
			c.dropMalformed(cn, err)
			return
		}
		if !c.calls.reject(id, details) {
			c.logger.Debug("dropping error for unknown call", "call_id", id)
			return
		}
		c.logger.Warn("remote call failed", "call_id", id, "details", string(details))

	case protocol.TypeEvent:
		topic, payload, err := protocol.ParseEvent(f)
		if err != nil {
			c.dropMalformed(cn, err)
			return
		}
		cn.dispatching.Store(true)
		n := c.subs.dispatch(c.resolve(topic), payload)
		cn.dispatching.Store(false)
		c.metrics.eventsDelivered(n)

	default:
		c.logger.Debug("ignoring frame", "conn_id", cn.id, "type", f.Type().String())
	}
}

func (c *Client) dropMalformed(cn *conn, err error) {
	c.metrics.malformedFrame()
	c.logger.Warn("dropping malformed frame", "conn_id", cn.id, "error", err)
}

func (c *Client) openConn() (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		return nil, ErrNotInitialized
	}
	return c.conn, nil
}

// resolve turns a procedure or topic name into an absolute URL relative to
// the base address. Names that do not parse are used as given.
func (c *Client) resolve(name string) string {
	ref, err := url.Parse(name)
	if err != nil {
		return name
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.setState(s)
}
