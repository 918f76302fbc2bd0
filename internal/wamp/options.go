package wamp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultCallTimeout       = time.Second
	DefaultReconnectDelay    = 10 * time.Second
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultSendBuffer        = 256
	DefaultMaxMessageSize    = 1 << 20
)

// Config holds the connection parameters of a Client.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://logs.example.com/.
	URL string
	// BaseAddress is the absolute URL that procedure and topic names are
	// resolved against.
	BaseAddress string
	// Protocols is the optional sub-protocol list offered during the
	// WebSocket handshake.
	Protocols []string

	CallTimeout       time.Duration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration

	// SendBuffer is the capacity of the outbound frame queue.
	SendBuffer int
	// MaxMessageSize bounds inbound messages on the default transport.
	MaxMessageSize int64
	// RateLimitPerSec limits outbound calls; zero disables limiting.
	RateLimitPerSec int
}

func (c *Config) applyDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
}

func (c *Config) validate() (*url.URL, error) {
	if c.URL == "" {
		return nil, errors.New("wamp: URL is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return nil, fmt.Errorf("wamp: parse URL: %w", err)
	}
	if c.BaseAddress == "" {
		return nil, errors.New("wamp: BaseAddress is required")
	}
	base, err := url.Parse(c.BaseAddress)
	if err != nil {
		return nil, fmt.Errorf("wamp: parse BaseAddress: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("wamp: BaseAddress %q is not absolute", c.BaseAddress)
	}
	if c.RateLimitPerSec < 0 {
		return nil, errors.New("wamp: RateLimitPerSec must not be negative")
	}
	return base, nil
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialer replaces the default nhooyr.io/websocket transport.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// WithMetrics records client activity on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithOnReconnect sets the hook run after each successful automatic
// reconnection.
func WithOnReconnect(fn func()) Option {
	return func(c *Client) { c.onReconnect = fn }
}
