package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for values the client cannot run with.
// All problems are reported together.
func Validate(cfg Config) error {
	var errs []error

	if cfg.Client.URL == "" {
		errs = append(errs, errors.New("client.url is required"))
	} else if u, err := url.Parse(cfg.Client.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("client.url %q must be a ws:// or wss:// URL", cfg.Client.URL))
	}
	if cfg.Client.BaseAddress == "" {
		errs = append(errs, errors.New("client.base_address is required"))
	} else if u, err := url.Parse(cfg.Client.BaseAddress); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("client.base_address %q must be an absolute URL", cfg.Client.BaseAddress))
	}
	if cfg.Client.CallTimeout <= 0 {
		errs = append(errs, errors.New("client.call_timeout must be positive"))
	}
	if cfg.Client.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("client.reconnect_delay must be positive"))
	}
	if cfg.Client.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("client.heartbeat_interval must be positive"))
	}
	if cfg.Client.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("client.handshake_timeout must be positive"))
	}
	if cfg.Client.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("client.max_message_size must be positive"))
	}
	if cfg.Client.RateLimitPerSec < 0 {
		errs = append(errs, errors.New("client.rate_limit_per_sec must not be negative"))
	}
	switch strings.ToLower(cfg.Client.Transport) {
	case "", "nhooyr", "gorilla":
	default:
		errs = append(errs, fmt.Errorf("client.transport %q is not one of nhooyr, gorilla", cfg.Client.Transport))
	}

	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format %q is not one of text, json", cfg.Logger.Format))
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		errs = append(errs, fmt.Errorf("tracer.exporter %q is not one of noop, stdout", cfg.Tracer.Exporter))
	}

	if cfg.Server.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("server.max_message_size must be positive"))
	}
	if cfg.Server.DemoInterval < 0 {
		errs = append(errs, errors.New("server.demo_interval must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
