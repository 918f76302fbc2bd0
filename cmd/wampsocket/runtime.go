package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sovereign-im/wampsocket/internal/config"
	"github.com/sovereign-im/wampsocket/internal/logger"
	"github.com/sovereign-im/wampsocket/internal/tracer"
	"github.com/sovereign-im/wampsocket/internal/wamp"
)

const shutdownTimeout = 10 * time.Second

// runtimeEnv is the ambient stack shared by every command.
type runtimeEnv struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	closers  []func() error
	shutdown []func(context.Context) error
}

// setup loads the config and builds the logger, tracer and metrics
// registry. The returned env must be closed.
func setup(ctx context.Context, configPath string) (*runtimeEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	env := &runtimeEnv{
		cfg:      cfg,
		logger:   log,
		registry: prometheus.NewRegistry(),
		closers:  []func() error{closeLog},
	}
	env.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("setup tracer: %w", err)
	}
	env.shutdown = append(env.shutdown, shutdownTracer)

	return env, nil
}

// close releases everything setup acquired, in reverse order.
func (e *runtimeEnv) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(e.shutdown) - 1; i >= 0; i-- {
		if err := e.shutdown[i](ctx); err != nil {
			e.logger.Warn("shutdown", "error", err)
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

// metricsHandler serves the env's registry.
func (e *runtimeEnv) metricsHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// serveMetrics exposes /metrics on cfg.Metrics.ListenAddr when it is set.
// The server is shut down by close.
func (e *runtimeEnv) serveMetrics() {
	addr := e.cfg.Metrics.ListenAddr
	if addr == "" {
		return
	}

	r := chi.NewRouter()
	r.Handle("/metrics", e.metricsHandler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server", "error", err)
		}
	}()
	e.logger.Info("metrics listening", "addr", addr)
	e.shutdown = append(e.shutdown, srv.Shutdown)
}

// newClient builds a wamp.Client from the client section of the config.
func (e *runtimeEnv) newClient() (*wamp.Client, error) {
	cc := e.cfg.Client
	return wamp.New(clientConfig(cc),
		wamp.WithLogger(e.logger),
		wamp.WithDialer(dialerFor(cc.Transport, int64(cc.MaxMessageSize))),
		wamp.WithMetrics(wamp.NewMetrics(e.registry, e.cfg.Metrics.Namespace)),
	)
}

func clientConfig(cc config.ClientConfig) wamp.Config {
	return wamp.Config{
		URL:               cc.URL,
		BaseAddress:       cc.BaseAddress,
		Protocols:         cc.Protocols,
		CallTimeout:       cc.CallTimeout,
		ReconnectDelay:    cc.ReconnectDelay,
		HeartbeatInterval: cc.HeartbeatInterval,
		HandshakeTimeout:  cc.HandshakeTimeout,
		MaxMessageSize:    int64(cc.MaxMessageSize),
		RateLimitPerSec:   cc.RateLimitPerSec,
	}
}

func dialerFor(transport string, readLimit int64) wamp.DialFunc {
	if strings.EqualFold(transport, "gorilla") {
		return wamp.NewGorillaDialer(readLimit)
	}
	return wamp.NewWebsocketDialer(readLimit)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
