package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/sovereign-im/wampsocket/internal/ws"
)

func serveCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development router",
		Long: `Run a development router on /ws that answers /echo, /login,
/loginByToken and /logout, and publishes a demo log entry on the log
subscription every server.demo_interval. Metrics are served on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides server.listen_addr)")

	return cmd
}

func runServe(configPath, addr string) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.close()

	cfg := env.cfg
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}

	hub := ws.NewHub(env.logger)
	go hub.Run()

	demo := newDemoRouter(cfg.Auth.Username, cfg.Auth.Password)
	demo.register(hub)
	if cfg.Server.DemoInterval > 0 {
		go demo.publish(ctx, hub, cfg.Server.DemoInterval, env.logger)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(hub, cfg.Server.MaxMessageSize, cfg.Server.Protocols, env.metricsHandler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	success("Router listening on %s", addr)
	info("WebSocket: ws://%s/ws", displayHost(addr))

	select {
	case <-ctx.Done():
		env.logger.Info("shutting down")
	case err := <-errCh:
		hub.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		env.logger.Warn("http server shutdown", "error", err)
	}

	info("Router stopped")
	return nil
}

func newRouter(hub *ws.Hub, maxMessageSize int, protocols []string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", ws.UpgradeHandler(hub, maxMessageSize, protocols))
	r.Handle("/metrics", metrics)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// displayHost turns a listen address like ":8080" into "localhost:8080".
func displayHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
