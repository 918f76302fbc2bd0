package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sovereign-im/wampsocket/internal/auth"
	"github.com/sovereign-im/wampsocket/internal/logstream"
	"github.com/sovereign-im/wampsocket/internal/store"
)

func tailCmd(configPath *string) *cobra.Command {
	var (
		level  string
		logout bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the server's log stream",
		Long: `Connect to the log server, log in and follow its log subscription.

New entries are printed and stored in the local database. The session
token is kept in the database so the next run logs in without the
password. The connection is re-established automatically after a drop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := logstream.ParseLevel(level)
			if err != nil {
				return err
			}
			return runTail(*configPath, filter, logout)
		},
	}

	cmd.Flags().StringVarP(&level, "level", "l", "", "Only print entries at this level")
	cmd.Flags().BoolVar(&logout, "logout", false, "Log out and forget the stored session on exit")

	return cmd
}

func runTail(configPath string, level logstream.Level, logout bool) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.close()
	env.serveMetrics()

	cfg := env.cfg
	log := env.logger

	st, err := store.New(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()
	log.Info("database opened", "path", cfg.Store.DatabasePath)

	client, err := env.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Initialize(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Client.URL, err)
	}
	success("Connected to %s", cfg.Client.URL)

	svc := auth.NewService(client, cfg.Auth.Username, cfg.Auth.Password, log)
	svc.SetToken(initialToken(ctx, st, cfg.Client.URL, cfg.Auth.Token, log))

	tailer := logstream.NewTailer(client, svc,
		logstream.WithLogger(log),
		logstream.WithSink(logstream.NewStoreSink(st)),
		logstream.WithOnItems(func(items []logstream.Item) {
			for _, it := range logstream.FilterByLevel(items, level) {
				fmt.Println(formatItem(it))
			}
		}),
		logstream.WithOnSession(func(sess *auth.Session) {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := st.SaveSession(saveCtx, &store.Session{
				Server:   cfg.Client.URL,
				Username: sess.Username,
				Token:    sess.Token,
			})
			if err != nil {
				log.Warn("save session", "error", err)
			}
		}),
	)

	if err := tailer.Start(ctx); err != nil {
		return err
	}
	info("Following %s (Ctrl+C to stop)", logstream.Topic)

	<-ctx.Done()
	tailer.Stop()
	info("Received %d entries", len(tailer.Items()))

	if logout {
		return endSession(svc, st, cfg.Client.URL)
	}
	return nil
}

// initialToken picks the token to try first: the configured one, else the
// one stored by a previous run.
func initialToken(ctx context.Context, st *store.Store, server, configured string, log *slog.Logger) string {
	if configured != "" {
		return configured
	}
	sess, err := st.GetSession(ctx, server)
	switch {
	case err == nil:
		log.Debug("using stored session", "username", sess.Username, "token", auth.Fingerprint(sess.Token))
		return sess.Token
	case errors.Is(err, store.ErrNotFound):
		return ""
	default:
		log.Warn("load stored session", "error", err)
		return ""
	}
}

func endSession(svc *auth.Service, st *store.Store, server string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.Logout(ctx); err != nil {
		warn("Logout failed: %v", err)
	}
	if err := st.DeleteSession(ctx, server); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("forget session: %w", err)
	}
	success("Logged out")
	return nil
}

func formatItem(it logstream.Item) string {
	return fmt.Sprintf("%s %-5s [%s] %s", it.Timestamp, it.Level, it.Source, it.Message)
}
