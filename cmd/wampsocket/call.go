package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sovereign-im/wampsocket/internal/auth"
)

func callCmd(configPath *string) *cobra.Command {
	var (
		login   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <procedure> [args...]",
		Short: "Call a remote procedure and print its result",
		Long: `Call a remote procedure once and print the result as JSON.

Each argument that parses as JSON is sent as that value; anything else is
sent as a string. The procedure name is resolved against the configured
base address.`,
		Example: `  wampsocket call /echo hello 42
  wampsocket call --login /logs/count '{"Level":"ERROR"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(*configPath, args[0], parseArgs(args[1:]), login, timeout)
		},
	}

	cmd.Flags().BoolVar(&login, "login", false, "Log in with the configured credentials first")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall time limit")

	return cmd
}

func runCall(configPath, target string, args []any, login bool, timeout time.Duration) error {
	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, timeout)
	defer cancel()

	env, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.close()

	client, err := env.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Initialize(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", env.cfg.Client.URL, err)
	}

	if login {
		svc := auth.NewService(client, env.cfg.Auth.Username, env.cfg.Auth.Password, env.logger)
		svc.SetToken(env.cfg.Auth.Token)
		if _, err := svc.Authenticate(ctx); err != nil {
			return err
		}
	}

	result, err := client.Send(ctx, target, args...)
	if err != nil {
		return err
	}
	fmt.Println(prettyJSON(result))
	return nil
}

// parseArgs turns command line arguments into call arguments.
func parseArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, s := range raw {
		if json.Valid([]byte(s)) {
			args[i] = json.RawMessage(s)
		} else {
			args[i] = s
		}
	}
	return args
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
