package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "wampsocket",
		Short: "WAMP-style WebSocket client and log tailer",
		Long: `wampsocket speaks a small WAMP-style protocol over WebSocket.

It can tail a log server's log subscription into a local SQLite store,
issue one-off remote calls, query stored logs and run a development
router that serves demo procedures and publishes demo log batches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "wampsocket.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(
		tailCmd(&configPath),
		callCmd(&configPath),
		logsCmd(&configPath),
		serveCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errorMsg("%s", err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", fmt.Sprintf(format, args...))
}
