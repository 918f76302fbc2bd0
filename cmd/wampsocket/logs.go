package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sovereign-im/wampsocket/internal/logstream"
	"github.com/sovereign-im/wampsocket/internal/store"
)

func logsCmd(configPath *string) *cobra.Command {
	var (
		level string
		limit int
		count bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show log entries stored by tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := logstream.ParseLevel(level)
			if err != nil {
				return err
			}
			return runLogs(cmd.Context(), *configPath, filter, limit, count)
		},
	}

	cmd.Flags().StringVarP(&level, "level", "l", "", "Only show entries at this level")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of most recent entries to show")
	cmd.Flags().BoolVar(&count, "count", false, "Print only the number of matching entries")

	return cmd
}

func runLogs(ctx context.Context, configPath string, level logstream.Level, limit int, count bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.close()

	st, err := store.New(env.cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if count {
		n, err := st.CountLogs(ctx, string(level))
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	}

	entries, err := st.ListLogs(ctx, string(level), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		warn("No stored entries")
		return nil
	}
	for _, it := range logstream.FromEntries(entries) {
		fmt.Println(formatItem(it))
	}
	return nil
}
