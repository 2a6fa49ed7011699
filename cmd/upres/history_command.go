package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"upres/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled; set history.enabled = true in the config")
			}

			store, err := history.Open(cfg.Paths.LogDir)
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			defer store.Close()

			if limit <= 0 {
				limit = cfg.History.Limit
			}
			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No finished jobs recorded")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					shortJobID(entry.JobID),
					entry.SourceName,
					entry.Model,
					entry.Status,
					strconv.Itoa(entry.TotalFrames),
					formatAvgMs(entry.AvgMsPerFrame),
					entry.FinishedAt.Local().Format(time.DateTime),
				})
			}

			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Source", "Model", "Status", "Frames", "Avg ms", "Finished"},
				rows, 4, 5))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum entries to show (default from config)")
	return cmd
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatAvgMs(avg float64) string {
	if avg <= 0 {
		return "-"
	}
	return strconv.FormatFloat(avg, 'f', 1, 64)
}
