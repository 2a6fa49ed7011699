package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"upres/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories, disk space, and external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			results := preflight.RunAll(cmd.Context(), cfg)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				rows = append(rows, []string{result.Name, passFail(result.Passed), result.Detail})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows))

			if !preflight.Healthy(results) {
				return errors.New("one or more environment checks failed")
			}
			fmt.Fprintln(out, "Environment ready")
			return nil
		},
	}
}
