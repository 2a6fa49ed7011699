package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"upres/internal/services/realesrgan"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List installed enhancement models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			client := realesrgan.NewCLI(
				realesrgan.WithBinary(cfg.Enhancer.Binary),
				realesrgan.WithModelsDir(cfg.Enhancer.ModelsDir))

			installed, err := client.ListModels()
			if err != nil {
				return fmt.Errorf("list models: %w", err)
			}

			defaultModel := realesrgan.ResolveModel("", cfg.Enhancer.DefaultModel)

			rows := make([][]string, 0, len(installed))
			for _, name := range installed {
				marker := ""
				if name == defaultModel {
					marker = "default"
				}
				rows = append(rows, []string{
					name,
					fmt.Sprintf("x%d", realesrgan.ScaleForModel(name)),
					marker,
				})
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "No models found in %s\n", cfg.Enhancer.ModelsDir)
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"Model", "Scale", ""}, rows))
			return nil
		},
	}
}
