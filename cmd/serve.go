package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/permitwatch/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduler and the HTTP API",
		Long: `Starts the periodic permit check and serves the HTTP API until SIGINT or
SIGTERM. Runs can also be triggered on demand with POST /v1/runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}
