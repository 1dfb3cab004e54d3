package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/app"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Poll unfinished jobs once, ingesting and integrating completed snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app.App) error {
				report, err := a.Service().SweepJobs(cmd.Context())
				if err != nil {
					return fmt.Errorf("sweep jobs: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
