package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/app"
)

func newWeeklyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Trigger or inspect the weekly crawl batch",
	}
	cmd.AddCommand(newWeeklyTriggerCmd(), newWeeklyStatusCmd())
	return cmd
}

func newWeeklyTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Trigger this week's crawl unless it already ran",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app.App) error {
				out, err := a.Service().TriggerWeeklyCrawl(cmd.Context())
				if err != nil {
					return fmt.Errorf("trigger weekly crawl: %w", err)
				}
				a.Logger().Info("weekly crawl triggered",
					zap.Int64("schedule_id", out.Schedule.ID),
					zap.Bool("already_scheduled", out.AlreadyScheduled),
					zap.Int("jobs", len(out.Jobs)),
					zap.Int("failures", len(out.Failures)),
				)
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newWeeklyStatusCmd() *cobra.Command {
	var week string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the jobs of a weekly batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var weekStart *time.Time
			if week != "" {
				t, err := time.Parse(time.DateOnly, week)
				if err != nil {
					return fmt.Errorf("--week must be YYYY-MM-DD: %w", err)
				}
				weekStart = &t
			}
			return withApp(cmd, func(a *app.App) error {
				status, err := a.Service().WeeklyCrawlStatus(cmd.Context(), weekStart)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			})
		},
	}
	cmd.Flags().StringVar(&week, "week", "", "any day of the week to inspect (default: current week)")
	return cmd
}
