package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/app"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var (
		platform string
		urls     []string
		params   string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Trigger an on-demand crawl of one platform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p map[string]any
			if params != "" {
				if err := json.Unmarshal([]byte(params), &p); err != nil {
					return fmt.Errorf("--params must be a JSON object: %w", err)
				}
			}
			return withApp(cmd, func(a *app.App) error {
				job, err := a.Service().TriggerCrawl(cmd.Context(), platform, urls, p)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "platform to crawl (instagram, facebook, googlemaps)")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "profile URL; repeat for several")
	cmd.Flags().StringVar(&params, "params", "", "platform parameters as a JSON object")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect an on-demand or scheduled job",
	}
	cmd.AddCommand(newJobStatusCmd(), newJobResultsCmd())
	return cmd
}

func newJobStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Poll the provider for a job's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				report, err := a.Service().JobStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newJobResultsCmd() *cobra.Command {
	var (
		integrate bool
		format    string
	)
	cmd := &cobra.Command{
		Use:   "results JOB_ID",
		Short: "Fetch and store a completed job's rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := crawler.ParseResultFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app.App) error {
				report, err := a.Service().JobResults(cmd.Context(), args[0], integrate, f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().BoolVar(&integrate, "integrate", false, "fold the rows into daily metrics")
	cmd.Flags().StringVar(&format, "format", "json", "snapshot format (json or csv)")
	return cmd
}
