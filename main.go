// Command social-crawl orchestrates weekly crawls of business social media
// profiles through a third-party scraping provider.
//
// Architecture overview:
//   - Scheduler: robfig/cron fires the weekly batch and the hourly sweep in
//     the business time zone (Europe/Rome by default).
//   - Orchestrator: groups active mappings by platform, triggers one provider
//     job per platform, and records a weekly schedule so a week is never
//     crawled twice.
//   - Sweep: unfinished jobs are polled by a bounded worker pool; completed
//     snapshots are archived, stored row by row and folded into daily metrics.
//   - HTTP API: chi routes expose the same operations for operators and
//     other services, with Prometheus metrics on /metrics.
//   - Persistence: Postgres via pgx (in-memory when no DSN is set), snapshot
//     archives on local disk or GCS, and job events on Pub/Sub.
//
// Run "social-crawl serve --config config.yaml" for the service, or the
// weekly, sweep and migrate subcommands for one-shot runs.
package main

import (
	// Embeds the zone database so Europe/Rome resolves in minimal images.
	_ "time/tzdata"

	"github.com/JakeFAU/social-crawl-orchestrator/cmd"
)

func main() {
	cmd.Execute()
}
