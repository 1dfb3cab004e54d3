// Package api hosts the HTTP server and REST handlers for the orchestrator.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST/GET /v1/weekly-crawl for the weekly batch.
//   - POST /v1/crawls and GET /v1/crawls/{job_id}/{status,results} for
//     on-demand jobs.
//   - /v1/businesses/{business_id}/{mappings,metrics} for mapping and
//     daily metrics access.
//
// Every /v1 route requires the API key when auth is enabled.
package api
