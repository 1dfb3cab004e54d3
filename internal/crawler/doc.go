// Package crawler defines the domain model of the social crawl orchestrator:
// platforms and their parameters, mappings, provider jobs, results, daily
// metrics and weekly schedules, plus the collaborator interfaces the
// orchestration pipeline is written against.
package crawler
