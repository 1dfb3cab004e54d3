package crawler

import (
	"context"
	"time"
)

// MappingStore persists business-to-URL mappings.
type MappingStore interface {
	// CreateMapping stores m unless an identical active mapping exists, in
	// which case the existing row is returned with created=false.
	CreateMapping(ctx context.Context, m SocialMapping) (mapping SocialMapping, created bool, err error)
	// ListActiveMappings returns active mappings, optionally for one business.
	ListActiveMappings(ctx context.Context, businessID *int64) ([]SocialMapping, error)
	// ListMappings returns every mapping of a business, active or not.
	ListMappings(ctx context.Context, businessID int64) ([]SocialMapping, error)
	// FindActiveMapping looks up the active mapping for a crawled URL.
	FindActiveMapping(ctx context.Context, url string, platform Platform) (SocialMapping, error)
	MarkMappingCrawled(ctx context.Context, mappingID int64, at time.Time) error
}

// JobLedger persists provider crawl jobs.
type JobLedger interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	GetJob(ctx context.Context, jobID string) (CrawlJob, error)
	// TransitionJob applies t if the state machine allows it from the
	// job's current status.
	TransitionJob(ctx context.Context, jobID string, t JobTransition) (CrawlJob, error)
	// ListSweepableJobs returns non-terminal jobs created at or after since.
	ListSweepableJobs(ctx context.Context, since time.Time) ([]CrawlJob, error)
	ListScheduleJobs(ctx context.Context, scheduleID int64) ([]CrawlJob, error)
	// ListJobsSince returns every job created at or after since.
	ListJobsSince(ctx context.Context, since time.Time) ([]CrawlJob, error)
}

// ResultStore persists snapshot rows owned by jobs.
type ResultStore interface {
	// SaveResults inserts rows, ignoring (job, row index) pairs already
	// stored, and returns how many were new.
	SaveResults(ctx context.Context, results []CrawlResult) (int, error)
	ListResults(ctx context.Context, jobID string) ([]CrawlResult, error)
	ListPendingResults(ctx context.Context, jobID string) ([]CrawlResult, error)
	MarkResultIntegrated(ctx context.Context, resultID int64) error
}

// MetricsStore persists per-business daily snapshots.
type MetricsStore interface {
	// ApplyMetrics creates or updates the (business, day) row in one atomic step.
	ApplyMetrics(
		ctx context.Context,
		businessID int64,
		day time.Time,
		capturedAt time.Time,
		update MetricsUpdate,
	) (DailyMetrics, error)
	GetDailyMetrics(ctx context.Context, businessID int64, day time.Time) (DailyMetrics, error)
}

// ScheduleStore persists weekly batch bookkeeping.
type ScheduleStore interface {
	// CreateScheduleIfAbsent inserts s unless a pending or running schedule
	// already exists for s.WeekStart; that row is returned with created=false.
	CreateScheduleIfAbsent(ctx context.Context, s WeeklySchedule) (schedule WeeklySchedule, created bool, err error)
	// GetSchedule returns the most recent schedule for weekStart.
	GetSchedule(ctx context.Context, weekStart time.Time) (WeeklySchedule, error)
	ListOpenSchedules(ctx context.Context) ([]WeeklySchedule, error)
	UpdateSchedule(ctx context.Context, s WeeklySchedule) error
}

// Store bundles every persistence concern of the orchestrator.
type Store interface {
	MappingStore
	JobLedger
	ResultStore
	MetricsStore
	ScheduleStore
}

// Provider is the external asynchronous crawl API.
type Provider interface {
	Trigger(ctx context.Context, platform Platform, urls []string, params PlatformParams) (TriggerResult, error)
	PollStatus(ctx context.Context, handle string) (SnapshotStatus, error)
	FetchResults(ctx context.Context, handle string, format ResultFormat) (Snapshot, error)
}

// BlobStore persists raw snapshot payloads.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher emits job lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue buffers sweep work for the dispatcher.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher produces content digests for archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts ID creation.
type IDGenerator interface {
	NewID() (string, error)
}
