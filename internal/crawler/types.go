// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a social platform crawled through the provider.
type Platform string

// Supported platforms.
const (
	PlatformInstagram  Platform = "instagram"
	PlatformFacebook   Platform = "facebook"
	PlatformGoogleMaps Platform = "googlemaps"
)

// Platforms returns the supported platforms in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformInstagram, PlatformFacebook, PlatformGoogleMaps}
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformFacebook, PlatformGoogleMaps:
		return true
	default:
		return false
	}
}

// ParsePlatform normalizes and validates a platform name.
func ParsePlatform(name string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrPlatformUnsupported, name)
	}
	return p, nil
}

// JobStatus represents the lifecycle state of a provider crawl job.
type JobStatus string

// Job status values persisted in the job ledger.
const (
	JobStatusTriggered JobStatus = "triggered"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ResultStatus is the processing state of a stored crawl result.
type ResultStatus string

// Result processing states.
const (
	ResultPending    ResultStatus = "pending"
	ResultIntegrated ResultStatus = "integrated"
	ResultFailed     ResultStatus = "failed"
)

// ScheduleStatus tracks a weekly batch.
type ScheduleStatus string

// Weekly schedule states.
const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleRunning   ScheduleStatus = "running"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleFailed    ScheduleStatus = "failed"
)

// Terminal reports whether the schedule has finished.
func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleCompleted || s == ScheduleFailed
}

// SocialMapping links a business to one platform URL.
type SocialMapping struct {
	ID          int64          `json:"id"`
	BusinessID  int64          `json:"business_id"`
	Platform    Platform       `json:"platform"`
	URL         string         `json:"url"`
	Params      PlatformParams `json:"-"`
	Active      bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	LastCrawled *time.Time     `json:"last_crawled,omitempty"`
}

// JobRequest is the original trigger request recorded with a job.
type JobRequest struct {
	URLs   []string       `json:"urls"`
	Params map[string]any `json:"params,omitempty"`
}

// CrawlJob is one asynchronous crawl issued to the provider.
type CrawlJob struct {
	ID          string     `json:"job_id"`
	Platform    Platform   `json:"platform"`
	DatasetID   string     `json:"dataset_id"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Request     JobRequest `json:"request"`
	ResultCount int        `json:"result_count"`
	ErrorText   string     `json:"error_message,omitempty"`
	ScheduleID  *int64     `json:"schedule_id,omitempty"`
	ArchiveURI  string     `json:"archive_uri,omitempty"`
}

// JobTransition describes a status change applied to the ledger.
type JobTransition struct {
	Status      JobStatus
	At          time.Time
	ErrorText   string
	ResultCount int
	ArchiveURI  string
}

// CrawlResult is one snapshot row stored for a job.
type CrawlResult struct {
	ID          int64          `json:"id"`
	JobID       string         `json:"job_id"`
	RowIndex    int            `json:"row_index"`
	SourceURL   string         `json:"source_url"`
	Platform    Platform       `json:"platform"`
	Raw         map[string]any `json:"raw_data"`
	ExtractedAt time.Time      `json:"extracted_at"`
	Processed   ResultStatus   `json:"processed"`
	Followers   *int64         `json:"followers_count,omitempty"`
	Posts       *int64         `json:"posts_count,omitempty"`
	Reviews     *int64         `json:"reviews_count,omitempty"`
	Rating      *float64       `json:"rating,omitempty"`
	ErrorText   string         `json:"error,omitempty"`
}

// Normalized is the platform-independent shape extracted from a raw row.
// Nil fields were not present in the payload.
type Normalized struct {
	SourceURL string
	Followers *int64
	Posts     *int64
	Reviews   *int64
	Rating    *float64
	Error     string
}

// DailyMetrics is a business's snapshot for one calendar day.
type DailyMetrics struct {
	ID                 int64     `json:"id"`
	BusinessID         int64     `json:"business_id"`
	Day                time.Time `json:"day"`
	CapturedAt         time.Time `json:"captured_at"`
	FollowersInstagram *int64    `json:"n_followers_ig,omitempty"`
	FansFacebook       *int64    `json:"n_fan_facebook,omitempty"`
	RatingGoogle       *float64  `json:"stelle_google,omitempty"`
	ReviewsGoogle      *int64    `json:"n_reviews_google,omitempty"`
	ReviewsFacebook    *int64    `json:"n_reviews_facebook,omitempty"`
}

// MetricsUpdate carries the fields to overwrite on a DailyMetrics row.
// Nil fields leave the stored value untouched.
type MetricsUpdate struct {
	FollowersInstagram *int64
	FansFacebook       *int64
	RatingGoogle       *float64
	ReviewsGoogle      *int64
	ReviewsFacebook    *int64
}

// Empty reports whether the update would change nothing.
func (u MetricsUpdate) Empty() bool {
	return u.FollowersInstagram == nil && u.FansFacebook == nil && u.RatingGoogle == nil &&
		u.ReviewsGoogle == nil && u.ReviewsFacebook == nil
}

// Apply copies the non-nil fields of u onto m.
func (m *DailyMetrics) Apply(u MetricsUpdate) {
	if u.FollowersInstagram != nil {
		m.FollowersInstagram = u.FollowersInstagram
	}
	if u.FansFacebook != nil {
		m.FansFacebook = u.FansFacebook
	}
	if u.RatingGoogle != nil {
		m.RatingGoogle = u.RatingGoogle
	}
	if u.ReviewsGoogle != nil {
		m.ReviewsGoogle = u.ReviewsGoogle
	}
	if u.ReviewsFacebook != nil {
		m.ReviewsFacebook = u.ReviewsFacebook
	}
}

// WeeklySchedule tracks the batch crawl of one ISO week.
type WeeklySchedule struct {
	ID              int64          `json:"id"`
	WeekStart       time.Time      `json:"week_start"`
	Status          ScheduleStatus `json:"status"`
	TotalJobs       int            `json:"total_jobs"`
	CompletedJobs   int            `json:"completed_jobs"`
	FailedJobs      int            `json:"failed_jobs"`
	TriggerFailures int            `json:"trigger_failures"`
	Notes           string         `json:"notes,omitempty"`
	TriggeredAt     time.Time      `json:"triggered_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// ProviderState is the provider-side job state reported by a poll.
type ProviderState string

// Provider poll states. ProviderStateNotFound means the snapshot is not yet
// visible and must not change persisted state.
const (
	ProviderStateRunning   ProviderState = "running"
	ProviderStateCompleted ProviderState = "completed"
	ProviderStateFailed    ProviderState = "failed"
	ProviderStateNotFound  ProviderState = "not_found"
)

// TriggerResult is returned by a successful provider trigger.
type TriggerResult struct {
	Handle    string         `json:"snapshot_id"`
	DatasetID string         `json:"dataset_id"`
	Response  map[string]any `json:"response,omitempty"`
}

// SnapshotStatus is the outcome of polling a job handle.
type SnapshotStatus struct {
	State     ProviderState `json:"state"`
	RawStatus string        `json:"status,omitempty"`
	Progress  any           `json:"progress,omitempty"`
	TotalRows int           `json:"total_rows"`
}

// ResultFormat selects the snapshot download encoding.
type ResultFormat string

// Snapshot download formats.
const (
	FormatJSON ResultFormat = "json"
	FormatCSV  ResultFormat = "csv"
)

// ParseResultFormat validates a format name, defaulting to JSON.
func ParseResultFormat(name string) (ResultFormat, error) {
	switch ResultFormat(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported result format %q", name)
	}
}

// Snapshot is a downloaded result set.
type Snapshot struct {
	Format      ResultFormat
	ContentType string
	Body        []byte
	Rows        []map[string]any
}

// QueueItem is a unit of sweep work.
type QueueItem struct {
	Job      CrawlJob
	Enqueued time.Time
}

// JobEvent is published once a job's results have been integrated.
type JobEvent struct {
	EventID     string    `json:"event_id"`
	JobID       string    `json:"job_id"`
	Platform    Platform  `json:"platform"`
	Status      JobStatus `json:"status"`
	ResultCount int       `json:"result_count"`
	Integrated  int       `json:"integrated"`
	Skipped     int       `json:"skipped"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Attributes returns the message attributes used to route the event.
func (e JobEvent) Attributes() map[string]string {
	return map[string]string{
		"job_id":   e.JobID,
		"platform": string(e.Platform),
		"status":   string(e.Status),
	}
}
