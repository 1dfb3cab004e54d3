package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/worker"
)

func TestTriggerWeeklyCrawlOncePerWeek(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addMapping(t, 1, crawler.PlatformInstagram, "https://instagram.com/a", nil)

	first, err := f.service.TriggerWeeklyCrawl(ctx)
	require.NoError(t, err)
	require.False(t, first.AlreadyScheduled)

	for i := 0; i < 3; i++ {
		again, err := f.service.TriggerWeeklyCrawl(ctx)
		require.NoError(t, err)
		require.True(t, again.AlreadyScheduled)
		require.Equal(t, first.Schedule.ID, again.Schedule.ID)
		require.Empty(t, again.Jobs)
	}

	week := crawler.WeekStart(monday, f.rome)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), week)
	require.Equal(t, 1, f.store.CountOpenSchedules(week))
	require.Len(t, f.provider.triggerCalls(), 1)
}

func TestTriggerWeeklyCrawlWeekStartUsesBusinessTimeZone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Sunday 23:30 UTC is already Monday in Rome.
	f.clock.Set(time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC))

	out, err := f.service.TriggerWeeklyCrawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), out.Schedule.WeekStart)
}

func TestTriggerWeeklyCrawlWithoutMappings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, err := f.service.TriggerWeeklyCrawl(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.ScheduleCompleted, out.Schedule.Status)
	require.Equal(t, NoMappingsNote, out.Schedule.Notes)
	require.NotNil(t, out.Schedule.CompletedAt)
	require.Empty(t, f.provider.triggerCalls())

	// The finished schedule does not block a retry in the same week.
	f.addMapping(t, 1, crawler.PlatformInstagram, "https://instagram.com/a", nil)
	retry, err := f.service.TriggerWeeklyCrawl(context.Background())
	require.NoError(t, err)
	require.False(t, retry.AlreadyScheduled)
	require.Len(t, retry.Jobs, 1)
}

func TestTriggerWeeklyCrawlGroupsByPlatformWithFirstParams(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addMapping(t, 1, crawler.PlatformFacebook, "https://facebook.com/a", crawler.FacebookParams{ReviewLimit: intPtr(10)})
	f.addMapping(t, 2, crawler.PlatformInstagram, "https://instagram.com/b", nil)
	f.addMapping(t, 3, crawler.PlatformFacebook, "https://facebook.com/c", crawler.FacebookParams{ReviewLimit: intPtr(50)})

	out, err := f.service.TriggerWeeklyCrawl(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Jobs, 2)

	calls := f.provider.triggerCalls()
	require.Len(t, calls, 2)
	require.Equal(t, crawler.PlatformFacebook, calls[0].platform)
	require.Equal(t, []string{"https://facebook.com/a", "https://facebook.com/c"}, calls[0].urls)
	require.Equal(t, crawler.FacebookParams{ReviewLimit: intPtr(10)}, calls[0].params)
	require.Equal(t, crawler.PlatformInstagram, calls[1].platform)
	require.Equal(t, crawler.InstagramParams{}, calls[1].params)

	job, err := f.store.GetJob(context.Background(), out.Jobs[0].ID)
	require.NoError(t, err)
	require.Equal(t, out.Schedule.ID, *job.ScheduleID)
	require.EqualValues(t, 10, job.Request.Params[crawler.ParamNumOfReviews])
}

func TestTriggerWeeklyCrawlPartialFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addMapping(t, 1, crawler.PlatformInstagram, "https://instagram.com/a", nil)
	f.addMapping(t, 1, crawler.PlatformGoogleMaps, "https://maps.google.com/a", nil)
	f.provider.failFor[crawler.PlatformGoogleMaps] = errProviderDown

	out, err := f.service.TriggerWeeklyCrawl(context.Background())
	require.NoError(t, err)
	require.True(t, out.Partial())
	require.Len(t, out.Jobs, 1)
	require.Len(t, out.Failures, 1)
	require.Equal(t, crawler.PlatformGoogleMaps, out.Failures[0].Platform)
	require.Equal(t, crawler.ScheduleRunning, out.Schedule.Status)
	require.Equal(t, 1, out.Schedule.TotalJobs)
	require.Equal(t, 1, out.Schedule.TriggerFailures)
	require.Contains(t, out.Schedule.Notes, "googlemaps")
}

func TestTriggerWeeklyCrawlAllGroupsFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addMapping(t, 1, crawler.PlatformInstagram, "https://instagram.com/a", nil)
	f.provider.failFor[crawler.PlatformInstagram] = errProviderDown

	out, err := f.service.TriggerWeeklyCrawl(context.Background())
	require.NoError(t, err)
	require.False(t, out.Partial())
	require.Equal(t, crawler.ScheduleFailed, out.Schedule.Status)
	require.NotNil(t, out.Schedule.CompletedAt)

	stored, err := f.store.GetSchedule(context.Background(), out.Schedule.WeekStart)
	require.NoError(t, err)
	require.Equal(t, crawler.ScheduleFailed, stored.Status)
}

func TestSweepIsolatesJobFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addMapping(t, 1, crawler.PlatformInstagram, "https://instagram.com/a", nil)
	f.addMapping(t, 1, crawler.PlatformFacebook, "https://facebook.com/a", nil)
	f.addMapping(t, 1, crawler.PlatformGoogleMaps, "https://maps.google.com/a", nil)

	out, err := f.service.TriggerWeeklyCrawl(ctx)
	require.NoError(t, err)
	require.Len(t, out.Jobs, 3)
	ig, fb, gm := out.Jobs[0].ID, out.Jobs[1].ID, out.Jobs[2].ID

	f.provider.pollErrFor[ig] = errProviderDown
	f.provider.setState(fb, crawler.ProviderStateFailed)
	f.provider.complete(gm, map[string]any{"url": "https://maps.google.com/a", "rating": 4.4, "reviews_count": 31})

	sweep, err := f.service.SweepJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, sweep.Jobs)
	require.Equal(t, 1, sweep.Summary.Completed)
	require.Equal(t, 1, sweep.Summary.Failed)
	require.Len(t, sweep.Summary.Errors, 1)
	require.Equal(t, ig, sweep.Summary.Errors[0].JobID)
	require.Zero(t, sweep.SchedulesClosed)

	failed, err := f.store.GetJob(ctx, fb)
	require.NoError(t, err)
	require.Equal(t, worker.ProviderFailedMessage, failed.ErrorText)

	status, err := f.service.WeeklyCrawlStatus(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 3, status.Total)
	require.Equal(t, 1, status.Triggered)
	require.Equal(t, 1, status.Completed)
	require.Equal(t, 1, status.Failed)
	require.Equal(t, crawler.ScheduleRunning, status.Schedule.Status)
	require.Equal(t, 1, status.Schedule.CompletedJobs)
	require.Equal(t, 1, status.Schedule.FailedJobs)

	metrics, err := f.service.DailyMetrics(ctx, 1, nil)
	require.NoError(t, err)
	require.InDelta(t, 4.4, *metrics.RatingGoogle, 1e-9)
	require.EqualValues(t, 31, *metrics.ReviewsGoogle)

	// Once the stuck job resolves the schedule closes.
	delete(f.provider.pollErrFor, ig)
	f.provider.setState(ig, crawler.ProviderStateFailed)
	sweep, err = f.service.SweepJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Jobs)
	require.Equal(t, 1, sweep.SchedulesClosed)

	status, err = f.service.WeeklyCrawlStatus(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, crawler.ScheduleCompleted, status.Schedule.Status)
	require.Equal(t, 2, status.Schedule.FailedJobs)
}

func TestSweepLeavesScheduleOpenWhileTriggering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addMapping(t, 1, crawler.PlatformInstagram, "https://instagram.com/a", nil)
	gate := f.provider.gateNext()
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(gate.release) }) }
	t.Cleanup(release)

	type triggered struct {
		out WeeklyOutcome
		err error
	}
	first := make(chan triggered, 1)
	go func() {
		out, err := f.service.TriggerWeeklyCrawl(ctx)
		first <- triggered{out: out, err: err}
	}()
	<-gate.entered

	sweep, err := f.service.SweepJobs(ctx)
	require.NoError(t, err)
	require.Zero(t, sweep.SchedulesClosed)

	second, err := f.service.TriggerWeeklyCrawl(ctx)
	require.NoError(t, err)
	require.True(t, second.AlreadyScheduled)

	release()
	res := <-first
	require.NoError(t, res.err)
	require.Len(t, res.out.Jobs, 1)
	require.Equal(t, crawler.ScheduleRunning, res.out.Schedule.Status)
	require.Equal(t, second.Schedule.ID, res.out.Schedule.ID)
	require.Len(t, f.provider.triggerCalls(), 1)

	open, err := f.store.ListOpenSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	// Once the batch is recorded the sweep closes it normally.
	f.provider.complete(res.out.Jobs[0].ID, map[string]any{"url": "https://instagram.com/a", "followers": 10})
	sweep, err = f.service.SweepJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.SchedulesClosed)
}

func TestSweepIgnoresJobsOutsideWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.CreateJob(ctx, crawler.CrawlJob{
		ID:        "old",
		Platform:  crawler.PlatformInstagram,
		Status:    crawler.JobStatusTriggered,
		CreatedAt: monday.AddDate(0, 0, -8),
	}))
	f.provider.complete("old", map[string]any{"url": "https://instagram.com/a", "followers": 1})

	sweep, err := f.service.SweepJobs(ctx)
	require.NoError(t, err)
	require.Zero(t, sweep.Jobs)

	job, err := f.store.GetJob(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusTriggered, job.Status)
}

func TestTriggerCrawl(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	job, err := f.service.TriggerCrawl(ctx, " GoogleMaps ", []string{" https://maps.google.com/a ", ""},
		map[string]any{"days_limit": "30", "ignored": true})
	require.NoError(t, err)
	require.Equal(t, crawler.PlatformGoogleMaps, job.Platform)
	require.Equal(t, []string{"https://maps.google.com/a"}, job.Request.URLs)
	require.Nil(t, job.ScheduleID)

	calls := f.provider.triggerCalls()
	require.Len(t, calls, 1)
	require.Equal(t, crawler.GoogleMapsParams{DayLimit: intPtr(30)}, calls[0].params)

	stored, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusTriggered, stored.Status)
}

func TestTriggerCrawlRejectsBadInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.TriggerCrawl(ctx, "tiktok", []string{"https://tiktok.com/a"}, nil)
	require.ErrorIs(t, err, crawler.ErrPlatformUnsupported)

	_, err = f.service.TriggerCrawl(ctx, "instagram", []string{"  "}, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidParams)

	_, err = f.service.TriggerCrawl(ctx, "facebook", []string{"https://facebook.com/a"},
		map[string]any{"num_of_reviews": "many"})
	require.ErrorIs(t, err, crawler.ErrInvalidParams)

	require.Empty(t, f.provider.triggerCalls())
}

func TestTriggerCrawlProviderFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.failFor[crawler.PlatformInstagram] = errProviderDown

	_, err := f.service.TriggerCrawl(context.Background(), "instagram", []string{"https://instagram.com/a"}, nil)
	require.ErrorIs(t, err, crawler.ErrProviderUnavailable)
}

func TestJobStatusPersistsRunningAndFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	job, err := f.service.TriggerCrawl(ctx, "instagram", []string{"https://instagram.com/a"}, nil)
	require.NoError(t, err)

	report, err := f.service.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.ProviderStateNotFound, report.Provider.State)
	require.Equal(t, crawler.JobStatusTriggered, report.Job.Status)

	f.provider.setState(job.ID, crawler.ProviderStateRunning)
	report, err = f.service.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, report.Job.Status)

	f.provider.complete(job.ID, map[string]any{"url": "https://instagram.com/a"})
	report, err = f.service.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.ProviderStateCompleted, report.Provider.State)
	require.Equal(t, crawler.JobStatusRunning, report.Job.Status)

	f.provider.setState(job.ID, crawler.ProviderStateFailed)
	report, err = f.service.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, report.Job.Status)
	require.Equal(t, worker.ProviderFailedMessage, report.Job.ErrorText)
}

func TestJobStatusUnknownToLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.setState("external", crawler.ProviderStateRunning)

	report, err := f.service.JobStatus(context.Background(), "external")
	require.NoError(t, err)
	require.Equal(t, crawler.ProviderStateRunning, report.Provider.State)
	require.Nil(t, report.Job)
}

func TestJobResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addMapping(t, 9, crawler.PlatformFacebook, "https://facebook.com/a", nil)
	job, err := f.service.TriggerCrawl(ctx, "facebook", []string{"https://facebook.com/a"}, nil)
	require.NoError(t, err)

	_, err = f.service.JobResults(ctx, job.ID, true, crawler.FormatJSON)
	require.ErrorIs(t, err, crawler.ErrJobNotCompleted)

	f.provider.complete(job.ID, map[string]any{"url": "https://facebook.com/a", "fan_count": 120, "rating": 4.5})
	report, err := f.service.JobResults(ctx, job.ID, true, crawler.FormatJSON)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, report.Job.Status)
	require.Equal(t, 1, report.Inserted)
	require.Len(t, report.Results, 1)
	require.Equal(t, 1, report.Integration.Integrated)

	// Served from the ledger the second time; nothing is re-applied.
	again, err := f.service.JobResults(ctx, job.ID, true, crawler.FormatJSON)
	require.NoError(t, err)
	require.Zero(t, again.Inserted)
	require.Zero(t, again.Integration.Integrated)
	require.Equal(t, 1, f.store.CountDailyMetrics(9))

	metrics, err := f.service.DailyMetrics(ctx, 9, nil)
	require.NoError(t, err)
	require.EqualValues(t, 120, *metrics.FansFacebook)
	require.Nil(t, metrics.ReviewsFacebook)
}

func TestJobResultsWithoutIntegration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addMapping(t, 9, crawler.PlatformInstagram, "https://instagram.com/a", nil)
	job, err := f.service.TriggerCrawl(ctx, "instagram", []string{"https://instagram.com/a"}, nil)
	require.NoError(t, err)
	f.provider.complete(job.ID, map[string]any{"url": "https://instagram.com/a", "followers": 10})

	report, err := f.service.JobResults(ctx, job.ID, false, "")
	require.NoError(t, err)
	require.Nil(t, report.Integration)
	require.Equal(t, crawler.ResultPending, report.Results[0].Processed)
	require.Zero(t, f.store.CountDailyMetrics(9))
}

func TestJobResultsErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.JobResults(ctx, "missing", false, "")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)

	job, err := f.service.TriggerCrawl(ctx, "instagram", []string{"https://instagram.com/a"}, nil)
	require.NoError(t, err)
	f.provider.setState(job.ID, crawler.ProviderStateFailed)
	_, err = f.service.JobStatus(ctx, job.ID)
	require.NoError(t, err)

	_, err = f.service.JobResults(ctx, job.ID, false, "")
	require.ErrorIs(t, err, crawler.ErrJobNotCompleted)
}

func TestCreateAndListSocialMappings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	batch, err := f.service.CreateSocialMappings(ctx, 4, []MappingInput{
		{Platform: "instagram", URL: "https://instagram.com/shop"},
		{Platform: "facebook", URL: "https://facebook.com/shop", Params: map[string]any{"num_of_reviews": 25}},
		{Platform: "instagram", URL: "https://instagram.com/shop"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, batch.Created)
	require.Len(t, batch.Mappings, 2)
	require.Equal(t, crawler.FacebookParams{ReviewLimit: intPtr(25)}, batch.Mappings[1].Params)

	again, err := f.service.CreateSocialMappings(ctx, 4, []MappingInput{
		{Platform: "instagram", URL: "https://instagram.com/shop"},
	})
	require.NoError(t, err)
	require.Zero(t, again.Created)
	require.Empty(t, again.Mappings)

	listed, err := f.service.ListSocialMappings(ctx, 4)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	empty, err := f.service.ListSocialMappings(ctx, 99)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestCreateSocialMappingsValidatesBeforeWriting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.CreateSocialMappings(ctx, 4, []MappingInput{
		{Platform: "instagram", URL: "https://instagram.com/shop"},
		{Platform: "myspace", URL: "https://myspace.com/shop"},
	})
	require.ErrorIs(t, err, crawler.ErrPlatformUnsupported)

	_, err = f.service.CreateSocialMappings(ctx, 4, []MappingInput{{Platform: "facebook", URL: " "}})
	require.ErrorIs(t, err, crawler.ErrInvalidParams)

	_, err = f.service.CreateSocialMappings(ctx, 4, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidParams)

	_, err = f.service.CreateSocialMappings(ctx, 0, []MappingInput{{Platform: "facebook", URL: "x"}})
	require.ErrorIs(t, err, crawler.ErrInvalidParams)

	listed, err := f.service.ListSocialMappings(ctx, 4)
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestDailyMetricsNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err := f.service.DailyMetrics(context.Background(), 1, &day)
	requireNotFound(t, err)
	require.False(t, errors.Is(err, crawler.ErrJobNotFound))
}

func TestWeeklyCrawlStatusWithoutSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	_, err := f.service.TriggerCrawl(ctx, "instagram", []string{"https://instagram.com/a"}, nil)
	require.NoError(t, err)

	week := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	status, err := f.service.WeeklyCrawlStatus(ctx, &week)
	require.NoError(t, err)
	require.Nil(t, status.Schedule)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), status.WeekStart)
	require.Equal(t, 1, status.Total)
	require.Equal(t, 1, status.Triggered)

	previous := time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC)
	status, err = f.service.WeeklyCrawlStatus(ctx, &previous)
	require.NoError(t, err)
	require.Zero(t, status.Total)
	require.NotNil(t, status.Jobs)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.CreateJob(ctx, crawler.CrawlJob{
		ID: "old", Platform: crawler.PlatformInstagram, Status: crawler.JobStatusFailed, CreatedAt: monday.AddDate(0, 0, -10),
	}))
	fresh, err := f.service.TriggerCrawl(ctx, "instagram", []string{"https://instagram.com/a"}, nil)
	require.NoError(t, err)

	jobs, err := f.service.ListJobs(ctx, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, fresh.ID, jobs[0].ID)

	since := monday.AddDate(0, 0, -30)
	jobs, err = f.service.ListJobs(ctx, &since)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}
