package integrator

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }

func seedJob(t *testing.T, store *memory.Store, jobID string, rows ...crawler.CrawlResult) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawler.CrawlJob{ID: jobID, Status: crawler.JobStatusTriggered}))
	for i := range rows {
		rows[i].JobID = jobID
		rows[i].RowIndex = i
	}
	_, err := store.SaveResults(ctx, rows)
	require.NoError(t, err)
}

func seedMapping(t *testing.T, store *memory.Store, business int64, p crawler.Platform, url string) crawler.SocialMapping {
	t.Helper()
	m, _, err := store.CreateMapping(context.Background(), crawler.SocialMapping{
		BusinessID: business, Platform: p, URL: url, Active: true,
	})
	require.NoError(t, err)
	return m
}

func TestIntegrateJobAppliesMetrics(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	now := time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)

	ig := seedMapping(t, store, 1, crawler.PlatformInstagram, "https://instagram.com/x")
	seedMapping(t, store, 1, crawler.PlatformGoogleMaps, "https://maps.google.com/x")
	seedJob(t, store, "s_1",
		crawler.CrawlResult{Platform: crawler.PlatformInstagram, SourceURL: "https://instagram.com/x", Followers: int64Ptr(500)},
		crawler.CrawlResult{Platform: crawler.PlatformGoogleMaps, SourceURL: "https://maps.google.com/x",
			Rating: float64Ptr(4.4), Reviews: int64Ptr(0)},
	)

	integ := New(store, fakeClock{now: now}, rome, zap.NewNop())
	report, err := integ.IntegrateJob(context.Background(), "s_1")
	require.NoError(t, err)
	require.Equal(t, 2, report.Integrated)
	require.Zero(t, report.Skipped)

	// 23:30 UTC is already the next day in Rome.
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	row, err := store.GetDailyMetrics(context.Background(), 1, day)
	require.NoError(t, err)
	require.Equal(t, int64(500), *row.FollowersInstagram)
	require.InDelta(t, 4.4, *row.RatingGoogle, 0.0001)
	require.Nil(t, row.ReviewsGoogle)
	require.True(t, row.CapturedAt.Equal(now))

	mappings, err := store.ListMappings(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, ig.ID, mappings[0].ID)
	require.NotNil(t, mappings[0].LastCrawled)
}

func TestIntegrateJobIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	seedMapping(t, store, 2, crawler.PlatformFacebook, "https://facebook.com/p")
	seedJob(t, store, "s_2", crawler.CrawlResult{
		Platform: crawler.PlatformFacebook, SourceURL: "https://facebook.com/p",
		Followers: int64Ptr(120), Reviews: int64Ptr(3),
	})
	integ := New(store, fakeClock{now: now}, time.UTC, zap.NewNop())

	first, err := integ.IntegrateJob(context.Background(), "s_2")
	require.NoError(t, err)
	require.Equal(t, 1, first.Integrated)
	day := crawler.DateOf(now, time.UTC)
	before, err := store.GetDailyMetrics(context.Background(), 2, day)
	require.NoError(t, err)

	second, err := integ.IntegrateJob(context.Background(), "s_2")
	require.NoError(t, err)
	require.Zero(t, second.Integrated)
	after, err := store.GetDailyMetrics(context.Background(), 2, day)
	require.NoError(t, err)

	require.Equal(t, before, after)
	require.Equal(t, int64(120), *after.FansFacebook)
	require.Equal(t, int64(3), *after.ReviewsFacebook)
	require.Equal(t, 1, store.CountDailyMetrics(2))
}

func TestIntegrateJobLeavesUnmappedResultsPending(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	seedMapping(t, store, 3, crawler.PlatformInstagram, "https://instagram.com/other")
	seedJob(t, store, "s_3", crawler.CrawlResult{
		Platform: crawler.PlatformInstagram, SourceURL: "https://instagram.com/unknown", Followers: int64Ptr(9),
	})
	integ := New(store, fakeClock{now: now}, time.UTC, zap.NewNop())

	report, err := integ.IntegrateJob(context.Background(), "s_3")
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Integrated)

	pending, err := store.ListPendingResults(context.Background(), "s_3")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Zero(t, store.CountDailyMetrics(3))
}

func TestIntegrateJobSkipsFailedRows(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seedMapping(t, store, 4, crawler.PlatformInstagram, "https://instagram.com/x")
	seedJob(t, store, "s_4", crawler.CrawlResult{
		Platform: crawler.PlatformInstagram, SourceURL: "https://instagram.com/x",
		Processed: crawler.ResultFailed, ErrorText: "dead_page",
	})
	integ := New(store, fakeClock{now: time.Now()}, nil, nil)

	report, err := integ.IntegrateJob(context.Background(), "s_4")
	require.NoError(t, err)
	require.Equal(t, Report{JobID: "s_4"}, report)
}

func TestUpdateForDropsNonPositiveValues(t *testing.T) {
	t.Parallel()

	u := UpdateFor(crawler.CrawlResult{
		Platform:  crawler.PlatformFacebook,
		Followers: int64Ptr(0),
		Reviews:   int64Ptr(-1),
		Rating:    float64Ptr(4.0),
	})
	require.True(t, u.Empty())

	u = UpdateFor(crawler.CrawlResult{Platform: crawler.PlatformGoogleMaps, Rating: float64Ptr(3.9), Reviews: int64Ptr(12)})
	require.InDelta(t, 3.9, *u.RatingGoogle, 0.0001)
	require.Equal(t, int64(12), *u.ReviewsGoogle)
	require.Nil(t, u.FansFacebook)
}
