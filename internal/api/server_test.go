package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/config"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/orchestrator"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&fakeService{}, nil, config.Config{}), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	down := func(context.Context) error { return errors.New("db down") }
	rec := serve(t, newTestServer(&fakeService{}, down, config.Config{}), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	up := func(context.Context) error { return nil }
	rec = serve(t, newTestServer(&fakeService{}, up, config.Config{}), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_TriggerWeeklyCrawl(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		weekly: orchestrator.WeeklyOutcome{
			Schedule: crawler.WeeklySchedule{ID: 7, Status: crawler.ScheduleRunning},
			Jobs:     []crawler.CrawlJob{{ID: "s_1", Platform: crawler.PlatformInstagram}},
		},
	}
	rec := serve(t, newTestServer(svc, nil, config.Config{}), http.MethodPost, "/v1/weekly-crawl", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body struct {
		AlreadyScheduled bool                   `json:"already_scheduled"`
		Partial          bool                   `json:"partial"`
		Jobs             []crawler.CrawlJob     `json:"jobs"`
		Failures         []json.RawMessage      `json:"failures"`
		Schedule         crawler.WeeklySchedule `json:"schedule"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.AlreadyScheduled)
	require.False(t, body.Partial)
	require.Len(t, body.Jobs, 1)
	require.NotNil(t, body.Failures)
	require.Equal(t, int64(7), body.Schedule.ID)
}

func TestServer_TriggerWeeklyCrawl_AlreadyScheduled(t *testing.T) {
	t.Parallel()

	svc := &fakeService{weekly: orchestrator.WeeklyOutcome{AlreadyScheduled: true}}
	rec := serve(t, newTestServer(svc, nil, config.Config{}), http.MethodPost, "/v1/weekly-crawl", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"already_scheduled":true`)
}

func TestServer_WeeklyCrawlStatus(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	server := newTestServer(svc, nil, config.Config{})

	rec := serve(t, server, http.MethodGet, "/v1/weekly-crawl?week_start=2024-03-04", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastWeek)
	require.Equal(t, "2024-03-04", svc.lastWeek.Format(time.DateOnly))

	rec = serve(t, server, http.MethodGet, "/v1/weekly-crawl?week_start=last-monday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "week_start must be YYYY-MM-DD")
}

func TestServer_TriggerCrawl(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	server := newTestServer(svc, nil, config.Config{})

	body := []byte(`{"platform":"facebook","urls":["https://facebook.com/acme"],"params":{"num_of_reviews":5}}`)
	rec := serve(t, server, http.MethodPost, "/v1/crawls", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"job_id":"s_new"`)
	require.Equal(t, "facebook", svc.lastPlatform)
	require.Equal(t, []string{"https://facebook.com/acme"}, svc.lastURLs)
	require.EqualValues(t, 5, svc.lastParams["num_of_reviews"])
}

func TestServer_TriggerCrawl_InvalidJSON(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&fakeService{}, nil, config.Config{}), http.MethodPost, "/v1/crawls", []byte("{"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"invalid JSON"}`, rec.Body.String())
}

func TestServer_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"unsupported platform", fmt.Errorf("%w: myspace", crawler.ErrPlatformUnsupported), http.StatusBadRequest},
		{"invalid params", fmt.Errorf("%w: bad", crawler.ErrInvalidParams), http.StatusBadRequest},
		{"provider unavailable", fmt.Errorf("trigger: %w", crawler.ErrProviderUnavailable), http.StatusBadGateway},
		{"provider error", fmt.Errorf("trigger: %w", crawler.ErrProviderError), http.StatusBadGateway},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{triggerErr: tc.err}
			body := []byte(`{"platform":"instagram","urls":["https://instagram.com/acme"]}`)
			rec := serve(t, newTestServer(svc, nil, config.Config{}), http.MethodPost, "/v1/crawls", body)
			require.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusInternalServerError {
				require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
			} else {
				require.Contains(t, rec.Body.String(), tc.err.Error())
			}
		})
	}
}

func TestServer_JobStatus(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	server := newTestServer(svc, nil, config.Config{})

	rec := serve(t, server, http.MethodGet, "/v1/crawls/s_1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"job_id":"s_1"`)

	svc.statusErr = crawler.ErrJobNotFound
	rec = serve(t, server, http.MethodGet, "/v1/crawls/s_missing/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_JobResults(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	server := newTestServer(svc, nil, config.Config{Provider: config.ProviderConfig{ResultFormat: "csv"}})

	rec := serve(t, server, http.MethodGet, "/v1/crawls/s_1/results?auto_integrate=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.lastAutoIntegrate)
	require.Equal(t, crawler.FormatCSV, svc.lastFormat)
	require.Contains(t, rec.Body.String(), `"total":1`)

	rec = serve(t, server, http.MethodGet, "/v1/crawls/s_1/results?auto_integrate=false&format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, svc.lastAutoIntegrate)
	require.Equal(t, crawler.FormatJSON, svc.lastFormat)

	// Integration is on unless explicitly disabled.
	rec = serve(t, server, http.MethodGet, "/v1/crawls/s_1/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.lastAutoIntegrate)
	require.Equal(t, crawler.FormatCSV, svc.lastFormat)

	rec = serve(t, server, http.MethodGet, "/v1/crawls/s_1/results?auto_integrate=maybe", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, server, http.MethodGet, "/v1/crawls/s_1/results?format=xml", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	svc.resultsErr = fmt.Errorf("job s_1: %w", crawler.ErrJobNotCompleted)
	rec = serve(t, server, http.MethodGet, "/v1/crawls/s_1/results", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ListJobs(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	server := newTestServer(svc, nil, config.Config{})

	rec := serve(t, server, http.MethodGet, "/v1/crawls?since=2024-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"jobs":[]`)
	require.Equal(t, "2024-03-01", svc.lastSince.Format(time.DateOnly))
}

func TestServer_Mappings(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	server := newTestServer(svc, nil, config.Config{})

	body := []byte(`{"mappings":[{"platform":"instagram","url":"https://instagram.com/acme","crawl_params":{"num_of_reviews":3}}]}`)
	rec := serve(t, server, http.MethodPost, "/v1/businesses/42/mappings", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, int64(42), svc.lastBusinessID)
	require.Len(t, svc.lastInputs, 1)
	require.Equal(t, "instagram", svc.lastInputs[0].Platform)
	require.EqualValues(t, 3, svc.lastInputs[0].Params["num_of_reviews"])

	rec = serve(t, server, http.MethodGet, "/v1/businesses/42/mappings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"business_id":42`)

	rec = serve(t, server, http.MethodGet, "/v1/businesses/zero/mappings", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DailyMetrics(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	server := newTestServer(svc, nil, config.Config{})

	rec := serve(t, server, http.MethodGet, "/v1/businesses/42/metrics?day=2024-03-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2024-03-05", svc.lastDay.Format(time.DateOnly))

	svc.metricsErr = crawler.ErrNotFound
	rec = serve(t, server, http.MethodGet, "/v1/businesses/42/metrics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Nil(t, svc.lastDay)
}

func TestServer_Sweep(t *testing.T) {
	t.Parallel()

	svc := &fakeService{sweep: orchestrator.SweepReport{Jobs: 3, SchedulesClosed: 1}}
	rec := serve(t, newTestServer(svc, nil, config.Config{}), http.MethodPost, "/v1/sweeps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"schedules_closed":1`)
}

func TestServer_APIKeyRequired(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := newTestServer(&fakeService{}, nil, cfg)

	rec := serve(t, server, http.MethodGet, "/v1/crawls/s_1/status", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/s_1/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func newTestServer(svc Service, ready ReadinessCheck, cfg config.Config) *Server {
	return NewServer(svc, ready, cfg, zap.NewNop())
}

func serve(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeService struct {
	mu sync.Mutex

	weekly     orchestrator.WeeklyOutcome
	sweep      orchestrator.SweepReport
	triggerErr error
	statusErr  error
	resultsErr error
	metricsErr error

	lastWeek          *time.Time
	lastSince         *time.Time
	lastDay           *time.Time
	lastPlatform      string
	lastURLs          []string
	lastParams        map[string]any
	lastAutoIntegrate bool
	lastFormat        crawler.ResultFormat
	lastBusinessID    int64
	lastInputs        []orchestrator.MappingInput
}

func (f *fakeService) TriggerWeeklyCrawl(context.Context) (orchestrator.WeeklyOutcome, error) {
	return f.weekly, nil
}

func (f *fakeService) WeeklyCrawlStatus(_ context.Context, week *time.Time) (orchestrator.WeeklyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWeek = week
	return orchestrator.WeeklyStatus{Jobs: []crawler.CrawlJob{}}, nil
}

func (f *fakeService) TriggerCrawl(
	_ context.Context,
	platform string,
	urls []string,
	params map[string]any,
) (crawler.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPlatform, f.lastURLs, f.lastParams = platform, urls, params
	if f.triggerErr != nil {
		return crawler.CrawlJob{}, f.triggerErr
	}
	return crawler.CrawlJob{ID: "s_new", Platform: crawler.Platform(platform), Status: crawler.JobStatusTriggered}, nil
}

func (f *fakeService) ListJobs(_ context.Context, since *time.Time) ([]crawler.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSince = since
	return []crawler.CrawlJob{}, nil
}

func (f *fakeService) JobStatus(_ context.Context, jobID string) (orchestrator.JobStatusReport, error) {
	if f.statusErr != nil {
		return orchestrator.JobStatusReport{}, f.statusErr
	}
	return orchestrator.JobStatusReport{
		JobID:    jobID,
		Provider: crawler.SnapshotStatus{State: crawler.ProviderStateRunning},
	}, nil
}

func (f *fakeService) JobResults(
	_ context.Context,
	jobID string,
	autoIntegrate bool,
	format crawler.ResultFormat,
) (orchestrator.JobResultsReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAutoIntegrate, f.lastFormat = autoIntegrate, format
	if f.resultsErr != nil {
		return orchestrator.JobResultsReport{}, f.resultsErr
	}
	return orchestrator.JobResultsReport{
		Job:      crawler.CrawlJob{ID: jobID, Status: crawler.JobStatusCompleted},
		Inserted: 1,
		Results:  []crawler.CrawlResult{{JobID: jobID, RowIndex: 0}},
	}, nil
}

func (f *fakeService) CreateSocialMappings(
	_ context.Context,
	businessID int64,
	inputs []orchestrator.MappingInput,
) (orchestrator.MappingBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBusinessID, f.lastInputs = businessID, inputs
	return orchestrator.MappingBatch{BusinessID: businessID, Created: len(inputs)}, nil
}

func (f *fakeService) ListSocialMappings(_ context.Context, _ int64) ([]crawler.SocialMapping, error) {
	return []crawler.SocialMapping{}, nil
}

func (f *fakeService) DailyMetrics(_ context.Context, businessID int64, day *time.Time) (crawler.DailyMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDay = day
	if f.metricsErr != nil {
		return crawler.DailyMetrics{}, f.metricsErr
	}
	return crawler.DailyMetrics{BusinessID: businessID}, nil
}

func (f *fakeService) SweepJobs(context.Context) (orchestrator.SweepReport, error) {
	return f.sweep, nil
}
