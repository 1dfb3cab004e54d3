// Package brightdata implements crawler.Provider against the Bright Data
// datasets API: trigger a snapshot, poll it, download its rows.
package brightdata

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/metrics"
)

// DefaultBaseURL is the public datasets API root.
const DefaultBaseURL = "https://api.brightdata.com/datasets/v3"

// Default per-operation timeouts.
const (
	DefaultTriggerTimeout = 30 * time.Second
	DefaultPollTimeout    = 30 * time.Second
	DefaultFetchTimeout   = 60 * time.Second
)

const maxErrorBody = 512

// DefaultDatasets returns the dataset identifiers used per platform.
func DefaultDatasets() map[crawler.Platform]string {
	return map[crawler.Platform]string{
		crawler.PlatformInstagram:  "gd_l1vikfch901nx3by4",
		crawler.PlatformFacebook:   "gd_m0dtqpiu1mbcyc2g86",
		crawler.PlatformGoogleMaps: "gd_luzfs1dn2oa0teb81",
	}
}

// Limiter throttles outbound requests to a host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the provider client.
type Config struct {
	BaseURL        string
	APIToken       string
	Datasets       map[crawler.Platform]string
	TriggerTimeout time.Duration
	PollTimeout    time.Duration
	FetchTimeout   time.Duration
	// Limiter, when set, gates every request.
	Limiter Limiter
}

// Client talks to the provider over HTTP. It never retries.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client, filling unset fields with defaults.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, fmt.Errorf("provider api token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Datasets == nil {
		cfg.Datasets = DefaultDatasets()
	}
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = DefaultTriggerTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIToken).
		SetHeader("Accept", "application/json").
		SetLogger(logger.Sugar()).
		SetRetryCount(0)
	if cfg.Limiter != nil {
		limiter, baseURL := cfg.Limiter, cfg.BaseURL
		client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context(), baseURL)
		})
	}
	return &Client{http: client, cfg: cfg, logger: logger}, nil
}

// Trigger starts a snapshot for urls on platform. Facebook requests carry
// num_of_reviews and Google Maps requests carry days_limit when set.
func (c *Client) Trigger(
	ctx context.Context,
	platform crawler.Platform,
	urls []string,
	params crawler.PlatformParams,
) (crawler.TriggerResult, error) {
	dataset, ok := c.cfg.Datasets[platform]
	if !platform.Valid() || !ok || dataset == "" {
		return crawler.TriggerResult{}, fmt.Errorf("%w: %q", crawler.ErrPlatformUnsupported, platform)
	}
	if len(urls) == 0 {
		return crawler.TriggerResult{}, errors.New("at least one url required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TriggerTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"dataset_id":     dataset,
			"include_errors": "true",
		}).
		SetBody(triggerBody(platform, urls, params)).
		Post("/trigger")
	if err != nil {
		c.observe("trigger", "unavailable", start)
		return crawler.TriggerResult{}, fmt.Errorf("%w: trigger: %v", crawler.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		c.observe("trigger", "error", start)
		return crawler.TriggerResult{}, providerError("trigger", resp)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		c.observe("trigger", "error", start)
		return crawler.TriggerResult{}, fmt.Errorf("%w: decode trigger response: %v", crawler.ErrProviderError, err)
	}
	handle := strings.TrimSpace(cast.ToString(payload["snapshot_id"]))
	if handle == "" {
		c.observe("trigger", "error", start)
		return crawler.TriggerResult{}, fmt.Errorf("%w: trigger response has no snapshot_id", crawler.ErrProviderError)
	}
	c.observe("trigger", "success", start)
	c.logger.Debug("snapshot triggered",
		zap.String("platform", string(platform)),
		zap.String("snapshot_id", handle),
		zap.Int("urls", len(urls)),
	)
	return crawler.TriggerResult{Handle: handle, DatasetID: dataset, Response: payload}, nil
}

// PollStatus reports the snapshot state. A 404 yields ProviderStateNotFound
// rather than an error.
func (c *Client) PollStatus(ctx context.Context, handle string) (crawler.SnapshotStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("snapshot_id", handle).
		Get("/snapshot/{snapshot_id}")
	if err != nil {
		c.observe("poll", "unavailable", start)
		return crawler.SnapshotStatus{}, fmt.Errorf("%w: poll %s: %v", crawler.ErrProviderUnavailable, handle, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		c.observe("poll", "not_found", start)
		return crawler.SnapshotStatus{State: crawler.ProviderStateNotFound, RawStatus: "not_found"}, nil
	}
	if resp.IsError() {
		c.observe("poll", "error", start)
		return crawler.SnapshotStatus{}, providerError("poll", resp)
	}
	c.observe("poll", "success", start)

	var payload any
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return crawler.SnapshotStatus{}, fmt.Errorf("%w: decode poll response: %v", crawler.ErrProviderError, err)
	}
	switch v := payload.(type) {
	case []any:
		// A ready snapshot may answer with its rows directly.
		return crawler.SnapshotStatus{
			State:     crawler.ProviderStateCompleted,
			RawStatus: "ready",
			TotalRows: len(v),
		}, nil
	case map[string]any:
		raw := strings.ToLower(cast.ToString(v["status"]))
		return crawler.SnapshotStatus{
			State:     mapState(raw),
			RawStatus: raw,
			Progress:  v["progress"],
			TotalRows: cast.ToInt(v["total_rows"]),
		}, nil
	default:
		return crawler.SnapshotStatus{}, fmt.Errorf("%w: unexpected poll payload", crawler.ErrProviderError)
	}
}

// FetchResults downloads the snapshot rows in the requested format.
func (c *Client) FetchResults(
	ctx context.Context,
	handle string,
	format crawler.ResultFormat,
) (crawler.Snapshot, error) {
	if format == "" {
		format = crawler.FormatJSON
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("snapshot_id", handle).
		SetQueryParam("format", string(format)).
		Get("/snapshot/{snapshot_id}")
	if err != nil {
		c.observe("fetch", "unavailable", start)
		return crawler.Snapshot{}, fmt.Errorf("%w: fetch %s: %v", crawler.ErrProviderUnavailable, handle, err)
	}
	if resp.IsError() {
		c.observe("fetch", "error", start)
		return crawler.Snapshot{}, providerError("fetch", resp)
	}
	c.observe("fetch", "success", start)

	body := resp.Body()
	snap := crawler.Snapshot{
		Format:      format,
		ContentType: resp.Header().Get("Content-Type"),
		Body:        body,
	}
	switch format {
	case crawler.FormatCSV:
		snap.Rows, err = decodeCSVRows(body)
	default:
		snap.Rows, err = decodeJSONRows(body)
	}
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("%w: decode %s snapshot: %v", crawler.ErrProviderError, format, err)
	}
	if notReady(snap.Rows) {
		return crawler.Snapshot{}, fmt.Errorf("%w: snapshot %s is not ready", crawler.ErrJobNotCompleted, handle)
	}
	return snap, nil
}

func (c *Client) observe(operation, outcome string, start time.Time) {
	metrics.ObserveProviderRequest(c.cfg.BaseURL, operation, outcome, time.Since(start))
}

func triggerBody(platform crawler.Platform, urls []string, params crawler.PlatformParams) []map[string]any {
	items := make([]map[string]any, 0, len(urls))
	for _, u := range urls {
		item := map[string]any{"url": u}
		switch platform {
		case crawler.PlatformFacebook:
			if p, ok := params.(crawler.FacebookParams); ok && p.ReviewLimit != nil {
				item[crawler.ParamNumOfReviews] = *p.ReviewLimit
			}
		case crawler.PlatformGoogleMaps:
			if p, ok := params.(crawler.GoogleMapsParams); ok && p.DayLimit != nil {
				item[crawler.ParamDaysLimit] = *p.DayLimit
			}
		}
		items = append(items, item)
	}
	return items
}

func mapState(status string) crawler.ProviderState {
	switch status {
	case "ready", "completed", "done":
		return crawler.ProviderStateCompleted
	case "failed", "error":
		return crawler.ProviderStateFailed
	default:
		return crawler.ProviderStateRunning
	}
}

func providerError(operation string, resp *resty.Response) error {
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Errorf("%w: %s returned %d: %s", crawler.ErrProviderError, operation, resp.StatusCode(), body)
}

// decodeJSONRows accepts a JSON array, a single object, or newline-delimited objects.
func decodeJSONRows(body []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var rows []map[string]any
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("unmarshal rows: %w", err)
		}
		return rows, nil
	}
	var rows []map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var row map[string]any
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
}

func decodeCSVRows(body []byte) ([]map[string]any, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(header))
		for i, key := range header {
			if i < len(record) && record[i] != "" {
				row[key] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// notReady detects the status object returned when a snapshot is
// downloaded before it is built.
func notReady(rows []map[string]any) bool {
	if len(rows) != 1 {
		return false
	}
	row := rows[0]
	if _, hasURL := row["url"]; hasURL {
		return false
	}
	status := strings.ToLower(cast.ToString(row["status"]))
	_, hasMessage := row["message"]
	return hasMessage && mapState(status) == crawler.ProviderStateRunning && status != ""
}
