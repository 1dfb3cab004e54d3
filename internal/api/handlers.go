package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/middleware"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/orchestrator"
)

const maxBodyBytes = 1 << 20

type triggerCrawlRequest struct {
	Platform string         `json:"platform"`
	URLs     []string       `json:"urls"`
	Params   map[string]any `json:"params"`
}

type createMappingsRequest struct {
	Mappings []orchestrator.MappingInput `json:"mappings"`
}

func (s *Server) triggerWeeklyCrawl(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.TriggerWeeklyCrawl(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusAccepted
	if out.AlreadyScheduled {
		status = http.StatusOK
	}
	middleware.WriteJSON(w, status, map[string]any{
		"schedule":          out.Schedule,
		"already_scheduled": out.AlreadyScheduled,
		"partial":           out.Partial(),
		"jobs":              nonNil(out.Jobs),
		"failures":          nonNil(out.Failures),
	})
}

func (s *Server) weeklyCrawlStatus(w http.ResponseWriter, r *http.Request) {
	week, err := parseDate(r, "week_start")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.service.WeeklyCrawlStatus(r.Context(), week)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) sweepJobs(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.SweepJobs(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	var req triggerCrawlRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.service.TriggerCrawl(r.Context(), req.Platform, req.URLs, req.Params)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	since, err := parseDate(r, "since")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.service.ListJobs(r.Context(), since)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.JobStatus(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	autoIntegrate := true
	if raw := q.Get("auto_integrate"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "auto_integrate must be a boolean")
			return
		}
		autoIntegrate = v
	}
	format := s.cfg.ResultFormat()
	if raw := q.Get("format"); raw != "" {
		f, err := crawler.ParseResultFormat(raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}
	report, err := s.service.JobResults(r.Context(), chi.URLParam(r, "job_id"), autoIntegrate, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"job":         report.Job,
		"inserted":    report.Inserted,
		"total":       len(report.Results),
		"results":     nonNil(report.Results),
		"integration": report.Integration,
	})
}

func (s *Server) createMappings(w http.ResponseWriter, r *http.Request) {
	businessID, err := businessIDParam(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createMappingsRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, err := s.service.CreateSocialMappings(r.Context(), businessID, req.Mappings)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, batch)
}

func (s *Server) listMappings(w http.ResponseWriter, r *http.Request) {
	businessID, err := businessIDParam(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	mappings, err := s.service.ListSocialMappings(r.Context(), businessID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"business_id": businessID,
		"mappings":    mappings,
	})
}

func (s *Server) dailyMetrics(w http.ResponseWriter, r *http.Request) {
	businessID, err := businessIDParam(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	day, err := parseDate(r, "day")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.service.DailyMetrics(r.Context(), businessID, day)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, m)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}

func businessIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "business_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid business id %q", raw)
	}
	return id, nil
}

// parseDate reads an optional YYYY-MM-DD query value.
func parseDate(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD", key)
	}
	return &t, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
