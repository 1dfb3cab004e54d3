package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// MappingInput is one platform URL to link to a business.
type MappingInput struct {
	Platform string         `json:"platform"`
	URL      string         `json:"url"`
	Params   map[string]any `json:"crawl_params,omitempty"`
}

// MappingBatch reports the mappings stored by CreateSocialMappings.
type MappingBatch struct {
	BusinessID int64                   `json:"business_id"`
	Created    int                     `json:"created"`
	Mappings   []crawler.SocialMapping `json:"mappings"`
}

// CreateSocialMappings links every input to businessID. Inputs are validated
// up front; an identical active mapping is skipped rather than duplicated.
func (s *Service) CreateSocialMappings(ctx context.Context, businessID int64, inputs []MappingInput) (MappingBatch, error) {
	batch := MappingBatch{BusinessID: businessID, Mappings: []crawler.SocialMapping{}}
	if businessID <= 0 {
		return batch, fmt.Errorf("%w: business id must be positive", crawler.ErrInvalidParams)
	}
	if len(inputs) == 0 {
		return batch, fmt.Errorf("%w: at least one mapping is required", crawler.ErrInvalidParams)
	}

	pending := make([]crawler.SocialMapping, 0, len(inputs))
	for i, in := range inputs {
		platform, err := crawler.ParsePlatform(in.Platform)
		if err != nil {
			return batch, fmt.Errorf("mapping %d: %w", i, err)
		}
		url := strings.TrimSpace(in.URL)
		if url == "" {
			return batch, fmt.Errorf("%w: mapping %d: url is required", crawler.ErrInvalidParams, i)
		}
		params, err := crawler.DecodeParams(platform, in.Params)
		if err != nil {
			return batch, fmt.Errorf("mapping %d: %w", i, err)
		}
		pending = append(pending, crawler.SocialMapping{
			BusinessID: businessID,
			Platform:   platform,
			URL:        url,
			Params:     params,
			Active:     true,
			CreatedAt:  s.clock.Now(),
		})
	}

	for _, m := range pending {
		stored, created, err := s.store.CreateMapping(ctx, m)
		if err != nil {
			return batch, fmt.Errorf("create mapping %s %s: %w", m.Platform, m.URL, err)
		}
		if created {
			batch.Created++
			batch.Mappings = append(batch.Mappings, stored)
		}
	}
	return batch, nil
}

// ListSocialMappings returns every mapping of businessID, active or not.
func (s *Service) ListSocialMappings(ctx context.Context, businessID int64) ([]crawler.SocialMapping, error) {
	mappings, err := s.store.ListMappings(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("list mappings of business %d: %w", businessID, err)
	}
	if mappings == nil {
		mappings = []crawler.SocialMapping{}
	}
	return mappings, nil
}

// DailyMetrics returns a business's metrics for day, or for today in the
// business time zone when day is nil.
func (s *Service) DailyMetrics(ctx context.Context, businessID int64, day *time.Time) (crawler.DailyMetrics, error) {
	d := s.today()
	if day != nil {
		d = crawler.DateOf(*day, time.UTC)
	}
	m, err := s.store.GetDailyMetrics(ctx, businessID, d)
	if err != nil {
		return crawler.DailyMetrics{}, fmt.Errorf("get metrics of business %d on %s: %w", businessID, d.Format(time.DateOnly), err)
	}
	return m, nil
}
