package memory

import (
	"context"
	"sort"
	"time"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// CreateMapping stores m unless an identical active mapping already exists.
func (s *Store) CreateMapping(_ context.Context, m crawler.SocialMapping) (crawler.SocialMapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mappings {
		if existing.Active &&
			existing.BusinessID == m.BusinessID &&
			existing.Platform == m.Platform &&
			existing.URL == m.URL {
			return existing, false, nil
		}
	}
	s.mappingSeq++
	m.ID = s.mappingSeq
	s.mappings[m.ID] = m
	return m, true, nil
}

// ListActiveMappings returns active mappings ordered by ID.
func (s *Store) ListActiveMappings(_ context.Context, businessID *int64) ([]crawler.SocialMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.SocialMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		if !m.Active {
			continue
		}
		if businessID != nil && m.BusinessID != *businessID {
			continue
		}
		out = append(out, m)
	}
	sortMappings(out)
	return out, nil
}

// ListMappings returns every mapping of a business ordered by ID.
func (s *Store) ListMappings(_ context.Context, businessID int64) ([]crawler.SocialMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.SocialMapping
	for _, m := range s.mappings {
		if m.BusinessID == businessID {
			out = append(out, m)
		}
	}
	sortMappings(out)
	return out, nil
}

// FindActiveMapping returns the lowest-ID active mapping for url on platform.
func (s *Store) FindActiveMapping(
	_ context.Context,
	url string,
	platform crawler.Platform,
) (crawler.SocialMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found crawler.SocialMapping
		ok    bool
	)
	for _, m := range s.mappings {
		if !m.Active || m.URL != url || m.Platform != platform {
			continue
		}
		if !ok || m.ID < found.ID {
			found, ok = m, true
		}
	}
	if !ok {
		return crawler.SocialMapping{}, crawler.ErrNotFound
	}
	return found, nil
}

// MarkMappingCrawled stamps the last successful crawl time.
func (s *Store) MarkMappingCrawled(_ context.Context, mappingID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[mappingID]
	if !ok {
		return crawler.ErrNotFound
	}
	m.LastCrawled = pointerTime(at)
	s.mappings[mappingID] = m
	return nil
}

func sortMappings(ms []crawler.SocialMapping) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}
