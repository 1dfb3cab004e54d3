package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

const mappingColumns = `id, business_id, platform, url, crawl_params, is_active, created_at, last_crawled`

// CreateMapping inserts m unless an identical active mapping exists, in which
// case the existing row is returned with created=false.
func (s *Store) CreateMapping(ctx context.Context, m crawler.SocialMapping) (crawler.SocialMapping, bool, error) {
	params, err := json.Marshal(encodeParams(m.Params))
	if err != nil {
		return crawler.SocialMapping{}, false, fmt.Errorf("marshal crawl params: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO social_mappings (business_id, platform, url, crawl_params, is_active, created_at)
SELECT $1, $2, $3, $4, $5, $6
WHERE NOT EXISTS (
	SELECT 1 FROM social_mappings
	WHERE business_id = $1 AND platform = $2 AND url = $3 AND is_active
)
RETURNING `+mappingColumns,
		m.BusinessID, string(m.Platform), m.URL, params, m.Active, m.CreatedAt,
	)
	created, err := scanMapping(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return crawler.SocialMapping{}, false, fmt.Errorf("insert mapping: %w", err)
	}

	existing, err := scanMapping(s.pool.QueryRow(ctx, `
SELECT `+mappingColumns+`
FROM social_mappings
WHERE business_id = $1 AND platform = $2 AND url = $3 AND is_active
ORDER BY id
LIMIT 1`, m.BusinessID, string(m.Platform), m.URL))
	if err != nil {
		return crawler.SocialMapping{}, false, fmt.Errorf("load existing mapping: %w", err)
	}
	return existing, false, nil
}

// ListActiveMappings returns active mappings, optionally for one business.
func (s *Store) ListActiveMappings(ctx context.Context, businessID *int64) ([]crawler.SocialMapping, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+mappingColumns+`
FROM social_mappings
WHERE is_active AND ($1::bigint IS NULL OR business_id = $1)
ORDER BY id`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list active mappings: %w", err)
	}
	return collectMappings(rows)
}

// ListMappings returns every mapping of a business.
func (s *Store) ListMappings(ctx context.Context, businessID int64) ([]crawler.SocialMapping, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+mappingColumns+`
FROM social_mappings
WHERE business_id = $1
ORDER BY id`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return collectMappings(rows)
}

// FindActiveMapping returns the oldest active mapping for url on platform.
func (s *Store) FindActiveMapping(
	ctx context.Context,
	url string,
	platform crawler.Platform,
) (crawler.SocialMapping, error) {
	m, err := scanMapping(s.pool.QueryRow(ctx, `
SELECT `+mappingColumns+`
FROM social_mappings
WHERE url = $1 AND platform = $2 AND is_active
ORDER BY id
LIMIT 1`, url, string(platform)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.SocialMapping{}, crawler.ErrNotFound
		}
		return crawler.SocialMapping{}, fmt.Errorf("find mapping: %w", err)
	}
	return m, nil
}

// MarkMappingCrawled stamps the last crawl time of a mapping.
func (s *Store) MarkMappingCrawled(ctx context.Context, mappingID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE social_mappings SET last_crawled = $1 WHERE id = $2`, at, mappingID)
	if err != nil {
		return fmt.Errorf("mark mapping crawled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func encodeParams(p crawler.PlatformParams) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return crawler.EncodeParams(p)
}

func scanMapping(row pgx.Row) (crawler.SocialMapping, error) {
	var (
		m        crawler.SocialMapping
		platform string
		params   []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.BusinessID,
		&platform,
		&m.URL,
		&params,
		&m.Active,
		&m.CreatedAt,
		&m.LastCrawled,
	); err != nil {
		return crawler.SocialMapping{}, err //nolint:wrapcheck
	}
	m.Platform = crawler.Platform(platform)
	raw := map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &raw); err != nil {
			return crawler.SocialMapping{}, fmt.Errorf("decode crawl params of mapping %d: %w", m.ID, err)
		}
	}
	decoded, err := crawler.DecodeParams(m.Platform, raw)
	if err != nil {
		return crawler.SocialMapping{}, fmt.Errorf("mapping %d: %w", m.ID, err)
	}
	m.Params = decoded
	return m, nil
}

func collectMappings(rows pgx.Rows) ([]crawler.SocialMapping, error) {
	defer rows.Close()
	var out []crawler.SocialMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return out, nil
}
