// Package memory provides in-memory implementations of the orchestrator's
// stores for development and tests.
package memory

import (
	"sync"
	"time"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// Store implements crawler.Store with maps guarded by a single lock, so
// every read-modify-write is atomic.
type Store struct {
	mu sync.RWMutex

	mappings     map[int64]crawler.SocialMapping
	mappingSeq   int64
	jobs         map[string]crawler.CrawlJob
	results      map[string][]crawler.CrawlResult
	resultSeq    int64
	dailyMetrics map[metricsKey]crawler.DailyMetrics
	metricsSeq   int64
	schedules    map[int64]crawler.WeeklySchedule
	scheduleSeq  int64
}

type metricsKey struct {
	businessID int64
	day        time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		mappings:     make(map[int64]crawler.SocialMapping),
		jobs:         make(map[string]crawler.CrawlJob),
		results:      make(map[string][]crawler.CrawlResult),
		dailyMetrics: make(map[metricsKey]crawler.DailyMetrics),
		schedules:    make(map[int64]crawler.WeeklySchedule),
	}
}

var _ crawler.Store = (*Store)(nil)

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
