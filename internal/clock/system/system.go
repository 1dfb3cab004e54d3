// Package system provides the wall clock and the business calendar.
package system

import (
	"time"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// Clock implements crawler.Clock using time.Now. Calendar helpers use the
// configured business location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock for loc; nil means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in UTC.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}

// Location returns the business time zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Today returns the business calendar date.
func (c *Clock) Today() time.Time {
	return crawler.DateOf(c.Now(), c.loc)
}

// WeekStart returns the Monday of the current business week.
func (c *Clock) WeekStart() time.Time {
	return crawler.WeekStart(c.Now(), c.loc)
}
