// Package system provides the wall clock used to time crawls and stamp jobs.
package system

import (
	"time"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

var _ crawler.Clock = Clock{}

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC. The monotonic reading is kept so
// that Sub between two readings measures elapsed crawl time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
