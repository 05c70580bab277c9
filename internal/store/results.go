package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("crawl result not found")

// ResultFilter narrows ListResults. Zero values mean "any".
type ResultFilter struct {
	// Outcome keeps only results with this outcome.
	Outcome crawler.Outcome
	// RootURL keeps only results for this normalized root URL.
	RootURL string
	Limit   int
	Offset  int
}

// ResultReader loads recorded crawl results, newest first.
type ResultReader interface {
	// GetResult loads one result or returns ErrNotFound.
	GetResult(ctx context.Context, jobID string) (crawler.CrawlResult, error)
	// ListResults returns results matching filter ordered by finished_at descending.
	ListResults(ctx context.Context, filter ResultFilter) ([]crawler.CrawlResult, error)
}
