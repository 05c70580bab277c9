package crawler

import (
	"context"
	"time"
)

// JobRunner accepts crawl jobs for asynchronous execution. Submit returns
// once the runner has acknowledged the job; it never waits for the job to run.
type JobRunner interface {
	Submit(ctx context.Context, job CrawlJob) (string, error)
}

// JobHandler processes one delivered job.
type JobHandler func(ctx context.Context, job CrawlJob) error

// JobSource delivers submitted jobs to a handler until ctx is done.
type JobSource interface {
	Receive(ctx context.Context, handle JobHandler) error
}

// SiteCrawler writes a sitemap for rootURL to outPath.
type SiteCrawler interface {
	Crawl(ctx context.Context, rootURL string, outPath string) error
}

// BlobStore uploads a local artifact and returns its retrievable URL.
type BlobStore interface {
	Upload(ctx context.Context, localPath string, key string) (string, error)
}

// Notifier posts a message to chat. Delivery is best effort: implementations
// log failures and never report them to the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// DispatchGuard claims a root URL for a dispatch window. Claim returns false
// when another job already holds the claim. Release drops a claim still held
// by jobID, so a failed dispatch does not block the next request.
type DispatchGuard interface {
	Claim(ctx context.Context, rootURL string, jobID string) (bool, error)
	Release(ctx context.Context, rootURL string, jobID string) error
}

// RequestPolicy admits or refuses a request from key before any work is done.
type RequestPolicy interface {
	Allow(key string) bool
}

// ResultStore records finished crawl results.
type ResultStore interface {
	RecordResult(ctx context.Context, result CrawlResult) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
