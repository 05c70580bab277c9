// Package queue holds the job wire format shared by the broker-backed job
// runners in its subpackages (pubsub, amqp, nats) and the in-process runner
// in memory.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

// ContentType labels encoded jobs on brokers that carry one.
const ContentType = "application/json"

// Encode marshals job into its JSON wire form.
func Encode(job crawler.CrawlJob) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return data, nil
}

// Decode parses a wire-form job. Anything that is not a job object, or lacks
// an ID, wraps crawler.ErrMalformedPayload.
func Decode(data []byte) (crawler.CrawlJob, error) {
	var job crawler.CrawlJob
	if err := json.Unmarshal(data, &job); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("%w: %v", crawler.ErrMalformedPayload, err)
	}
	if job.ID == "" {
		return crawler.CrawlJob{}, fmt.Errorf("%w: job_id missing", crawler.ErrMalformedPayload)
	}
	return job, nil
}
