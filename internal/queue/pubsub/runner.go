// Package pubsub runs crawl jobs over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/queue"
)

var (
	_ crawler.JobRunner = (*Publisher)(nil)
	_ crawler.JobSource = (*Subscriber)(nil)
)

// Publisher submits jobs to a topic.
type Publisher struct {
	publisher *pubsub.Publisher
}

// NewPublisher wraps the topic publisher returned by client.Publisher.
func NewPublisher(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Submit publishes job and waits for the server-assigned message ID.
func (p *Publisher) Submit(ctx context.Context, job crawler.CrawlJob) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := queue.Encode(job)
	if err != nil {
		return "", err
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job_id": job.ID, "job_name": job.Name},
	}
	otel.GetTextMapPropagator().Inject(ctx, queue.AttributeCarrier(msg.Attributes))

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}
	return id, nil
}

// Stop flushes pending publishes.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
}

// Subscriber receives jobs from a subscription.
type Subscriber struct {
	subscriber *pubsub.Subscriber
	logger     *zap.Logger
}

// NewSubscriber wraps the subscriber returned by client.Subscriber.
// maxOutstanding bounds the jobs handled at once.
func NewSubscriber(subscriber *pubsub.Subscriber, maxOutstanding int, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxOutstanding > 0 {
		subscriber.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &Subscriber{subscriber: subscriber, logger: logger}
}

// Receive blocks, handing each message to handle, until ctx is done.
// Every message is acked once handled: crawl jobs are attempted once, and a
// malformed job is dropped rather than redelivered.
func (s *Subscriber) Receive(ctx context.Context, handle crawler.JobHandler) error {
	err := s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		ctx = otel.GetTextMapPropagator().Extract(ctx, queue.AttributeCarrier(msg.Attributes))

		job, err := queue.Decode(msg.Data)
		if err != nil {
			s.logger.Warn("dropping undecodable job", zap.String("message_id", msg.ID), zap.Error(err))
			return
		}
		if err := handle(ctx, job); err != nil {
			s.logger.Warn("dropping rejected job", zap.String("job_id", job.ID), zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}
