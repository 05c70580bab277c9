// Package amqp runs crawl jobs over RabbitMQ.
package amqp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/queue"
)

var (
	_ crawler.JobRunner = (*Runner)(nil)
	_ crawler.JobSource = (*Runner)(nil)
)

const consumerTag = "sitemap-worker"

// Config names the exchange, routing key, and queue carrying jobs.
type Config struct {
	Exchange        string
	RoutingKey      string
	Queue           string
	Prefetch        int
	DeclareTopology bool
}

// Channel is the subset of *amqp.Channel the runner uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// Runner publishes jobs to an exchange and consumes them from a queue.
type Runner struct {
	channel Channel
	cfg     Config
	logger  *zap.Logger

	declareOnce sync.Once
	declareErr  error
}

// Dial opens a connection and channel to url.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	return conn, ch, nil
}

// New builds a Runner on ch, filling unset names with defaults.
func New(ch Channel, cfg Config, logger *zap.Logger) (*Runner, error) {
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq channel is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		cfg.Exchange = "sitemap"
	}
	if strings.TrimSpace(cfg.RoutingKey) == "" {
		cfg.RoutingKey = "sitemap.crawl.requested.v1"
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		cfg.Queue = cfg.RoutingKey
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Runner{channel: ch, cfg: cfg, logger: logger}, nil
}

// Submit publishes job as a persistent message. The job ID is the acknowledgment.
func (r *Runner) Submit(ctx context.Context, job crawler.CrawlJob) (string, error) {
	if err := r.ensureTopology(); err != nil {
		return "", err
	}
	body, err := queue.Encode(job)
	if err != nil {
		return "", err
	}
	carrier := queue.AttributeCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := amqp.Table{}
	for k, v := range carrier {
		headers[k] = v
	}

	err = r.channel.PublishWithContext(ctx, r.cfg.Exchange, r.cfg.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  queue.ContentType,
		Timestamp:    job.SubmittedAt,
		MessageId:    job.ID,
		Type:         job.Name,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("rabbitmq publish: %w", err)
	}
	return job.ID, nil
}

// Receive consumes the queue until ctx is done or the channel closes.
// Handled jobs are acked; undecodable or rejected jobs are dead-lettered.
func (r *Runner) Receive(ctx context.Context, handle crawler.JobHandler) error {
	if err := r.ensureTopology(); err != nil {
		return err
	}
	if err := r.channel.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos: %w", err)
	}
	deliveries, err := r.channel.Consume(
		r.cfg.Queue,
		consumerTag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}
	r.logger.Info("rabbitmq consumer started", zap.String("queue", r.cfg.Queue), zap.Int("prefetch", r.cfg.Prefetch))
	defer func() {
		if err := r.channel.Cancel(consumerTag, false); err != nil {
			r.logger.Debug("rabbitmq cancel failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			r.handleDelivery(ctx, d, handle)
		}
	}
}

func (r *Runner) handleDelivery(ctx context.Context, d amqp.Delivery, handle crawler.JobHandler) {
	carrier := queue.AttributeCarrier{}
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	job, err := queue.Decode(d.Body)
	if err != nil {
		r.logger.Error("rabbitmq invalid job", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Reject(false)
		return
	}
	if err := handle(ctx, job); err != nil {
		r.logger.Error("rabbitmq job rejected", zap.String("job_id", job.ID), zap.Error(err))
		_ = d.Reject(false)
		return
	}
	_ = d.Ack(false)
}

func (r *Runner) ensureTopology() error {
	if !r.cfg.DeclareTopology {
		return nil
	}
	r.declareOnce.Do(func() {
		r.declareErr = r.declareTopology()
	})
	return r.declareErr
}

// declareTopology creates the exchange and queue plus a dead-letter pair
// that receives rejected jobs.
func (r *Runner) declareTopology() error {
	ex := r.cfg.Exchange
	dlx := ex + ".dlx"
	dlq := r.cfg.Queue + ".dlq"

	if err := r.channel.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq exchange declare %q: %w", ex, err)
	}
	if err := r.channel.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq dlx exchange declare %q: %w", dlx, err)
	}
	args := amqp.Table{"x-dead-letter-exchange": dlx}
	if _, err := r.channel.QueueDeclare(r.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("rabbitmq queue declare %q: %w", r.cfg.Queue, err)
	}
	if _, err := r.channel.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq dlq declare %q: %w", dlq, err)
	}
	if err := r.channel.QueueBind(r.cfg.Queue, r.cfg.RoutingKey, ex, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue bind %q: %w", r.cfg.Queue, err)
	}
	if err := r.channel.QueueBind(dlq, r.cfg.RoutingKey, dlx, false, nil); err != nil {
		return fmt.Errorf("rabbitmq dlq bind %q: %w", dlq, err)
	}
	r.logger.Info("rabbitmq topology declared",
		zap.String("exchange", ex),
		zap.String("queue", r.cfg.Queue),
		zap.String("routing_key", r.cfg.RoutingKey),
		zap.String("dlx", dlx),
		zap.String("dlq", dlq),
	)
	return nil
}
