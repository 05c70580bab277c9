// Package nats runs crawl jobs over NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/queue"
)

var (
	_ crawler.JobRunner = (*Runner)(nil)
	_ crawler.JobSource = (*Runner)(nil)
)

// Config names the stream, subject, and durable consumer carrying jobs.
type Config struct {
	Stream  string
	Subject string
	Durable string
	// AckWait must exceed the longest expected crawl or the job is redelivered.
	AckWait time.Duration
}

// Runner publishes jobs to a JetStream subject and consumes them with a
// durable pull consumer.
type Runner struct {
	js     jetstream.JetStream
	cfg    Config
	logger *zap.Logger
}

// Connect dials url and opens a JetStream context.
func Connect(url, username, password string, logger *zap.Logger) (*nats.Conn, jetstream.JetStream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("sitemap-bot"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from nats", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to nats", zap.String("server", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	if username != "" && password != "" {
		opts = append(opts, nats.UserInfo(username, password))
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	logger.Info("connected to nats", zap.String("server", conn.ConnectedUrl()))
	return conn, js, nil
}

// New builds a Runner on js, filling unset names with defaults.
func New(js jetstream.JetStream, cfg Config, logger *zap.Logger) (*Runner, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream context is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Stream) == "" {
		cfg.Stream = "SITEMAP"
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		cfg.Subject = "sitemap.crawl.requested"
	}
	if strings.TrimSpace(cfg.Durable) == "" {
		cfg.Durable = "sitemap-worker"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Minute
	}
	return &Runner{js: js, cfg: cfg, logger: logger}, nil
}

// EnsureStream creates or updates the work-queue stream bound to the subject.
func (r *Runner) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	stream, err := r.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      r.cfg.Stream,
		Subjects:  []string{r.cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", r.cfg.Stream, err)
	}
	return stream, nil
}

// Submit publishes job and returns "<stream>:<sequence>" from the server ack.
// The job ID doubles as the JetStream message ID, so a resubmitted job is
// dropped by the server's duplicate window.
func (r *Runner) Submit(ctx context.Context, job crawler.CrawlJob) (string, error) {
	data, err := queue.Encode(job)
	if err != nil {
		return "", err
	}
	msg := nats.NewMsg(r.cfg.Subject)
	msg.Data = data
	msg.Header.Set("Content-Type", queue.ContentType)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	ack, err := r.js.PublishMsg(ctx, msg, jetstream.WithMsgID(job.ID))
	if err != nil {
		return "", fmt.Errorf("publish job to %s: %w", r.cfg.Subject, err)
	}
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
}

// Receive consumes jobs one at a time until ctx is done.
func (r *Runner) Receive(ctx context.Context, handle crawler.JobHandler) error {
	stream, err := r.EnsureStream(ctx)
	if err != nil {
		return err
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       r.cfg.Durable,
		FilterSubject: r.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       r.cfg.AckWait,
		MaxAckPending: 1,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", r.cfg.Durable, err)
	}
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		r.handleMsg(ctx, msg, handle)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.cfg.Durable, err)
	}
	r.logger.Info("nats consumer started", zap.String("stream", r.cfg.Stream), zap.String("durable", r.cfg.Durable))

	<-ctx.Done()
	cc.Stop()
	return nil
}

// handleMsg acks handled jobs and terminates undecodable or rejected ones so
// they are never redelivered.
func (r *Runner) handleMsg(ctx context.Context, msg jetstream.Msg, handle crawler.JobHandler) {
	if h := msg.Headers(); h != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(h)))
	}
	job, err := queue.Decode(msg.Data())
	if err != nil {
		r.logger.Error("nats invalid job", zap.String("subject", msg.Subject()), zap.Error(err))
		r.settle(msg.Term())
		return
	}
	if err := handle(ctx, job); err != nil {
		r.logger.Error("nats job rejected", zap.String("job_id", job.ID), zap.Error(err))
		r.settle(msg.Term())
		return
	}
	r.settle(msg.Ack())
}

func (r *Runner) settle(err error) {
	if err != nil {
		r.logger.Warn("nats ack failed", zap.Error(err))
	}
}
