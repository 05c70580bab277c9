// Package worker runs one crawl job end to end: crawl, upload, clean up,
// and report the outcome to chat.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/logging"
	"github.com/JakeFAU/sitemap-bot/internal/metrics"
	"github.com/JakeFAU/sitemap-bot/internal/storage"
)

// User-facing failure texts. Internal error detail never reaches chat.
const (
	TextCrawlFailed  = "Error generating sitemap"
	TextUploadFailed = "Error uploading file"
)

// SuccessText is posted when the sitemap for user is available at location.
func SuccessText(user, location string, seconds float64) string {
	return fmt.Sprintf("<@%s> %s\n Crawler time: %.2f seconds", user, location, seconds)
}

// Config controls Worker behavior.
type Config struct {
	// WorkDir holds per-job scratch directories; empty means os.TempDir.
	WorkDir string
	// KeyPrefix is prepended to the artifact name to form the object key.
	KeyPrefix string
	// Channel receives completion notifications.
	Channel string
}

// Deps are the collaborators a Worker calls. Results is optional.
type Deps struct {
	Crawler  crawler.SiteCrawler
	Store    crawler.BlobStore
	Notifier crawler.Notifier
	Clock    crawler.Clock
	Results  crawler.ResultStore
}

// Worker executes crawl jobs. It is safe for concurrent use; each job gets
// its own scratch directory.
type Worker struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Worker, error) {
	if deps.Crawler == nil || deps.Store == nil || deps.Notifier == nil || deps.Clock == nil {
		return nil, errors.New("worker: crawler, blob store, notifier, and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{cfg: cfg, deps: deps, logger: logger.Named("worker")}, nil
}

// HandleJob adapts Run to a crawler.JobHandler. Crawl and upload failures
// are reported to chat and swallowed so the job is never redelivered; only a
// malformed job (or a panic) is returned to the source.
func (w *Worker) HandleJob(ctx context.Context, job crawler.CrawlJob) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("panic handling job",
				zap.String("job_id", job.ID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("job %s: panic: %v", job.ID, rec)
		}
	}()
	_, err = w.Run(ctx, job)
	return err
}

// Run executes job once and returns its result. The error is non-nil only
// when the job does not carry a valid root URL, in which case nothing runs
// and nothing is posted.
func (w *Worker) Run(ctx context.Context, job crawler.CrawlJob) (crawler.CrawlResult, error) {
	req, err := job.Request()
	if err != nil {
		w.logger.Error("rejecting malformed job", zap.String("job_id", job.ID), zap.Error(err))
		return crawler.CrawlResult{}, fmt.Errorf("%w: %w", crawler.ErrMalformedPayload, err)
	}

	ctx, span := otel.Tracer("sitemap-bot/worker").Start(ctx, "crawl_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.root_url", req.RootURL),
	)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(logging.JobFields(job)...)
	result := crawler.CrawlResult{
		JobID:          job.ID,
		RootURL:        req.RootURL,
		RequestingUser: req.RequestingUser,
		OutputFileName: crawler.OutputFileName(req.RootURL),
	}

	text := w.execute(ctx, logger, &result)
	result.FinishedAt = w.deps.Clock.Now()
	span.SetAttributes(attribute.String("job.outcome", string(result.Outcome)))
	if result.Outcome != crawler.OutcomeSucceeded {
		span.SetStatus(codes.Error, string(result.Outcome))
	}

	metrics.ObserveJob(string(result.Outcome), result.Elapsed)
	logger.Info("crawl job finished", logging.ResultFields(result)...)

	// Shutdown cancels ctx mid-crawl; the outcome must still reach the user.
	reportCtx := context.WithoutCancel(ctx)
	w.deps.Notifier.Notify(reportCtx, crawler.Notification{Channel: w.cfg.Channel, Text: text})
	w.record(reportCtx, logger, result)
	return result, nil
}

// execute fills in Outcome, Elapsed, and Location and returns the
// notification text. The scratch directory is removed before it returns.
func (w *Worker) execute(ctx context.Context, logger *zap.Logger, result *crawler.CrawlResult) string {
	scratch, err := os.MkdirTemp(w.cfg.WorkDir, "sitemap-*")
	if err != nil {
		logger.Error("create scratch dir", zap.Error(err))
		result.Outcome = crawler.OutcomeCrawlFailed
		return TextCrawlFailed
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("remove scratch dir", zap.String("path", scratch), zap.Error(err))
		}
	}()
	localPath := filepath.Join(scratch, result.OutputFileName)

	start := w.deps.Clock.Now()
	crawlErr := w.crawl(ctx, result.RootURL, localPath)
	result.Elapsed = w.deps.Clock.Now().Sub(start)
	if crawlErr != nil {
		logger.Error("crawl failed", zap.Error(crawlErr))
		result.Outcome = crawler.OutcomeCrawlFailed
		return TextCrawlFailed
	}

	key := storage.Key(w.cfg.KeyPrefix, result.OutputFileName)
	location, err := w.deps.Store.Upload(ctx, localPath, key)
	if err != nil {
		logger.Error("upload failed", zap.String("key", key), zap.Error(err))
		result.Outcome = crawler.OutcomeUploadFailed
		return TextUploadFailed
	}

	result.Outcome = crawler.OutcomeSucceeded
	result.Location = location
	return SuccessText(result.RequestingUser, location, result.ElapsedSeconds())
}

// crawl calls the site crawler once, turning a panic into a crawl failure.
func (w *Worker) crawl(ctx context.Context, rootURL, outPath string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", crawler.ErrCrawlFailed, rec)
		}
	}()
	if err := w.deps.Crawler.Crawl(ctx, rootURL, outPath); err != nil {
		if errors.Is(err, crawler.ErrCrawlFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", crawler.ErrCrawlFailed, err)
	}
	return nil
}

func (w *Worker) record(ctx context.Context, logger *zap.Logger, result crawler.CrawlResult) {
	if w.deps.Results == nil {
		return
	}
	if err := w.deps.Results.RecordResult(ctx, result); err != nil {
		logger.Warn("record crawl result", zap.Error(err))
	}
}
