// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

// New builds a zap.Logger configured for development or production and tags
// every entry with the running component (serve, worker, crawl).
func New(development bool, component string) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if component != "" {
		logger = logger.With(zap.String("component", component))
	}
	return logger, nil
}

// JobFields returns the fields that identify a crawl job in log entries.
func JobFields(job crawler.CrawlJob) []zap.Field {
	return []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("root_url", job.Arguments[crawler.ArgRootURL]),
		zap.String("user", job.Arguments[crawler.ArgRequestingUser]),
	}
}

// ResultFields returns the fields describing a finished crawl.
func ResultFields(res crawler.CrawlResult) []zap.Field {
	return []zap.Field{
		zap.String("job_id", res.JobID),
		zap.String("root_url", res.RootURL),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("elapsed", res.Elapsed),
		zap.String("location", res.Location),
	}
}
