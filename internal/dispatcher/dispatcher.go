// Package dispatcher fans delivered crawl jobs out to a pool of consumers.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

const defaultRestartDelay = 2 * time.Second

// Dispatcher runs Concurrency consumers of a JobSource. A consumer whose
// Receive fails is restarted after RestartDelay until ctx is done.
type Dispatcher struct {
	source       crawler.JobSource
	handle       crawler.JobHandler
	concurrency  int
	restartDelay time.Duration
	logger       *zap.Logger
}

// New creates a Dispatcher. concurrency below one runs a single consumer.
func New(source crawler.JobSource, handle crawler.JobHandler, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		source:       source,
		handle:       handle,
		concurrency:  concurrency,
		restartDelay: defaultRestartDelay,
		logger:       logger.Named("dispatcher"),
	}
}

// Run starts all consumers and blocks until the context finishes and every
// consumer has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.concurrency {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.consume(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, slot int) {
	logger := d.logger.With(zap.Int("slot", slot))
	for {
		err := d.source.Receive(ctx, d.handle)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error("job source failed, restarting", zap.Error(err), zap.Duration("delay", d.restartDelay))
		} else {
			logger.Warn("job source stopped, restarting", zap.Duration("delay", d.restartDelay))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.restartDelay):
		}
	}
}
