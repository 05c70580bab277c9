// Package app wires configuration into the long-lived services each command
// needs and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/api"
	"github.com/JakeFAU/sitemap-bot/internal/clock/system"
	"github.com/JakeFAU/sitemap-bot/internal/config"
	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	dedupredis "github.com/JakeFAU/sitemap-bot/internal/dedup/redis"
	"github.com/JakeFAU/sitemap-bot/internal/dispatcher"
	"github.com/JakeFAU/sitemap-bot/internal/id/uuid"
	"github.com/JakeFAU/sitemap-bot/internal/intake"
	lognotify "github.com/JakeFAU/sitemap-bot/internal/notify/log"
	slacknotify "github.com/JakeFAU/sitemap-bot/internal/notify/slack"
	amqpq "github.com/JakeFAU/sitemap-bot/internal/queue/amqp"
	memqueue "github.com/JakeFAU/sitemap-bot/internal/queue/memory"
	natsq "github.com/JakeFAU/sitemap-bot/internal/queue/nats"
	pubsubq "github.com/JakeFAU/sitemap-bot/internal/queue/pubsub"
	"github.com/JakeFAU/sitemap-bot/internal/policy/ratelimit"
	"github.com/JakeFAU/sitemap-bot/internal/policy/simple"
	"github.com/JakeFAU/sitemap-bot/internal/sitemap"
	"github.com/JakeFAU/sitemap-bot/internal/storage/gcs"
	"github.com/JakeFAU/sitemap-bot/internal/storage/local"
	"github.com/JakeFAU/sitemap-bot/internal/storage/memory"
	"github.com/JakeFAU/sitemap-bot/internal/storage/postgres"
	s3store "github.com/JakeFAU/sitemap-bot/internal/storage/s3"
	"github.com/JakeFAU/sitemap-bot/internal/telemetry"
	"github.com/JakeFAU/sitemap-bot/internal/worker"
)

// Role selects which services New builds.
type Role string

// Roles map one to one onto the CLI subcommands.
const (
	// RoleServe receives webhooks and submits jobs. With the memory backend
	// it also runs the worker in process.
	RoleServe Role = "serve"
	// RoleWorker consumes jobs from a broker.
	RoleWorker Role = "worker"
	// RoleCrawl runs a single crawl in the foreground.
	RoleCrawl Role = "crawl"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// ErrMemoryWorker is returned by RunWorker for the memory backend, whose
// queue only exists inside the serve process.
var ErrMemoryWorker = errors.New("the memory job backend runs its worker inside serve")

// Option overrides a collaborator New would otherwise build from config.
type Option func(*App)

// WithNotifier replaces the chat notifier.
func WithNotifier(n crawler.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithSiteCrawler replaces the sitemap crawler.
func WithSiteCrawler(c crawler.SiteCrawler) Option {
	return func(a *App) { a.siteCrawler = c }
}

// WithBlobStore replaces the artifact store.
func WithBlobStore(s crawler.BlobStore) Option {
	return func(a *App) { a.blobs = s }
}

type namedCheck struct {
	name  string
	check api.ReadyCheck
}

// App holds the services built for one role. Close releases them in the
// reverse order they were opened.
type App struct {
	cfg    config.Config
	role   Role
	logger *zap.Logger

	notifier    crawler.Notifier
	siteCrawler crawler.SiteCrawler
	blobs       crawler.BlobStore
	runner      crawler.JobRunner
	source      crawler.JobSource
	guard       crawler.DispatchGuard
	results     *postgres.ResultStore
	worker      *worker.Worker

	checks    []namedCheck
	closers   []func()
	closeOnce sync.Once
}

// New builds the services role needs from cfg. On error everything opened
// so far is closed.
func New(ctx context.Context, cfg config.Config, role Role, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, role: role, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	switch role {
	case RoleServe:
		if err := cfg.ValidateIntake(); err != nil {
			return nil, err
		}
		if cfg.Job.Backend == config.BackendMemory {
			if err := cfg.ValidateWorker(); err != nil {
				return nil, err
			}
		}
	case RoleWorker, RoleCrawl:
		if err := cfg.ValidateWorker(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		ProjectID:   cfg.Telemetry.TraceProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	})

	if err := a.buildNotifier(); err != nil {
		return nil, err
	}
	if err := a.buildResults(ctx); err != nil {
		return nil, err
	}
	if role != RoleCrawl {
		if err := a.buildQueue(ctx); err != nil {
			return nil, err
		}
	}
	if role == RoleServe {
		if err := a.buildGuard(ctx); err != nil {
			return nil, err
		}
	}
	if a.runsWorker() {
		if err := a.buildWorker(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("application services initialized",
		zap.String("role", string(role)),
		zap.String("job_backend", cfg.Job.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("dedup", a.guard != nil),
		zap.Bool("results_ledger", a.results != nil),
	)
	return a, nil
}

// runsWorker reports whether this process executes crawls.
func (a *App) runsWorker() bool {
	return a.role != RoleServe || a.cfg.Job.Backend == config.BackendMemory
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) addCheck(name string, check api.ReadyCheck) {
	a.checks = append(a.checks, namedCheck{name: name, check: check})
}

func (a *App) buildNotifier() error {
	if a.notifier != nil {
		return nil
	}
	if a.cfg.Slack.AccessToken == "" {
		a.logger.Warn("slack access token not set; notifications go to the log")
		a.notifier = lognotify.New(a.logger, a.cfg.Slack.Channel)
		return nil
	}
	n, err := slacknotify.New(slacknotify.Config{
		AccessToken: a.cfg.Slack.AccessToken,
		Channel:     a.cfg.Slack.Channel,
		APIURL:      a.cfg.Slack.APIURL,
		Timeout:     a.cfg.Slack.Timeout,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init slack notifier: %w", err)
	}
	a.notifier = n
	return nil
}

func (a *App) buildResults(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		return nil
	}
	rs, err := postgres.New(ctx, postgres.Config{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.Table,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("init results ledger: %w", err)
	}
	a.results = rs
	a.onClose(rs.Close)
	a.addCheck("postgres", rs.Ping)
	return nil
}

func (a *App) buildQueue(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Job.Backend {
	case config.BackendMemory:
		q := memqueue.NewQueue(cfg.Job.QueueDepth)
		a.runner, a.source = q, q
		a.onClose(q.Close)
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("closing pubsub client", zap.Error(err))
			}
		})
		if a.role == RoleServe {
			pub := pubsubq.NewPublisher(client.Publisher(cfg.PubSub.TopicName))
			a.runner = pub
			a.onClose(pub.Stop)
		} else {
			a.source = pubsubq.NewSubscriber(client.Subscriber(cfg.PubSub.Subscription), cfg.PubSub.MaxOutstanding, a.logger)
		}
	case config.BackendAMQP:
		conn, ch, err := amqpq.Dial(cfg.AMQP.URL)
		if err != nil {
			return err
		}
		a.onClose(func() {
			if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				a.logger.Warn("closing amqp connection", zap.Error(err))
			}
		})
		r, err := amqpq.New(ch, amqpq.Config{
			Exchange:        cfg.AMQP.Exchange,
			RoutingKey:      cfg.AMQP.RoutingKey,
			Queue:           cfg.AMQP.Queue,
			Prefetch:        cfg.AMQP.Prefetch,
			DeclareTopology: cfg.AMQP.DeclareTopology,
		}, a.logger)
		if err != nil {
			return err
		}
		a.runner, a.source = r, r
		a.addCheck("amqp", func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("amqp connection closed")
			}
			return nil
		})
	case config.BackendNATS:
		conn, js, err := natsq.Connect(cfg.NATS.URL, cfg.NATS.Username, cfg.NATS.Password, a.logger)
		if err != nil {
			return err
		}
		a.onClose(conn.Close)
		r, err := natsq.New(js, natsq.Config{
			Stream:  cfg.NATS.Stream,
			Subject: cfg.NATS.Subject,
			Durable: cfg.NATS.Durable,
			AckWait: cfg.NATS.AckWait,
		}, a.logger)
		if err != nil {
			return err
		}
		if _, err := r.EnsureStream(ctx); err != nil {
			return err
		}
		a.runner, a.source = r, r
		a.addCheck("nats", func(context.Context) error {
			if status := conn.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection %s", status)
			}
			return nil
		})
	default:
		return fmt.Errorf("unknown job backend %q", cfg.Job.Backend)
	}
	return nil
}

func (a *App) buildGuard(ctx context.Context) error {
	if !a.cfg.Dedup.Enabled {
		return nil
	}
	g, err := dedupredis.New(ctx, dedupredis.Config{
		Addr:     a.cfg.Redis.Addr,
		Username: a.cfg.Redis.Username,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		TLS:      a.cfg.Redis.TLS,
		Window:   a.cfg.Dedup.Window,
	})
	if err != nil {
		return fmt.Errorf("init dispatch guard: %w", err)
	}
	a.guard = g
	a.onClose(func() {
		if err := g.Close(); err != nil {
			a.logger.Warn("closing redis client", zap.Error(err))
		}
	})
	a.addCheck("redis", g.Ping)
	return nil
}

func (a *App) buildWorker(ctx context.Context) error {
	if a.siteCrawler == nil {
		a.siteCrawler = sitemap.New(sitemap.Config{
			UserAgent:      a.cfg.Crawler.UserAgent,
			MaxDepth:       a.cfg.Crawler.MaxDepth,
			MaxPages:       a.cfg.Crawler.MaxPages,
			Parallelism:    a.cfg.Crawler.Parallelism,
			Delay:          a.cfg.CrawlDelay(),
			RequestTimeout: a.cfg.RequestTimeout(),
			RespectRobots:  a.cfg.Crawler.RespectRobots,
		}, a.logger)
	}
	if err := a.buildBlobStore(ctx); err != nil {
		return err
	}
	deps := worker.Deps{
		Crawler:  a.siteCrawler,
		Store:    a.blobs,
		Notifier: a.notifier,
		Clock:    system.New(),
	}
	if a.results != nil {
		deps.Results = a.results
	}
	w, err := worker.New(worker.Config{
		WorkDir:   a.cfg.Worker.WorkDir,
		KeyPrefix: a.cfg.Storage.Prefix,
		Channel:   a.cfg.Slack.Channel,
	}, deps, a.logger)
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	a.worker = w
	return nil
}

func (a *App) buildBlobStore(ctx context.Context) error {
	if a.blobs != nil {
		return nil
	}
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.StorageMemory:
		a.logger.Warn("using in-memory blob store; sitemaps are discarded on exit")
		a.blobs = memory.NewBlobStore()
	case config.StorageLocal:
		s, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("init local store: %w", err)
		}
		a.blobs = s
	case config.StorageGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("closing gcs client", zap.Error(err))
			}
		})
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, ContentType: cfg.ContentType})
		if err != nil {
			return fmt.Errorf("init gcs store: %w", err)
		}
		a.blobs = s
	case config.StorageS3:
		s, err := s3store.New(ctx, s3store.Config{Bucket: cfg.Bucket, Region: cfg.Region, ContentType: cfg.ContentType})
		if err != nil {
			return fmt.Errorf("init s3 store: %w", err)
		}
		a.blobs = s
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	return nil
}

// HTTPHandler builds the webhook intake and the HTTP routes around it.
func (a *App) HTTPHandler() (http.Handler, error) {
	if a.runner == nil {
		return nil, fmt.Errorf("role %s has no job runner", a.role)
	}
	deps := intake.Deps{
		Runner:   a.runner,
		Notifier: a.notifier,
		Policy:   a.requestPolicy(),
		IDs:      uuid.New(),
		Clock:    system.New(),
	}
	if a.guard != nil {
		deps.Guard = a.guard
	}
	h, err := intake.New(intake.Config{
		VerificationToken: a.cfg.Slack.VerificationToken,
		SigningSecret:     a.cfg.Slack.SigningSecret,
		Channel:           a.cfg.Slack.Channel,
		JobName:           a.cfg.Job.Name,
		SubmitTimeout:     a.cfg.Job.SubmitTimeout,
		Blocklist:         crawler.NewBlocklist(a.cfg.Intake.BlockedDomains),
	}, deps, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init intake: %w", err)
	}

	opts := make([]api.Option, 0, len(a.checks)+1)
	for _, c := range a.checks {
		opts = append(opts, api.WithReadyCheck(c.name, c.check))
	}
	if a.results != nil {
		opts = append(opts, api.WithResults(a.results))
	}
	return api.NewServer(a.cfg.Server.EventsPath, h, a.logger, opts...).Handler(), nil
}

// requestPolicy limits how often one Slack user may request sitemaps.
func (a *App) requestPolicy() crawler.RequestPolicy {
	if a.cfg.Intake.UserRPS <= 0 {
		return simple.New()
	}
	return ratelimit.New(ratelimit.Config{RPS: a.cfg.Intake.UserRPS, Burst: a.cfg.Intake.UserBurst})
}

// Dispatcher feeds delivered jobs to the worker. Only the memory backend
// gets more than one consumer: broker clients parallelize inside a single
// Receive call through their own prefetch settings.
func (a *App) Dispatcher() (*dispatcher.Dispatcher, error) {
	if a.source == nil || a.worker == nil {
		return nil, fmt.Errorf("role %s does not consume jobs", a.role)
	}
	concurrency := 1
	if a.cfg.Job.Backend == config.BackendMemory {
		concurrency = a.cfg.Job.Concurrency
	}
	return dispatcher.New(a.source, a.worker.HandleJob, concurrency, a.logger), nil
}

// Serve runs the HTTP server until ctx is done, then drains it. With the
// memory backend the in-process dispatcher runs alongside.
func (a *App) Serve(ctx context.Context) error {
	handler, err := a.HTTPHandler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.worker != nil {
		d, err := a.Dispatcher()
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(runCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		serveErr = fmt.Errorf("http server: %w", err)
	}

	a.logger.Info("shutting down http server")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.logger.Warn("http server shutdown", zap.Error(err))
	}
	cancel()
	wg.Wait()
	return serveErr
}

// RunWorker consumes jobs from the broker until ctx is done.
func (a *App) RunWorker(ctx context.Context) error {
	if a.cfg.Job.Backend == config.BackendMemory {
		return ErrMemoryWorker
	}
	d, err := a.Dispatcher()
	if err != nil {
		return err
	}
	a.logger.Info("worker consuming jobs", zap.String("job_backend", a.cfg.Job.Backend))
	d.Run(ctx)
	return nil
}

// Crawl runs one job for rootURL in the foreground. The outcome is posted to
// chat exactly as a queued job's would be.
func (a *App) Crawl(ctx context.Context, rootURL, user string) (crawler.CrawlResult, error) {
	if a.worker == nil {
		return crawler.CrawlResult{}, fmt.Errorf("role %s does not run crawls", a.role)
	}
	id, err := uuid.New().NewID()
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.NewCrawlJob(id, a.cfg.Job.Name, crawler.CrawlRequest{
		RootURL:        rootURL,
		RequestingUser: user,
	}, system.New().Now())
	return a.worker.Run(ctx, job)
}

// Close releases every service New opened. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		_ = a.logger.Sync()
	})
}
