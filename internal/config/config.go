// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Job runner backends.
const (
	BackendMemory = "memory"
	BackendPubSub = "pubsub"
	BackendAMQP   = "amqp"
	BackendNATS   = "nats"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	Job       JobConfig       `mapstructure:"job"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	EventsPath string `mapstructure:"events_path"`
}

// SlackConfig holds the app credentials and the notification channel.
type SlackConfig struct {
	VerificationToken string        `mapstructure:"verification_token"`
	SigningSecret     string        `mapstructure:"signing_secret"`
	AccessToken       string        `mapstructure:"access_token"`
	Channel           string        `mapstructure:"channel"`
	APIURL            string        `mapstructure:"api_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// IntakeConfig guards the webhook against abuse before jobs are dispatched.
type IntakeConfig struct {
	BlockedDomains []string `mapstructure:"blocked_domains"`
	UserRPS        float64  `mapstructure:"user_rps"`
	UserBurst      int      `mapstructure:"user_burst"`
}

// JobConfig selects the job runner and how jobs are submitted.
type JobConfig struct {
	Name          string        `mapstructure:"name"`
	Backend       string        `mapstructure:"backend"`
	QueueDepth    int           `mapstructure:"queue_depth"`
	Concurrency   int           `mapstructure:"concurrency"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

// PubSubConfig identifies the Pub/Sub topic and subscription carrying jobs.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicName      string `mapstructure:"topic_name"`
	Subscription   string `mapstructure:"subscription"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// AMQPConfig configures the RabbitMQ job runner.
type AMQPConfig struct {
	URL             string `mapstructure:"url"`
	Exchange        string `mapstructure:"exchange"`
	RoutingKey      string `mapstructure:"routing_key"`
	Queue           string `mapstructure:"queue"`
	Prefetch        int    `mapstructure:"prefetch"`
	DeclareTopology bool   `mapstructure:"declare_topology"`
}

// NATSConfig configures the NATS JetStream job runner.
type NATSConfig struct {
	URL      string        `mapstructure:"url"`
	Stream   string        `mapstructure:"stream"`
	Subject  string        `mapstructure:"subject"`
	Durable  string        `mapstructure:"durable"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	AckWait  time.Duration `mapstructure:"ack_wait"`
}

// StorageConfig selects where sitemap artifacts are uploaded.
type StorageConfig struct {
	Backend     string      `mapstructure:"backend"`
	Bucket      string      `mapstructure:"bucket"`
	Region      string      `mapstructure:"region"`
	Prefix      string      `mapstructure:"prefix"`
	ContentType string      `mapstructure:"content_type"`
	Local       LocalConfig `mapstructure:"local"`
}

// LocalConfig is the filesystem blob store root.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// CrawlerConfig tunes the sitemap crawl.
type CrawlerConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	MaxDepth              int    `mapstructure:"max_depth"`
	MaxPages              int    `mapstructure:"max_pages"`
	Parallelism           int    `mapstructure:"parallelism"`
	DelayMs               int    `mapstructure:"delay_ms"`
	RespectRobots         bool   `mapstructure:"respect_robots"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// WorkerConfig controls the crawl worker.
type WorkerConfig struct {
	WorkDir string `mapstructure:"work_dir"`
}

// DedupConfig toggles suppression of repeat dispatches for the same site.
type DedupConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window"`
}

// RedisConfig locates the Redis instance backing the dedup guard.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// DatabaseConfig controls the optional crawl results ledger.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	Version        string  `mapstructure:"version"`
	TraceProjectID string  `mapstructure:"trace_project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT; the prefixed variable still wins.
	if err := v.BindEnv("server.port", "SITEMAP_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.events_path", "/slack/events")
	v.SetDefault("slack.verification_token", "")
	v.SetDefault("slack.signing_secret", "")
	v.SetDefault("slack.access_token", "")
	v.SetDefault("slack.channel", "sitemap_generator")
	v.SetDefault("slack.api_url", "")
	v.SetDefault("slack.timeout", "10s")
	v.SetDefault("intake.blocked_domains", []string{"localhost", "*.internal", "*.local", "169.254.169.254"})
	v.SetDefault("intake.user_rps", 0.0)
	v.SetDefault("intake.user_burst", 3)
	v.SetDefault("job.name", "sitemap-generator")
	v.SetDefault("job.backend", BackendMemory)
	v.SetDefault("job.queue_depth", 64)
	v.SetDefault("job.concurrency", 2)
	v.SetDefault("job.submit_timeout", "5s")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("pubsub.subscription", "")
	v.SetDefault("pubsub.max_outstanding", 1)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "sitemap")
	v.SetDefault("amqp.routing_key", "sitemap.crawl.requested.v1")
	v.SetDefault("amqp.queue", "sitemap.crawl.requested.v1")
	v.SetDefault("amqp.prefetch", 1)
	v.SetDefault("amqp.declare_topology", true)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "SITEMAP")
	v.SetDefault("nats.subject", "sitemap.crawl.requested")
	v.SetDefault("nats.durable", "sitemap-worker")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.ack_wait", "30m")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "ap-northeast-1")
	v.SetDefault("storage.prefix", "sitemap")
	v.SetDefault("storage.content_type", "application/xml")
	v.SetDefault("storage.local.base_dir", "data/sitemaps")
	v.SetDefault("crawler.user_agent", "sitemap-bot/0.1")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 500)
	v.SetDefault("crawler.parallelism", 4)
	v.SetDefault("crawler.delay_ms", 0)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.request_timeout_seconds", 15)
	v.SetDefault("worker.work_dir", os.TempDir())
	v.SetDefault("dedup.enabled", false)
	v.SetDefault("dedup.window", "10m")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "crawl_results")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "sitemap-bot")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.trace_project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !strings.HasPrefix(c.Server.EventsPath, "/") {
		return fmt.Errorf("server.events_path must start with /")
	}
	if c.Job.Name == "" {
		return fmt.Errorf("job.name is required")
	}
	if c.Job.Concurrency <= 0 {
		return fmt.Errorf("job.concurrency must be > 0")
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("crawler.max_depth must be > 0")
	}
	if c.Crawler.Parallelism <= 0 {
		return fmt.Errorf("crawler.parallelism must be > 0")
	}
	if c.Intake.UserRPS < 0 {
		return fmt.Errorf("intake.user_rps must be >= 0")
	}
	if c.Dedup.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when dedup is enabled")
		}
		if c.Dedup.Window <= 0 {
			return fmt.Errorf("dedup.window must be > 0 when dedup is enabled")
		}
	}
	return nil
}

func (c Config) validateBackend() error {
	switch c.Job.Backend {
	case BackendMemory:
		if c.Job.QueueDepth <= 0 {
			return fmt.Errorf("job.queue_depth must be > 0 for the memory backend")
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required for the pubsub backend")
		}
	case BackendAMQP:
		if c.AMQP.URL == "" {
			return fmt.Errorf("amqp.url is required for the amqp backend")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown job.backend %q", c.Job.Backend)
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case StorageS3:
		if c.Storage.Bucket == "" || c.Storage.Region == "" {
			return fmt.Errorf("storage.bucket and storage.region are required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

// ValidateIntake adds the checks only the webhook server needs.
func (c Config) ValidateIntake() error {
	if c.Slack.VerificationToken == "" {
		return fmt.Errorf("slack.verification_token is required to serve webhooks")
	}
	return nil
}

// ValidateWorker adds the checks only the crawl worker needs.
func (c Config) ValidateWorker() error {
	if c.Job.Backend == BackendPubSub && c.PubSub.Subscription == "" {
		return fmt.Errorf("pubsub.subscription is required to consume jobs")
	}
	if c.Worker.WorkDir == "" {
		return fmt.Errorf("worker.work_dir is required")
	}
	return nil
}

// CrawlDelay returns the configured politeness delay.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// RequestTimeout returns the per-request crawl timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.RequestTimeoutSeconds) * time.Second
}
