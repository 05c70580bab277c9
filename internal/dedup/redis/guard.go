// Package redis implements the dispatch dedup window on Redis.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

var _ crawler.DispatchGuard = (*Guard)(nil)

const keyPrefix = "sitemap:dispatch:"

// releaseScript deletes the claim only when it still belongs to the caller.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Config locates the Redis server and sets the claim window.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	TLS      bool
	Window   time.Duration
}

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Guard claims root URLs with SET NX PX so only one job per site is
// dispatched within the window.
type Guard struct {
	client client
	window time.Duration
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Guard, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(c, cfg.Window)
}

// NewWithClient builds a Guard on an existing client (primarily for testing).
func NewWithClient(c client, window time.Duration) (*Guard, error) {
	if c == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("dedup window must be > 0")
	}
	return &Guard{client: c, window: window}, nil
}

// Claim records jobID as the owner of rootURL for the window.
func (g *Guard) Claim(ctx context.Context, rootURL, jobID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, Key(rootURL), jobID, g.window).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", rootURL, err)
	}
	return ok, nil
}

// Release drops the claim on rootURL if jobID still owns it.
func (g *Guard) Release(ctx context.Context, rootURL, jobID string) error {
	if err := g.client.Eval(ctx, releaseScript, []string{Key(rootURL)}, jobID).Err(); err != nil {
		return fmt.Errorf("release %s: %w", rootURL, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (g *Guard) Ping(ctx context.Context) error {
	if err := g.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (g *Guard) Close() error {
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// Key is the Redis key holding the claim for rootURL.
func Key(rootURL string) string {
	return keyPrefix + rootURL
}
