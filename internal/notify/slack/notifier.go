// Package slack posts crawl notifications through the Slack Web API.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

var _ crawler.Notifier = (*Notifier)(nil)

// Config captures the bot credentials and default destination.
type Config struct {
	AccessToken string
	Channel     string
	// APIURL overrides the Web API base URL (tests point it at httptest).
	APIURL  string
	Timeout time.Duration
}

type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier implements crawler.Notifier with chat.postMessage.
type Notifier struct {
	client  poster
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Notifier from cfg.
func New(cfg Config, logger *zap.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("slack access token is required")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: cfg.Timeout})}
	if cfg.APIURL != "" {
		apiURL := cfg.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Notifier{
		client:  slack.New(cfg.AccessToken, opts...),
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Notify posts n.Text to n.Channel, or the configured channel when n.Channel
// is empty. Failures are logged and swallowed.
func (s *Notifier) Notify(ctx context.Context, n crawler.Notification) {
	channel := n.Channel
	if channel == "" {
		channel = s.channel
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	_, ts, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(n.Text, false))
	if err != nil {
		s.logger.Warn("slack notification failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("slack notification sent", zap.String("channel", channel), zap.String("ts", ts))
}
