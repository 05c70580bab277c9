// Package log writes notifications to the structured logger instead of chat.
package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

var _ crawler.Notifier = (*Notifier)(nil)

// Notifier implements crawler.Notifier by logging each message.
type Notifier struct {
	logger  *zap.Logger
	channel string
}

// New returns a Notifier that logs to logger. channel is reported when a
// notification does not name its own.
func New(logger *zap.Logger, channel string) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger, channel: channel}
}

// Notify logs n at info level.
func (n *Notifier) Notify(_ context.Context, msg crawler.Notification) {
	channel := msg.Channel
	if channel == "" {
		channel = n.channel
	}
	n.logger.Info("notification", zap.String("channel", channel), zap.String("text", msg.Text))
}
