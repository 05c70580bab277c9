// Package memory records notifications in-memory for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

var _ crawler.Notifier = (*Notifier)(nil)

// Notifier keeps every notification it receives.
type Notifier struct {
	mu   sync.Mutex
	sent []crawler.Notification
}

// New creates an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records n.
func (n *Notifier) Notify(_ context.Context, msg crawler.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

// Sent returns a copy of the recorded notifications in arrival order.
func (n *Notifier) Sent() []crawler.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]crawler.Notification(nil), n.sent...)
}

// Texts returns just the message bodies.
func (n *Notifier) Texts() []string {
	sent := n.Sent()
	out := make([]string, len(sent))
	for i, msg := range sent {
		out[i] = msg.Text
	}
	return out
}
