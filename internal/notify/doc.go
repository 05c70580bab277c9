// Package notify holds the chat notifiers that report crawl outcomes.
//
// Subpackages:
//   - slack: posts to a channel through the Slack Web API.
//   - log: writes notifications to the zap logger for local runs.
//   - memory: records notifications for tests.
package notify
