package crawler

import (
	"crypto/subtle"
	"fmt"
	"time"
)

// EventType is the Slack Events API envelope type.
type EventType string

// Envelope types the intake handler understands.
const (
	EventTypeURLVerification EventType = "url_verification"
	EventTypeEventCallback   EventType = "event_callback"
)

// RetryHeader is set by Slack on every redelivery of an event.
const RetryHeader = "X-Slack-Retry-Num"

// VerificationFailed is echoed in place of the challenge when the token does not match.
const VerificationFailed = "verification failed"

// Job argument keys carried in CrawlJob.Arguments.
const (
	ArgRootURL        = "root_url"
	ArgRequestingUser = "requesting_user"
)

// WebhookEvent is the decoded body of an inbound Events API request.
type WebhookEvent struct {
	Token     string        `json:"token"`
	Challenge string        `json:"challenge,omitempty"`
	Type      EventType     `json:"type"`
	Event     *MessageEvent `json:"event,omitempty"`
}

// MessageEvent is the inner event of an event_callback envelope.
type MessageEvent struct {
	Type        string `json:"type"`
	User        string `json:"user"`
	Text        string `json:"text"`
	Channel     string `json:"channel"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
}

// UserAuthored reports whether the event was typed by a person. Messages the
// bot itself posts carry a bot_id and no client_msg_id.
func (e *MessageEvent) UserAuthored() bool {
	return e != nil && e.ClientMsgID != "" && e.BotID == ""
}

// VerificationChallenge is the url_verification handshake.
type VerificationChallenge struct {
	Token     string
	Challenge string
}

// Answer returns the handshake reply body. The challenge is echoed only when
// the token matches secret.
func (v VerificationChallenge) Answer(secret string) map[string]string {
	if !TokenMatches(v.Token, secret) {
		return map[string]string{"challenge": VerificationFailed}
	}
	return map[string]string{"challenge": v.Challenge}
}

// TokenMatches compares a supplied verification token against the configured
// secret in constant time. An empty secret never matches.
func TokenMatches(supplied, secret string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) == 1
}

// CrawlRequest is a validated request to build a sitemap for RootURL.
type CrawlRequest struct {
	RootURL        string
	RequestingUser string
}

// CrawlJob is the message handed to a JobRunner.
type CrawlJob struct {
	ID          string            `json:"job_id"`
	Name        string            `json:"job_name"`
	Arguments   map[string]string `json:"arguments"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// NewCrawlJob builds the job envelope for req.
func NewCrawlJob(id, name string, req CrawlRequest, submitted time.Time) CrawlJob {
	return CrawlJob{
		ID:   id,
		Name: name,
		Arguments: map[string]string{
			ArgRootURL:        req.RootURL,
			ArgRequestingUser: req.RequestingUser,
		},
		SubmittedAt: submitted,
	}
}

// Request extracts the CrawlRequest carried by the job. The root URL must
// still pass Validate; workers reject jobs that do not.
func (j CrawlJob) Request() (CrawlRequest, error) {
	root := j.Arguments[ArgRootURL]
	if !Validate(root) {
		return CrawlRequest{}, fmt.Errorf("job %s: %w: %q", j.ID, ErrInvalidURL, root)
	}
	return CrawlRequest{
		RootURL:        root,
		RequestingUser: j.Arguments[ArgRequestingUser],
	}, nil
}

// Outcome classifies a finished crawl job.
type Outcome string

// Outcome values recorded on CrawlResult.
const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeCrawlFailed  Outcome = "crawl_failed"
	OutcomeUploadFailed Outcome = "upload_failed"
)

// CrawlResult summarizes one crawl job. Location is empty unless Outcome is
// OutcomeSucceeded. Elapsed covers the crawl only, never the upload.
type CrawlResult struct {
	JobID          string        `json:"job_id"`
	RootURL        string        `json:"root_url"`
	RequestingUser string        `json:"requesting_user"`
	OutputFileName string        `json:"output_file_name"`
	Location       string        `json:"location,omitempty"`
	Outcome        Outcome       `json:"outcome"`
	Elapsed        time.Duration `json:"elapsed"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// ElapsedSeconds returns Elapsed as fractional seconds.
func (r CrawlResult) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

// Notification is a single chat message.
type Notification struct {
	Channel string
	Text    string
}
