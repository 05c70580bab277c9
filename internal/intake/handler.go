// Package intake turns inbound Slack Events API deliveries into crawl jobs.
//
// The handler never fails the HTTP exchange: every outcome, including
// internal errors, is a 200 reply with a JSON body so Slack does not retry.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/logging"
	"github.com/JakeFAU/sitemap-bot/internal/metrics"
)

// Reply bodies sent back to Slack.
const (
	ReplyAvoidRetry     = "Avoid retry"
	ReplyInvalidRequest = "Invalid request"
	ReplyValidRequest   = "Valid request"
	ReplyUnrecognized   = "Unrecognized request"
)

// RateLimitedText is posted when user sends requests faster than allowed.
func RateLimitedText(user string) string {
	return fmt.Sprintf("<@%s> you are sending sitemap requests too quickly. Please wait a moment.", user)
}

// BlockedText is posted when rootURL is on the crawl blocklist.
func BlockedText(rootURL string) string {
	return fmt.Sprintf("Sitemaps are not generated for %s.", rootURL)
}

// User-facing notification texts.
const (
	TextInvalidURL = "Invalid URL"
)

// DispatchFailedText is posted when the job runner refuses a job for rootURL.
func DispatchFailedText(rootURL string) string {
	return fmt.Sprintf("Could not start the sitemap job for %s. Please try again later.", rootURL)
}

// DuplicateText is posted when the dispatch guard refuses a claim for rootURL.
func DuplicateText(rootURL string) string {
	return fmt.Sprintf("A sitemap for %s was requested recently. Please wait for it to finish.", rootURL)
}

// Response is what the HTTP layer writes back: always 200 with a JSON body.
type Response struct {
	Status int
	Body   any
}

// JSON encodes the body.
func (r Response) JSON() ([]byte, error) {
	data, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return data, nil
}

// InvalidRequest is the generic rejection reply.
func InvalidRequest() Response {
	return Response{Status: http.StatusOK, Body: ReplyInvalidRequest}
}

// Config carries the intake settings taken from config.Config.
type Config struct {
	VerificationToken string
	SigningSecret     string
	Channel           string
	JobName           string
	SubmitTimeout     time.Duration
	// Blocklist refuses root URLs whose host must never be crawled.
	Blocklist *crawler.Blocklist
}

// Deps are the collaborators the handler calls. Guard and Policy are optional.
type Deps struct {
	Runner   crawler.JobRunner
	Notifier crawler.Notifier
	Guard    crawler.DispatchGuard
	Policy   crawler.RequestPolicy
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
}

// Handler authenticates, validates, and dispatches webhook deliveries.
// It holds no per-request state and is safe for concurrent use.
type Handler struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New builds a Handler.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Handler, error) {
	if deps.Runner == nil {
		return nil, errors.New("intake: job runner is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("intake: notifier is required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("intake: id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfg: cfg, deps: deps, logger: logger.Named("intake")}, nil
}

// Handle processes one delivery. headers must be the request headers as
// received; body is the raw request body.
func (h *Handler) Handle(ctx context.Context, body []byte, headers http.Header) Response {
	if isRetry(headers) {
		h.logger.Debug("ignoring platform retry", zap.String("retry_num", headers.Get(crawler.RetryHeader)))
		return h.reply("avoid_retry", ReplyAvoidRetry)
	}

	if h.cfg.SigningSecret != "" {
		if err := h.verifySignature(body, headers); err != nil {
			h.logger.Warn("rejecting unsigned request", zap.Error(err))
			return h.reply("invalid_request", ReplyInvalidRequest)
		}
	}

	var event crawler.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("rejecting request", zap.Error(fmt.Errorf("%w: %w", crawler.ErrMalformedPayload, err)))
		return h.reply("invalid_request", ReplyInvalidRequest)
	}

	switch event.Type {
	case crawler.EventTypeURLVerification:
		challenge := crawler.VerificationChallenge{Token: event.Token, Challenge: event.Challenge}
		answer := challenge.Answer(h.cfg.VerificationToken)
		if answer["challenge"] == crawler.VerificationFailed {
			h.logger.Warn("handshake rejected", zap.Error(crawler.ErrVerificationMismatch))
			return h.reply("verification_failed", answer)
		}
		return h.reply("challenge", answer)
	case crawler.EventTypeEventCallback:
		if !crawler.TokenMatches(event.Token, h.cfg.VerificationToken) {
			h.logger.Warn("rejecting event callback", zap.Error(crawler.ErrVerificationMismatch))
			return h.reply("invalid_request", ReplyInvalidRequest)
		}
		h.handleMessage(ctx, event.Event)
		return h.reply("valid_request", ReplyValidRequest)
	default:
		h.logger.Info("unrecognized event type", zap.String("type", string(event.Type)))
		return h.reply("unrecognized", ReplyUnrecognized)
	}
}

// handleMessage validates the message text and dispatches at most one job.
func (h *Handler) handleMessage(ctx context.Context, msg *crawler.MessageEvent) {
	if !msg.UserAuthored() {
		return
	}
	if h.deps.Policy != nil && !h.deps.Policy.Allow(msg.User) {
		metrics.ObserveDispatch(metrics.DispatchRateLimited)
		h.logger.Info("request rate limited", zap.String("user", msg.User))
		h.notify(ctx, RateLimitedText(msg.User))
		return
	}

	candidate := crawler.StripLinkDelimiters(msg.Text)
	if !crawler.Validate(candidate) {
		h.logger.Info("rejecting message", zap.String("user", msg.User), zap.Error(fmt.Errorf("%w: %q", crawler.ErrInvalidURL, candidate)))
		h.notify(ctx, TextInvalidURL)
		return
	}
	rootURL, err := crawler.Normalize(candidate)
	if err != nil {
		h.logger.Info("rejecting message", zap.String("user", msg.User), zap.Error(err))
		h.notify(ctx, TextInvalidURL)
		return
	}

	if h.cfg.Blocklist.Blocked(rootURL) {
		metrics.ObserveDispatch(metrics.DispatchBlocked)
		h.logger.Info("refusing blocked site", zap.String("user", msg.User), zap.String("root_url", rootURL))
		h.notify(ctx, BlockedText(rootURL))
		return
	}

	req := crawler.CrawlRequest{RootURL: rootURL, RequestingUser: msg.User}
	if err := h.dispatch(ctx, req); err != nil {
		metrics.ObserveDispatch(metrics.DispatchFailed)
		h.logger.Error("dispatch failed", zap.String("root_url", rootURL), zap.Error(err))
		h.notify(ctx, DispatchFailedText(rootURL))
	}
}

func (h *Handler) dispatch(ctx context.Context, req crawler.CrawlRequest) error {
	id, err := h.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("%w: generate job id: %w", crawler.ErrJobDispatch, err)
	}
	job := crawler.NewCrawlJob(id, h.cfg.JobName, req, h.deps.Clock.Now())
	logger := h.logger.With(logging.JobFields(job)...)

	ctx, span := otel.Tracer("sitemap-bot/intake").Start(ctx, "dispatch_job")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id), attribute.String("job.root_url", req.RootURL))

	claimed := false
	if h.deps.Guard != nil {
		ok, err := h.deps.Guard.Claim(ctx, req.RootURL, id)
		switch {
		case err != nil:
			logger.Warn("dispatch guard unavailable, continuing", zap.Error(err))
		case !ok:
			metrics.ObserveDispatch(metrics.DispatchDuplicate)
			logger.Info("duplicate request suppressed")
			h.notify(ctx, DuplicateText(req.RootURL))
			return nil
		default:
			claimed = true
		}
	}

	submitCtx := ctx
	if h.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, h.cfg.SubmitTimeout)
		defer cancel()
	}
	ack, err := h.deps.Runner.Submit(submitCtx, job)
	if err != nil {
		span.RecordError(err)
		if claimed {
			if relErr := h.deps.Guard.Release(context.WithoutCancel(ctx), req.RootURL, id); relErr != nil {
				logger.Warn("release dispatch claim", zap.Error(relErr))
			}
		}
		return fmt.Errorf("%w: %w", crawler.ErrJobDispatch, err)
	}

	metrics.ObserveDispatch(metrics.DispatchSubmitted)
	logger.Info("crawl job dispatched", zap.String("ack", ack))
	return nil
}

func (h *Handler) verifySignature(body []byte, headers http.Header) error {
	sv, err := slack.NewSecretsVerifier(headers, h.cfg.SigningSecret)
	if err != nil {
		return fmt.Errorf("read signature headers: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("hash body: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

// notify detaches from ctx so a client hanging up mid-request still gets
// its reply in chat.
func (h *Handler) notify(ctx context.Context, text string) {
	h.deps.Notifier.Notify(context.WithoutCancel(ctx), crawler.Notification{Channel: h.cfg.Channel, Text: text})
}

func (h *Handler) reply(label string, body any) Response {
	metrics.ObserveWebhookReply(label)
	return Response{Status: http.StatusOK, Body: body}
}

// isRetry reports whether Slack marked the delivery as a redelivery. Any
// value counts, including an empty one.
func isRetry(headers http.Header) bool {
	if headers == nil {
		return false
	}
	_, ok := headers[http.CanonicalHeaderKey(crawler.RetryHeader)]
	return ok
}
