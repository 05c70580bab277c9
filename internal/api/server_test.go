package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/intake"
)

const eventsPath = "/slack/events"

func TestServer_WebhookRepliesJSON(t *testing.T) {
	t.Parallel()

	hook := &fakeWebhook{resp: intake.Response{Status: http.StatusOK, Body: intake.ReplyValidRequest}}
	server := NewServer(eventsPath, hook, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, eventsPath, bytes.NewBufferString(`{"type":"event_callback"}`))
	req.Header.Set("X-Slack-Retry-Num", "2")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `"Valid request"`, rec.Body.String())
	require.Equal(t, `{"type":"event_callback"}`, string(hook.body))
	require.Equal(t, "2", hook.headers.Get("X-Slack-Retry-Num"))
}

func TestServer_WebhookChallengeObject(t *testing.T) {
	t.Parallel()

	hook := &fakeWebhook{resp: intake.Response{Status: http.StatusOK, Body: map[string]string{"challenge": "abc"}}}
	server := NewServer(eventsPath, hook, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, eventsPath, strings.NewReader("{}")))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"challenge":"abc"}`, rec.Body.String())
}

func TestServer_WebhookPanicStillReplies200(t *testing.T) {
	t.Parallel()

	server := NewServer(eventsPath, &fakeWebhook{panicWith: "boom"}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, eventsPath, strings.NewReader("{}")))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `"Invalid request"`, rec.Body.String())
}

func TestServer_WebhookBodyTooLarge(t *testing.T) {
	t.Parallel()

	hook := &fakeWebhook{resp: intake.Response{Status: http.StatusOK, Body: intake.ReplyValidRequest}}
	server := NewServer(eventsPath, hook, zap.NewNop())

	big := bytes.Repeat([]byte("a"), MaxWebhookBody+1)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, eventsPath, bytes.NewReader(big)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `"Invalid request"`, rec.Body.String())
	require.Zero(t, hook.calls)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ok := NewServer(eventsPath, &fakeWebhook{}, nil,
		WithReadyCheck("queue", func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	ok.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	failing := NewServer(eventsPath, &fakeWebhook{}, nil,
		WithReadyCheck("redis", func(context.Context) error { return errors.New("connection refused") }))
	rec = httptest.NewRecorder()
	failing.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "connection refused", body.Checks["redis"])
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	server.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ResultsNotMountedWithoutLedger(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer().Handler().ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	newTestServer().Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeWebhook struct {
	mu        sync.Mutex
	resp      intake.Response
	panicWith any
	body      []byte
	headers   http.Header
	calls     int
}

func (f *fakeWebhook) Handle(_ context.Context, body []byte, headers http.Header) intake.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	f.body = body
	f.headers = headers
	return f.resp
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer() *Server {
	return NewServer(eventsPath, &fakeWebhook{resp: intake.Response{Status: http.StatusOK, Body: intake.ReplyValidRequest}}, zap.NewNop())
}
