package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/queue"
)

func TestSubmitPublishesWithMsgID(t *testing.T) {
	t.Parallel()

	js := &fakeJetStream{ack: &jetstream.PubAck{Stream: "SITEMAP", Sequence: 7}}
	r, err := New(js, Config{}, nil)
	require.NoError(t, err)

	job := crawler.NewCrawlJob("job-1", "sitemap-generator", crawler.CrawlRequest{
		RootURL: "https://example.com", RequestingUser: "U1",
	}, time.Unix(0, 0).UTC())

	ack, err := r.Submit(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "SITEMAP:7", ack)

	require.NotNil(t, js.msg)
	assert.Equal(t, "sitemap.crawl.requested", js.msg.Subject)
	assert.Equal(t, "application/json", js.msg.Header.Get("Content-Type"))
	assert.Len(t, js.opts, 1)

	got, err := queue.Decode(js.msg.Data)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "https://example.com", got.Arguments[crawler.ArgRootURL])
}

func TestSubmitPublishError(t *testing.T) {
	t.Parallel()

	r, err := New(&fakeJetStream{err: errors.New("no responders")}, Config{Subject: "jobs"}, nil)
	require.NoError(t, err)

	_, err = r.Submit(context.Background(), crawler.CrawlJob{ID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs")
}

func TestHandleMsgSettlesByOutcome(t *testing.T) {
	t.Parallel()

	r, err := New(&fakeJetStream{}, Config{}, nil)
	require.NoError(t, err)

	handler := func(_ context.Context, job crawler.CrawlJob) error {
		if job.ID == "bad" {
			return crawler.ErrInvalidURL
		}
		return nil
	}

	ok := &fakeMsg{data: []byte(`{"job_id":"ok","arguments":{"root_url":"https://example.com"}}`)}
	r.handleMsg(context.Background(), ok, handler)
	assert.True(t, ok.acked)
	assert.False(t, ok.termed)

	garbage := &fakeMsg{data: []byte(`{`)}
	r.handleMsg(context.Background(), garbage, handler)
	assert.True(t, garbage.termed)

	rejected := &fakeMsg{data: []byte(`{"job_id":"bad"}`)}
	r.handleMsg(context.Background(), rejected, handler)
	assert.True(t, rejected.termed)
	assert.False(t, rejected.acked)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)

	r, err := New(&fakeJetStream{}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SITEMAP", r.cfg.Stream)
	assert.Equal(t, "sitemap-worker", r.cfg.Durable)
	assert.Equal(t, 30*time.Minute, r.cfg.AckWait)
}

// fakeJetStream overrides PublishMsg; any other call panics on the nil embed.
type fakeJetStream struct {
	jetstream.JetStream
	msg  *nats.Msg
	opts []jetstream.PublishOpt
	ack  *jetstream.PubAck
	err  error
}

func (f *fakeJetStream) PublishMsg(_ context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msg = msg
	f.opts = opts
	return f.ack, nil
}

type fakeMsg struct {
	jetstream.Msg
	data   []byte
	acked  bool
	termed bool
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Headers() nats.Header { return nil }
func (m *fakeMsg) Subject() string { return "sitemap.crawl.requested" }

func (m *fakeMsg) Ack() error {
	m.acked = true
	return nil
}

func (m *fakeMsg) Term() error {
	m.termed = true
	return nil
}
