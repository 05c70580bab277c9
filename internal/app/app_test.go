package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/sitemap-bot/internal/app"
	"github.com/JakeFAU/sitemap-bot/internal/config"
	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/intake"
	notifymem "github.com/JakeFAU/sitemap-bot/internal/notify/memory"
	"github.com/JakeFAU/sitemap-bot/internal/storage"
	"github.com/JakeFAU/sitemap-bot/internal/storage/memory"
	"github.com/JakeFAU/sitemap-bot/internal/worker"
)

const token = "verification-token"

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Port: 8080, EventsPath: "/slack/events"},
		Slack: config.SlackConfig{
			VerificationToken: token,
			Channel:           "sitemap_generator",
		},
		Job: config.JobConfig{
			Name:          "sitemap-generator",
			Backend:       config.BackendMemory,
			QueueDepth:    4,
			Concurrency:   2,
			SubmitTimeout: time.Second,
		},
		Storage: config.StorageConfig{Backend: config.StorageMemory, Prefix: "sitemap"},
		Crawler: config.CrawlerConfig{
			UserAgent:             "sitemap-bot-test",
			MaxDepth:              2,
			MaxPages:              20,
			Parallelism:           2,
			RequestTimeoutSeconds: 5,
		},
		Worker:    config.WorkerConfig{WorkDir: t.TempDir()},
		Telemetry: config.TelemetryConfig{ServiceName: "sitemap-bot-test", Version: "test", SampleRatio: 1},
	}
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/about">about</a></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>about</body></html>`)
	})
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
}

func artifactKey(t *testing.T, rootURL string) string {
	t.Helper()
	return storage.Key("sitemap", crawler.OutputFileName(rootURL))
}

func messageEvent(text string) string {
	return fmt.Sprintf(`{"token":%q,"type":"event_callback","event":{"type":"message","user":"U1","text":%q,"channel":"C1","client_msg_id":"m-1"}}`, token, text)
}

func TestServeMemoryBackendEndToEnd(t *testing.T) {
	site := newSite(t)
	notifier := notifymem.New()
	blobs := memory.NewBlobStore()

	a, err := app.New(context.Background(), baseConfig(t), app.RoleServe, zaptest.NewLogger(t),
		app.WithNotifier(notifier), app.WithBlobStore(blobs))
	require.NoError(t, err)
	defer a.Close()

	handler, err := a.HTTPHandler()
	require.NoError(t, err)

	d, err := a.Dispatcher()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(messageEvent("<"+site.URL+">")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), intake.ReplyValidRequest)

	require.Eventually(t, func() bool {
		return len(notifier.Texts()) == 1
	}, 10*time.Second, 20*time.Millisecond)

	text := notifier.Texts()[0]
	assert.True(t, strings.HasPrefix(text, "<@U1> "), text)
	assert.Contains(t, text, "Crawler time:")

	body, ok := blobs.Object(artifactKey(t, site.URL))
	require.True(t, ok, "sitemap artifact should be uploaded")
	assert.Contains(t, string(body), site.URL+"/about")
}

func TestServeRejectsInvalidURL(t *testing.T) {
	notifier := notifymem.New()
	a, err := app.New(context.Background(), baseConfig(t), app.RoleServe, zaptest.NewLogger(t),
		app.WithNotifier(notifier), app.WithBlobStore(memory.NewBlobStore()))
	require.NoError(t, err)
	defer a.Close()

	handler, err := a.HTTPHandler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(messageEvent("not a url")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{intake.TextInvalidURL}, notifier.Texts())
}

func TestServeAppliesBlocklist(t *testing.T) {
	site := newSite(t)
	cfg := baseConfig(t)
	cfg.Intake.BlockedDomains = []string{"127.0.0.1"}

	notifier := notifymem.New()
	a, err := app.New(context.Background(), cfg, app.RoleServe, zaptest.NewLogger(t),
		app.WithNotifier(notifier), app.WithBlobStore(memory.NewBlobStore()))
	require.NoError(t, err)
	defer a.Close()

	handler, err := a.HTTPHandler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(messageEvent(site.URL)))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []string{intake.BlockedText(site.URL)}, notifier.Texts())
}

func TestHealthAndReadiness(t *testing.T) {
	a, err := app.New(context.Background(), baseConfig(t), app.RoleServe, zaptest.NewLogger(t),
		app.WithNotifier(notifymem.New()), app.WithBlobStore(memory.NewBlobStore()))
	require.NoError(t, err)
	defer a.Close()

	handler, err := a.HTTPHandler()
	require.NoError(t, err)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestCrawlRoleRunsInForeground(t *testing.T) {
	site := newSite(t)
	notifier := notifymem.New()
	blobs := memory.NewBlobStore()

	a, err := app.New(context.Background(), baseConfig(t), app.RoleCrawl, zaptest.NewLogger(t),
		app.WithNotifier(notifier), app.WithBlobStore(blobs))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Crawl(context.Background(), site.URL, "U42")
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeSucceeded, res.Outcome)
	assert.Equal(t, site.URL, res.RootURL)

	texts := notifier.Texts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "<@U42> "), texts[0])

	_, ok := blobs.Object(artifactKey(t, site.URL))
	assert.True(t, ok)

	_, err = a.HTTPHandler()
	assert.Error(t, err, "crawl role has no job runner")
}

func TestCrawlRoleReportsUnreachableSite(t *testing.T) {
	site := newSite(t)
	root := site.URL
	site.Close()

	notifier := notifymem.New()
	a, err := app.New(context.Background(), baseConfig(t), app.RoleCrawl, zaptest.NewLogger(t),
		app.WithNotifier(notifier), app.WithBlobStore(memory.NewBlobStore()))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Crawl(context.Background(), root, "U42")
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeCrawlFailed, res.Outcome)
	assert.Equal(t, []string{worker.TextCrawlFailed}, notifier.Texts())
}

func TestRunWorkerRejectsMemoryBackend(t *testing.T) {
	a, err := app.New(context.Background(), baseConfig(t), app.RoleWorker, zaptest.NewLogger(t),
		app.WithNotifier(notifymem.New()), app.WithBlobStore(memory.NewBlobStore()))
	require.NoError(t, err)
	defer a.Close()

	assert.ErrorIs(t, a.RunWorker(context.Background()), app.ErrMemoryWorker)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		role app.Role
		cfg  func(c config.Config) config.Config
		want string
	}{
		{
			name: "serve without token",
			role: app.RoleServe,
			cfg:  func(c config.Config) config.Config { c.Slack.VerificationToken = ""; return c },
			want: "slack.verification_token",
		},
		{
			name: "worker without work dir",
			role: app.RoleWorker,
			cfg:  func(c config.Config) config.Config { c.Worker.WorkDir = ""; return c },
			want: "worker.work_dir",
		},
		{
			name: "unknown role",
			role: app.Role("janitor"),
			cfg:  func(c config.Config) config.Config { return c },
			want: "unknown role",
		},
		{
			name: "unknown storage backend",
			role: app.RoleCrawl,
			cfg:  func(c config.Config) config.Config { c.Storage.Backend = "tape"; return c },
			want: "unknown storage backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.New(context.Background(), tt.cfg(baseConfig(t)), tt.role, zaptest.NewLogger(t),
				app.WithNotifier(notifymem.New()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := app.New(context.Background(), baseConfig(t), app.RoleServe, zaptest.NewLogger(t),
		app.WithNotifier(notifymem.New()), app.WithBlobStore(memory.NewBlobStore()))
	require.NoError(t, err)
	a.Close()
	a.Close()
}

func TestLocalStorageBackend(t *testing.T) {
	site := newSite(t)
	cfg := baseConfig(t)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.Local.BaseDir = t.TempDir()

	notifier := notifymem.New()
	a, err := app.New(context.Background(), cfg, app.RoleCrawl, zaptest.NewLogger(t), app.WithNotifier(notifier))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Crawl(context.Background(), site.URL, "U7")
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeSucceeded, res.Outcome)

	loc, err := url.Parse(res.Location)
	require.NoError(t, err)
	assert.Equal(t, "file", loc.Scheme)
}
