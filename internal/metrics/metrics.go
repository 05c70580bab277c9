// Package metrics exposes Prometheus collectors for the sitemap bot.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	webhookRepliesTotal        *prometheus.CounterVec
	jobDispatchTotal           *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	crawlDurationSeconds       *prometheus.HistogramVec
	crawlPagesTotal            *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Dispatch results recorded by ObserveDispatch.
const (
	DispatchSubmitted   = "submitted"
	DispatchFailed      = "failed"
	DispatchDuplicate   = "duplicate"
	DispatchBlocked     = "blocked"
	DispatchRateLimited = "rate_limited"
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		webhookRepliesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_webhook_replies_total",
				Help: "Webhook requests answered, labeled by reply.",
			},
			[]string{"reply"},
		)

		jobDispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_job_dispatch_total",
				Help: "Crawl job dispatch attempts, labeled by result.",
			},
			[]string{"result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_jobs_total",
				Help: "Crawl jobs finished by workers, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitemap_crawl_duration_seconds",
				Help:    "Time spent crawling a site, labeled by outcome.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"outcome"},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_crawl_pages_total",
				Help: "Pages visited while building sitemaps, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitemap_active_workers",
				Help: "Number of workers currently running a crawl job.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveWebhookReply counts one answered webhook request.
func ObserveWebhookReply(reply string) {
	Init()
	webhookRepliesTotal.WithLabelValues(reply).Inc()
}

// ObserveDispatch counts one dispatch attempt.
func ObserveDispatch(result string) {
	Init()
	jobDispatchTotal.WithLabelValues(result).Inc()
}

// ObserveJob records a finished job and the time its crawl took.
func ObserveJob(outcome string, crawlTime time.Duration) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
	crawlDurationSeconds.WithLabelValues(outcome).Observe(crawlTime.Seconds())
}

// ObservePage counts one visited page.
func ObservePage(site string, status int) {
	Init()
	crawlPagesTotal.WithLabelValues(SanitizeSite(site), strconv.Itoa(status)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
