// Package api hosts the HTTP server and middleware for the sitemap bot.
// Routes:
//   - POST {events_path} receives Slack Events API deliveries.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/results and /api/results/{job_id} read the results ledger
//     when one is configured.
package api
