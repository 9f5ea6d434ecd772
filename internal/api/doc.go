// Package api hosts the operator HTTP server that runs alongside a scrape.
// Routes:
//   - GET /healthz and /readyz for probes. Ready is false while the pool is
//     acquiring its session or provisioning pages.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the current run snapshot.
package api
