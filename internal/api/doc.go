// Package api hosts the operator HTTP surface that runs alongside a crawl:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for the live crawl counters of the current run.
package api
