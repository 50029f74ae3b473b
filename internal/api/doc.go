// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batches plus status/results/stats/cancel for batch control.
//   - GET /v1/runs and /v1/runs/{id}/outcomes for run progress via the
//     RunRepository interface.
package api
