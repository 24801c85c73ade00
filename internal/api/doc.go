// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /ping and GET /v1/records (alias /characters) for the aggregated
//     collection; an empty store triggers a synchronous aggregation.
//   - POST /v1/runs to queue an aggregation, GET /v1/runs and
//     /v1/runs/{run_id} for run history.
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
