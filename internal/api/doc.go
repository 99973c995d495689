// Package api hosts the HTTP server, middleware, and REST handlers for
// operating audits. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/audits to start a run; /v1/audits/current/{pause,resume,abort}
//     to control it.
//   - GET /v1/audits, /v1/audits/{run_id} and /v1/audits/{run_id}/report for
//     persisted runs and reports.
package api
