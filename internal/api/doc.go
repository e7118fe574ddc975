// Package api hosts the HTTP server, middleware, and REST handlers for the
// clipper service. Notable routes:
//   - GET /healthz and /readyz for probes; readyz runs the configured checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/clips to clip one or more URLs into the note store.
//   - POST /v1/clips/resubmit to re-send an artifact after an import failure.
//   - GET /v1/clips/{run_id} for a recorded outcome.
package api
