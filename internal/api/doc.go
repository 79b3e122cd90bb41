// Package api hosts the optional status server and its middleware. Routes:
//   - GET /healthz and /readyz for probes; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live snapshot of the current session.
//   - GET /v1/sessions and /v1/sessions/{session_id} for run history.
package api
