// Package api exposes the HTTP surface of the permit watcher. Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - GET /v1/status and POST /v1/runs for the pipeline.
//   - GET /v1/permits plus the dismissal routes for the record store.
//   - /v1/subscriptions and /v1/devices/{device_id}/... for push delivery.
//
// Mutating routes require the X-API-Key header when auth is enabled.
package api
