// Package httpserver provides the admin HTTP server for meshstore.
//
// Endpoints:
//
//   - GET /health, GET /ready: liveness and readiness
//   - GET /metrics: Prometheus metrics
//   - GET /admin/v1/stats: engine statistics
//   - POST /admin/v1/compact: run a compaction pass
//
// Admin endpoints pass through RequestID, Recover, Metrics, AccessLog and
// an optional per-IP RateLimit.
package httpserver
