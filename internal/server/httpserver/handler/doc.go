// Package handler provides the admin HTTP handlers for meshstore.
//
//   - health.go: liveness and readiness
//   - admin.go: engine statistics and compaction
//
// Every JSON response uses the Response envelope. Domain errors map to
// HTTP status codes by their error code.
package handler
