// Package logger provides structured logging for meshstore.
//
// It wraps log/slog:
//
//   - logger.go: handler construction, dynamic level, package-level helpers
//   - context.go: logger and request id propagation through contexts
//   - redact.go: secret redaction and identifier rendering
//
// Library packages never import this package; they take a *slog.Logger in
// their options. Binaries build one here and hand out Slog().
package logger
