package logger

import (
	"log/slog"
	"strings"

	"github.com/yndnr/meshstore/internal/core/domain"
)

// sensitiveKeyPatterns mark attribute keys whose values are never logged.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"encryption_key",
	"master_key",
	"credential",
	"bearer",
}

const redactedValue = "***REDACTED***"

// redactSensitive replaces secret values and renders raw identifiers as
// short hex.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if a.Value.String() != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok {
			if IsSensitiveKey(a.Key) {
				return slog.String(a.Key, redactedValue)
			}
			return slog.String(a.Key, domain.ShortID(b))
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// IsSensitiveKey reports whether a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}

// ID returns an attribute rendering a raw identifier as short hex.
func ID(key string, id []byte) slog.Attr {
	return slog.String(key, domain.ShortID(id))
}
