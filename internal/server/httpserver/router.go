package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/meshstore/internal/server/httpserver/handler"
	"github.com/yndnr/meshstore/internal/telemetry/metric"
)

// RouterConfig holds configuration for the admin router.
type RouterConfig struct {
	Store   handler.Store
	Version string
	Logger  *slog.Logger

	// Metrics serves /metrics and records request metrics. Nil disables
	// both.
	Metrics *metric.Registry

	// RateLimit is the admin request rate per client IP. 0 disables it.
	RateLimit float64
	Burst     int
}

// DefaultRouterConfig returns the default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		RateLimit: 20,
		Burst:     40,
	}
}

// NewRouter builds the admin HTTP handler.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := handler.New(cfg.Store, cfg.Version, log)

	route := func(pattern string, extra ...Middleware) http.Handler {
		mws := []Middleware{RequestID(), Recover(log)}
		if cfg.Metrics != nil {
			mws = append(mws, Metrics(cfg.Metrics, pattern))
		}
		return Chain(h, append(mws, extra...)...)
	}

	mux := http.NewServeMux()

	mux.Handle("GET /health", route("/health"))
	mux.Handle("GET /ready", route("/ready"))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), RequestID(), Recover(log)))
	}

	admin := []Middleware{AccessLog(log)}
	if cfg.RateLimit > 0 {
		admin = append(admin, RateLimit(cfg.RateLimit, cfg.Burst))
	}
	mux.Handle("GET /admin/v1/stats", route("/admin/v1/stats", admin...))
	mux.Handle("POST /admin/v1/compact", route("/admin/v1/compact", admin...))

	return mux
}
