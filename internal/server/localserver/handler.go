package localserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yndnr/meshstore/internal/server/httpserver/handler"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
)

// Controller performs the local-only operations.
type Controller interface {
	// Shutdown starts a graceful shutdown and returns immediately.
	Shutdown()
	// Reload re-reads the configuration and applies runtime settings.
	Reload() error
}

// Handler adds the local routes in front of the admin handler.
type Handler struct {
	admin  http.Handler
	ctl    Controller
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a Handler. Requests for other paths go to admin.
func NewHandler(admin http.Handler, ctl Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{admin: admin, ctl: ctl, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /local/v1/shutdown", h.handleShutdown)
	h.mux.HandleFunc("POST /local/v1/reload", h.handleReload)
	h.mux.Handle("/", admin)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleShutdown(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("shutdown requested over local socket")
	writeJSON(w, http.StatusAccepted, handler.NewResponse(requestID(r), map[string]string{"status": "shutting_down"}))
	h.ctl.Shutdown()
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Reload(); err != nil {
		h.logger.Warn("reload over local socket failed", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity,
			handler.NewErrorResponse(requestID(r), "MS-CFG-4220", "reload failed", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, handler.NewResponse(requestID(r), map[string]string{"status": "reloaded"}))
}

func requestID(r *http.Request) string {
	if id := logger.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
