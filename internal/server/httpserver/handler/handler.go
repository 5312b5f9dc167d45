package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
)

// Store is the part of the engine the admin API needs.
type Store interface {
	Stats() storage.Stats
	Compact(ctx context.Context) (storage.CompactionResult, error)
	Closed() bool
}

// Handler serves the admin API.
type Handler struct {
	store   Store
	version string
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a Handler for store.
func New(store Store, version string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		store:   store,
		version: version,
		logger:  log,
		mux:     http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /admin/v1/stats", h.handleStats)
	h.mux.HandleFunc("POST /admin/v1/compact", h.handleCompact)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

func getRequestID(r *http.Request) string {
	if id := logger.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// handleStorageError converts engine errors to HTTP responses.
func (h *Handler) handleStorageError(w http.ResponseWriter, r *http.Request, err error) {
	if code := domain.GetErrorCode(err); code != "" {
		status := errorCodeToHTTPStatus(code)
		if status >= 500 {
			h.logger.Error("storage error", "request_id", getRequestID(r), "error", err)
		}
		h.writeError(w, r, status, code, err.Error(), nil)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.writeError(w, r, http.StatusServiceUnavailable, "MS-SYS-5030", err.Error(), nil)
		return
	}

	h.logger.Error("internal error", "request_id", getRequestID(r), "error", err)
	h.writeError(w, r, http.StatusInternalServerError, "MS-SYS-5000", "internal server error", nil)
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes by their
// numeric suffix.
func errorCodeToHTTPStatus(code string) int {
	i := strings.LastIndexByte(code, '-')
	if i < 0 || len(code)-i-1 < 3 {
		return http.StatusInternalServerError
	}
	switch suffix := code[i+1 : i+4]; {
	case suffix == "404":
		return http.StatusNotFound
	case suffix == "413":
		return http.StatusRequestEntityTooLarge
	case suffix == "422":
		return http.StatusUnprocessableEntity
	case suffix == "503":
		return http.StatusServiceUnavailable
	case strings.HasPrefix(code, "MS-ARG-"), suffix[0] == '4':
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
