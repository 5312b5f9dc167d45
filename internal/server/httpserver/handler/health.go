package handler

import (
	"net/http"
	"time"
)

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Version: h.version,
	})
}

// handleReady reports 503 once the engine is closed.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.store.Closed() {
		h.writeError(w, r, http.StatusServiceUnavailable, "MS-STOR-5030", "engine closed", nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status: "ready",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
