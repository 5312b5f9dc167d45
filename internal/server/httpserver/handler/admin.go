package handler

import (
	"net/http"
	"time"
)

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.store.Closed() {
		h.writeError(w, r, http.StatusServiceUnavailable, "MS-STOR-5030", "engine closed", nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, h.store.Stats())
}

func (h *Handler) handleCompact(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	res, err := h.store.Compact(r.Context())
	if err != nil {
		h.handleStorageError(w, r, err)
		return
	}
	h.logger.Info("compaction triggered via admin api",
		"request_id", getRequestID(r),
		"segments", res.SegmentsCompacted,
		"relocated", res.RecordsRelocated,
		"reclaimed_bytes", res.BytesReclaimed,
	)
	h.writeJSON(w, r, http.StatusOK, CompactResponse{
		SegmentsCompacted: res.SegmentsCompacted,
		RecordsRelocated:  res.RecordsRelocated,
		TombstonesCarried: res.TombstonesCarried,
		BytesReclaimed:    res.BytesReclaimed,
		Deferred:          res.Deferred,
		DurationMS:        time.Since(start).Milliseconds(),
	})
}
