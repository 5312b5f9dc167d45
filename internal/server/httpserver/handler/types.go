package handler

import "time"

// Response is the standard API response envelope. All JSON responses use
// it; /metrics uses the Prometheus exposition format instead.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// HealthResponse is the body of GET /health and GET /ready.
type HealthResponse struct {
	Status  string `json:"status"`
	Time    string `json:"time"`
	Version string `json:"version,omitempty"`
}

// CompactResponse is the body of POST /admin/v1/compact.
type CompactResponse struct {
	SegmentsCompacted int   `json:"segments_compacted"`
	RecordsRelocated  int   `json:"records_relocated"`
	TombstonesCarried int   `json:"tombstones_carried"`
	BytesReclaimed    int64 `json:"bytes_reclaimed"`
	Deferred          int   `json:"deferred"`
	DurationMS        int64 `json:"duration_ms"`
}
