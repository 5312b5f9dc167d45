package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/meshstore/internal/storage"
	"github.com/yndnr/meshstore/internal/telemetry/metric"
)

func openEngine(t *testing.T) *storage.Engine {
	t.Helper()
	opts := storage.DefaultOptions(storage.DurabilitySync)
	opts.SegmentSizeBytes = 64 << 10
	opts.MaxPayloadBytes = 1 << 10
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := storage.Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newTestRouter(t *testing.T, e *storage.Engine) (http.Handler, *metric.Registry) {
	t.Helper()
	reg := metric.NewRegistry()
	cfg := DefaultRouterConfig()
	cfg.Store = e
	cfg.Version = "test"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Metrics = reg
	return NewRouter(cfg), reg
}

func TestRouter_Endpoints(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()
	if _, err := e.Put(ctx, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	router, _ := newTestRouter(t, e)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/admin/v1/stats", http.StatusOK},
		{http.MethodPost, "/admin/v1/compact", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRouter_StatsReflectEngine(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := e.Put(ctx, []byte(id), []byte(id)); err != nil {
			t.Fatal(err)
		}
	}
	router, _ := newTestRouter(t, e)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/stats", nil))

	var resp struct {
		RequestID string        `json:"request_id"`
		Data      storage.Stats `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Records != 3 {
		t.Errorf("records = %d, want 3", resp.Data.Records)
	}
	if resp.RequestID == "" || resp.RequestID != rec.Header().Get(HeaderRequestID) {
		t.Errorf("request id %q does not match header %q", resp.RequestID, rec.Header().Get(HeaderRequestID))
	}
}

func TestRouter_MetricsExposeRequests(t *testing.T) {
	e := openEngine(t)
	router, _ := newTestRouter(t, e)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/v1/stats", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `meshstore_http_requests_total{method="GET",path="/admin/v1/stats",status="200"} 1`) {
		t.Errorf("request counter missing from /metrics:\n%s", body)
	}
}

func TestRouter_ReadyAfterClose(t *testing.T) {
	e := openEngine(t)
	router, _ := newTestRouter(t, e)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/compact", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("compact after close status = %d, want 503", rec.Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", ReadTimeout: time.Second}, okHandler())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}

	select {
	case err, ok := <-s.Errors():
		if ok {
			t.Errorf("serve error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("serve loop did not stop")
	}
}
