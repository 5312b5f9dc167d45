package localserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeController struct {
	shutdowns atomic.Int32
	reloadErr error
	reloads   atomic.Int32
}

func (c *fakeController) Shutdown() { c.shutdowns.Add(1) }

func (c *fakeController) Reload() error {
	c.reloads.Add(1)
	return c.reloadErr
}

func socketPath(t *testing.T) string {
	t.Helper()
	// Keep the path short; sun_path is limited to about 100 bytes.
	dir, err := os.MkdirTemp("", "ms")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "admin.sock")
}

func unixClient(path string) *http.Client {
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}}
}

func startServer(t *testing.T, ctl Controller) (*Server, *http.Client) {
	t.Helper()
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	path := socketPath(t)
	srv := New(path, NewHandler(admin, ctl, nil))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, unixClient(path)
}

func TestServer_SocketMode(t *testing.T) {
	srv, _ := startServer(t, &fakeController{})
	info, err := os.Stat(srv.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != SocketPerm {
		t.Errorf("mode = %v, want %v", info.Mode().Perm(), SocketPerm)
	}
}

func TestHandler_Routes(t *testing.T) {
	ctl := &fakeController{}
	_, client := startServer(t, ctl)

	resp, err := client.Get("http://local/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("admin passthrough status = %d", resp.StatusCode)
	}

	resp, err = client.Post("http://local/local/v1/reload", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || ctl.reloads.Load() != 1 {
		t.Errorf("reload status = %d, calls = %d", resp.StatusCode, ctl.reloads.Load())
	}

	resp, err = client.Post("http://local/local/v1/shutdown", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Code string            `json:"code"`
		Data map[string]string `json:"data"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted || body.Data["status"] != "shutting_down" {
		t.Errorf("shutdown = %d %+v", resp.StatusCode, body)
	}
	if ctl.shutdowns.Load() != 1 {
		t.Errorf("shutdown calls = %d", ctl.shutdowns.Load())
	}
}

func TestHandler_ReloadFailure(t *testing.T) {
	_, client := startServer(t, &fakeController{reloadErr: errors.New("bad yaml")})

	resp, err := client.Post("http://local/local/v1/reload", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity || body.Code != "MS-CFG-4220" || !strings.Contains(body.Details, "bad yaml") {
		t.Errorf("reload failure = %d %+v", resp.StatusCode, body)
	}
}

func TestServer_StaleSocket(t *testing.T) {
	path := socketPath(t)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	srv := New(path, http.NotFoundHandler())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start over stale file: %v", err)
	}
	defer srv.Shutdown(context.Background())

	second := New(path, http.NotFoundHandler())
	if err := second.Start(); !errors.Is(err, ErrSocketInUse) {
		t.Errorf("second Start = %v, want ErrSocketInUse", err)
	}
}

func TestServer_ShutdownRemovesSocket(t *testing.T) {
	path := socketPath(t)
	srv := New(path, http.NotFoundHandler())
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket still present: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if _, ok := <-srv.Errors(); ok {
		t.Error("errors channel should close without an error")
	}
}
