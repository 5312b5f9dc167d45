package command

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

var listenAddrRe = regexp.MustCompile(`msg="admin server listening" addr=(\S+)`)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestServe_AdminAndReload(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("served", "put", "--id", "0b", "-")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stderr := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		_, _, err := env.runContext(ctx, "", stderr, "serve", "--admin-addr", "127.0.0.1:0")
		done <- err
	}()

	var addr string
	if !waitFor(t, 5*time.Second, func() bool {
		m := listenAddrRe.FindStringSubmatch(stderr.String())
		if m == nil {
			return false
		}
		addr = m[1]
		return true
	}) {
		cancel()
		t.Fatalf("server did not report its address:\n%s", stderr.String())
	}

	resp, err := http.Get("http://" + addr + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + addr + "/admin/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Data struct {
			Records int `json:"records"`
		} `json:"data"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if body.Data.Records != 1 {
		t.Errorf("records = %d, want 1", body.Data.Records)
	}

	if err := os.WriteFile(env.cfgPath, []byte(testConfig+"  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(stderr.String(), `msg="log level changed" level=debug`)
	}) {
		t.Errorf("config reload not applied:\n%s", stderr.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	if !strings.Contains(stderr.String(), "meshstore stopped") {
		t.Error("missing stop log")
	}
}

func TestServe_LocalSocketShutdown(t *testing.T) {
	env := newTestEnv(t)
	sockDir, err := os.MkdirTemp("", "ms")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(sockDir)
	sock := filepath.Join(sockDir, "admin.sock")

	stderr := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		_, _, err := env.runContext(context.Background(), "", stderr,
			"serve", "--admin-addr", "127.0.0.1:0", "--admin-socket", sock)
		done <- err
	}()

	if !waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(stderr.String(), "local admin socket listening")
	}) {
		t.Fatalf("socket not ready:\n%s", stderr.String())
	}

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", sock)
		},
	}}
	resp, err := client.Get("http://local/admin/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stats over socket = %d", resp.StatusCode)
	}

	resp, err = client.Post("http://local/local/v1/shutdown", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("shutdown status = %d", resp.StatusCode)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after local shutdown")
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Errorf("socket left behind: %v", err)
	}
}
