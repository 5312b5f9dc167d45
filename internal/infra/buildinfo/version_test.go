package buildinfo

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Fatalf("Get() has empty fields: %+v", info)
	}
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Platform = %q", info.Platform)
	}
}

func TestResolve_FromBuildInfo(t *testing.T) {
	read := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "v1.2.3"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
				{Key: "vcs.modified", Value: "true"},
			},
		}, true
	}
	info := resolve(read)

	if info.Version != "v1.2.3" {
		t.Errorf("Version = %q, want v1.2.3", info.Version)
	}
	if info.ShortCommit() != "0123456789ab" {
		t.Errorf("ShortCommit() = %q", info.ShortCommit())
	}
	if info.BuildTime != "2026-01-02T03:04:05Z" || !info.Modified {
		t.Errorf("info = %+v", info)
	}
	if s := info.String(); !strings.Contains(s, "v1.2.3") || !strings.Contains(s, "modified") {
		t.Errorf("String() = %q", s)
	}
}

func TestResolve_LdflagsWin(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	defer func() { Version, Commit = oldVersion, oldCommit }()
	Version, Commit = "v9.9.9", "feedface"

	info := resolve(func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main:     debug.Module{Version: "v1.0.0"},
			Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "other"}},
		}, true
	})
	if info.Version != "v9.9.9" || info.Commit != "feedface" {
		t.Fatalf("ldflags values overridden: %+v", info)
	}
}

func TestResolve_NoBuildInfo(t *testing.T) {
	info := resolve(func() (*debug.BuildInfo, bool) { return nil, false })
	if info.Version != Version || info.Commit != Commit {
		t.Fatalf("info = %+v", info)
	}
}
