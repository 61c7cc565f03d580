package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo) {
	t.Helper()
	previous := Version
	t.Cleanup(func() {
		readBuildInfo = debug.ReadBuildInfo
		Version = previous
	})
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
}

func TestGetPreservesOverride(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v9.9.9"}})
	Version = "1.2.3"

	if got := Get().Version; got != "1.2.3" {
		t.Fatalf("expected override to be preserved, got %q", got)
	}
}

func TestGetUsesModuleVersion(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v1.4.0"}})
	Version = defaultVersion

	if got := Get().Version; got != "v1.4.0" {
		t.Fatalf("expected module version to be used, got %q", got)
	}
}

func TestGetUsesRevisionFallback(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abcdef1234567890"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	Version = defaultVersion

	info := Get()
	if info.Version != "devel+abcdef123456-dirty" {
		t.Fatalf("expected revision fallback, got %q", info.Version)
	}
	if info.Revision != "abcdef1234567890" || !info.Modified {
		t.Fatalf("unexpected VCS stamp: %+v", info)
	}
}

func TestGetWithoutBuildInfo(t *testing.T) {
	stubBuildInfo(t, nil)
	Version = defaultVersion

	info := Get()
	if info.Version != defaultVersion {
		t.Fatalf("expected default version, got %q", info.Version)
	}
	if !strings.HasPrefix(info.String(), "health-agent "+defaultVersion) {
		t.Fatalf("unexpected string form %q", info.String())
	}
}
