package appdirs

import (
	"path/filepath"
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	t.Setenv("LIVESHEET_DATA_DIR", "/tmp/livesheet-test")
	dir, err := DataDir()
	if err != nil {
		t.Fatalf("data dir: %v", err)
	}
	if dir != "/tmp/livesheet-test" {
		t.Fatalf("expected override, got %s", dir)
	}
}

func TestDerivedDirs(t *testing.T) {
	if got := SnapshotsDir("/data"); got != filepath.Join("/data", "snapshots") {
		t.Fatalf("snapshots dir: %s", got)
	}
	if got := SettingsPath("/data"); got != filepath.Join("/data", "settings.json") {
		t.Fatalf("settings path: %s", got)
	}
}
