package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "livesheet"
)

func DataDir() (string, error) {
	if override := os.Getenv("LIVESHEET_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// SnapshotsDir is the side-store for whole-document rollback snapshots.
func SnapshotsDir(dataDir string) string {
	return filepath.Join(dataDir, "snapshots")
}

func SettingsPath(dataDir string) string {
	return filepath.Join(dataDir, "settings.json")
}
