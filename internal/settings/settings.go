package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const schemaVersion = 1

// Compiled-in defaults; a deployment can override any of them through the
// settings file without rebuilding the engine.
const (
	defaultScanEveryNWrites     = 3
	defaultMaxConsecutiveErrors = 2
	defaultMaxActions           = 50
	defaultMaxSheetsInRender    = 30
	defaultMaxHeadersPerSheet   = 50
)

type SyncSettings struct {
	ScanEveryNWrites     int `json:"scan_every_n_writes"`
	MaxConsecutiveErrors int `json:"max_consecutive_errors"`
	MaxActions           int `json:"max_actions"`
	MaxSheetsInRender    int `json:"max_sheets_in_render"`
	MaxHeadersPerSheet   int `json:"max_headers_per_sheet"`

	// OperationClasses assigns refresh classes to operation names beyond
	// the built-in tables. Values are "read_only", "regular_write", or
	// "structural_write"; unlisted names fall back to the built-ins.
	OperationClasses map[string]string `json:"operation_classes,omitempty"`
}

type Settings struct {
	SchemaVersion int          `json:"schema_version"`
	Sync          SyncSettings `json:"sync"`
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSettings(), nil
		}
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	backfillSettings(&settings)
	return &settings, nil
}

func (s *Store) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfillSettings(settings)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(settings)
	return settings, s.Save(settings)
}

func defaultSettings() *Settings {
	return &Settings{
		SchemaVersion: schemaVersion,
		Sync: SyncSettings{
			ScanEveryNWrites:     defaultScanEveryNWrites,
			MaxConsecutiveErrors: defaultMaxConsecutiveErrors,
			MaxActions:           defaultMaxActions,
			MaxSheetsInRender:    defaultMaxSheetsInRender,
			MaxHeadersPerSheet:   defaultMaxHeadersPerSheet,
		},
	}
}

func backfillSettings(settings *Settings) {
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = schemaVersion
	}
	if settings.Sync.ScanEveryNWrites <= 0 {
		settings.Sync.ScanEveryNWrites = defaultScanEveryNWrites
	}
	if settings.Sync.MaxConsecutiveErrors <= 0 {
		settings.Sync.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if settings.Sync.MaxActions <= 0 {
		settings.Sync.MaxActions = defaultMaxActions
	}
	if settings.Sync.MaxSheetsInRender <= 0 {
		settings.Sync.MaxSheetsInRender = defaultMaxSheetsInRender
	}
	if settings.Sync.MaxHeadersPerSheet <= 0 {
		settings.Sync.MaxHeadersPerSheet = defaultMaxHeadersPerSheet
	}
}
