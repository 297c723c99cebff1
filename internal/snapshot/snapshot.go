// Package snapshot persists the managed document to a side-store location
// and restores it on demand. At most one snapshot is retained; taking a new
// one discards the previous.
package snapshot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"livesheet/engine/internal/bridge"
	"livesheet/engine/internal/logging"
)

// ErrNoSnapshot reports a revert without a prior Take.
var ErrNoSnapshot = errors.New("no snapshot has been taken")

type Manager struct {
	session *bridge.Session
	logger  *slog.Logger
	dir     string
	current string
}

func NewManager(session *bridge.Session, logger *slog.Logger, dir string) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{session: session, logger: logger, dir: dir}
}

// Has reports whether a snapshot is available to revert to.
func (m *Manager) Has() bool { return m.current != "" }

// Current returns the side-store path of the retained snapshot, or "".
func (m *Manager) Current() string { return m.current }

// Take persists the current document to the side store and retains the new
// file, discarding any previous snapshot.
func (m *Manager) Take(ctx context.Context) (string, error) {
	handle, err := m.session.Validate(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(m.dir, "snapshot-"+newID()+".xlsx")
	if err := m.session.Driver().PersistToFile(ctx, handle, path); err != nil {
		return "", fmt.Errorf("persist snapshot: %w", err)
	}
	if m.current != "" && m.current != path {
		if err := os.Remove(m.current); err != nil && !os.IsNotExist(err) {
			m.logger.Debug("snapshot.discard_previous_failed", "path", m.current, "error", err.Error())
		}
	}
	m.current = path
	m.logger.Info("snapshot.taken", "path", path)
	return path, nil
}

// Revert closes the current document without saving and reopens the
// retained snapshot, rebinding the session to the restored copy. Any
// failure partway through leaves the session degraded; the caller decides
// whether to reconnect.
func (m *Manager) Revert(ctx context.Context) error {
	if m.current == "" {
		return ErrNoSnapshot
	}
	handle, err := m.session.Validate(ctx)
	if err != nil {
		return err
	}
	driver := m.session.Driver()
	instance := m.session.Instance()

	if err := driver.CloseDocument(ctx, handle, true); err != nil {
		m.session.Degrade()
		return fmt.Errorf("close before revert: %w", err)
	}
	restored, err := driver.OpenFile(ctx, instance, m.current)
	if err != nil {
		m.session.Degrade()
		return fmt.Errorf("reopen snapshot: %w", err)
	}
	if err := m.session.RebindTo(ctx, restored); err != nil {
		m.session.Degrade()
		return fmt.Errorf("rebind after revert: %w", err)
	}
	m.logger.Info("snapshot.reverted", "path", m.current)
	return nil
}

func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
