package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"livesheet/engine/internal/logging"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateLive         State = "live"
	StateDegraded     State = "degraded"
)

type ConnectOptions struct {
	AttachExisting bool `json:"attach_existing"`
	KillOthers     bool `json:"kill_others"`
	SingleDocument bool `json:"single_document"`
}

// Session owns exactly one managed document inside one host instance. All
// engine operations go through Validate, which guarantees the returned
// handle was alive at the time of the call or fails with ErrConnection.
type Session struct {
	driver Driver
	logger *slog.Logger

	state            State
	instance         InstanceID
	handle           DocumentHandle
	identity         Identity
	attachedExisting bool
	killOthers       bool
}

func NewSession(driver Driver, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Session{driver: driver, logger: logger, state: StateDisconnected}
}

func (s *Session) State() State           { return s.state }
func (s *Session) Identity() Identity     { return s.identity }
func (s *Session) AttachedExisting() bool { return s.attachedExisting }

// Connect binds the session to a document resolved from target. The target
// may name an already-open document, an existing file on disk, or nothing,
// in which case a blank document is created.
func (s *Session) Connect(ctx context.Context, target string, opts ConnectOptions) error {
	if opts.KillOthers {
		s.terminateAllInstances(ctx)
	}

	instance, attached, err := s.resolveInstance(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	s.instance = instance
	s.attachedExisting = attached
	s.killOthers = opts.KillOthers

	handle, err := s.resolveDocument(ctx, instance, target)
	if err != nil {
		s.instance = ""
		s.attachedExisting = false
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	s.handle = handle

	if opts.SingleDocument {
		if err := s.closeOtherDocuments(ctx); err != nil {
			s.clear()
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}

	if err := s.ensureSheet(ctx); err != nil {
		s.clear()
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	identity, err := s.driver.DocumentIdentity(ctx, s.handle)
	if err != nil {
		s.clear()
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	s.identity = identity
	s.state = StateLive
	s.logger.Info("session.connected",
		"path", identity.Path,
		"display_name", identity.DisplayName,
		"attached_existing", attached)
	return nil
}

func (s *Session) terminateAllInstances(ctx context.Context) {
	instances, err := s.driver.ListInstances(ctx)
	if err != nil {
		s.logger.Warn("session.kill_others_list_failed", "error", err.Error())
		return
	}
	for _, instance := range instances {
		if err := s.driver.TerminateInstance(ctx, instance); err != nil {
			s.logger.Warn("session.kill_others_failed", "instance", string(instance), "error", err.Error())
		}
	}
}

func (s *Session) resolveInstance(ctx context.Context, opts ConnectOptions) (InstanceID, bool, error) {
	if opts.AttachExisting {
		instances, err := s.driver.ListInstances(ctx)
		if err != nil {
			return "", false, err
		}
		if len(instances) > 0 {
			return instances[0], true, nil
		}
	}
	instance, err := s.driver.Launch(ctx)
	if err != nil {
		return "", false, err
	}
	return instance, false, nil
}

func (s *Session) resolveDocument(ctx context.Context, instance InstanceID, target string) (DocumentHandle, error) {
	if target != "" {
		docs, err := s.driver.ListDocuments(ctx, instance)
		if err != nil {
			return "", err
		}
		for _, doc := range docs {
			if doc.Identity.Path == target {
				s.logger.Debug("session.reusing_open_document", "path", target)
				return doc.Handle, nil
			}
		}
		if handle, err := s.driver.OpenFile(ctx, instance, target); err == nil {
			return handle, nil
		} else {
			s.logger.Debug("session.open_target_failed", "path", target, "error", err.Error())
		}
	}

	handle, err := s.driver.NewDocument(ctx, instance)
	if err != nil {
		return "", err
	}
	if target != "" {
		// Best effort; the document stays unsaved in memory if this fails.
		if err := s.driver.PersistToFile(ctx, handle, target); err != nil {
			s.logger.Warn("session.save_new_document_failed", "path", target, "error", err.Error())
		}
	}
	return handle, nil
}

// closeOtherDocuments implements the single-document option: every document
// except the managed one is closed, and the managed document must still be
// locatable afterward. Some hosts tear down sibling handles when their last
// document closes, so losing the managed document here is fatal.
func (s *Session) closeOtherDocuments(ctx context.Context) error {
	docs, err := s.driver.ListDocuments(ctx, s.instance)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.Handle == s.handle {
			continue
		}
		if err := s.driver.CloseDocument(ctx, doc.Handle, true); err != nil {
			s.logger.Warn("session.close_other_failed", "display_name", doc.Identity.DisplayName, "error", err.Error())
		}
	}
	if s.driver.IsHandleValid(ctx, s.handle) {
		return nil
	}
	docs, err = s.driver.ListDocuments(ctx, s.instance)
	if err != nil {
		return err
	}
	if len(docs) == 1 {
		s.handle = docs[0].Handle
		return nil
	}
	return fmt.Errorf("managed document lost while closing others")
}

func (s *Session) ensureSheet(ctx context.Context) error {
	sheets, err := s.driver.ListSheets(ctx, s.handle)
	if err != nil {
		return err
	}
	if len(sheets) == 0 {
		return s.driver.AddSheet(ctx, s.handle, "Sheet1")
	}
	return nil
}

// IsAlive reports whether the instance and the managed document handle are
// both still usable. Any driver failure during the probe counts as dead.
func (s *Session) IsAlive(ctx context.Context) bool {
	if s.handle == "" {
		return false
	}
	if !s.driver.IsHandleValid(ctx, s.handle) {
		return false
	}
	docs, err := s.driver.ListDocuments(ctx, s.instance)
	if err != nil {
		return false
	}
	for _, doc := range docs {
		if doc.Handle == s.handle {
			return true
		}
	}
	return false
}

// Validate returns a handle known to be alive at the time of the call,
// attempting a single reconnect if the liveness probe fails. It never
// proceeds with a stale handle.
func (s *Session) Validate(ctx context.Context) (DocumentHandle, error) {
	if s.state == StateDisconnected {
		return "", ErrConnection
	}
	if s.IsAlive(ctx) {
		if s.state == StateDegraded {
			s.state = StateLive
		}
		return s.handle, nil
	}
	s.state = StateDegraded
	s.logger.Warn("session.liveness_failed", "display_name", s.identity.DisplayName)
	if s.Reconnect(ctx) {
		return s.handle, nil
	}
	return "", ErrConnection
}

// Reconnect searches every running instance for the managed document,
// preferring an exact path match over a display-name match. A display-name
// rebind is logged as a warning because it may pick up the wrong document.
func (s *Session) Reconnect(ctx context.Context) bool {
	instances, err := s.driver.ListInstances(ctx)
	if err != nil {
		s.state = StateDisconnected
		return false
	}

	var nameMatch *DocumentRef
	var nameInstance InstanceID
	for _, instance := range instances {
		docs, err := s.driver.ListDocuments(ctx, instance)
		if err != nil {
			continue
		}
		for i, doc := range docs {
			if s.identity.Path != "" && doc.Identity.Path == s.identity.Path {
				s.rebind(ctx, instance, doc)
				s.logger.Info("session.reconnected", "by", "path", "path", doc.Identity.Path)
				return true
			}
			if nameMatch == nil && s.identity.DisplayName != "" && doc.Identity.DisplayName == s.identity.DisplayName {
				nameMatch = &docs[i]
				nameInstance = instance
			}
		}
	}
	if nameMatch != nil {
		s.rebind(ctx, nameInstance, *nameMatch)
		s.logger.Warn("session.reconnected_by_display_name",
			"display_name", nameMatch.Identity.DisplayName,
			"path", nameMatch.Identity.Path)
		return true
	}
	s.state = StateDisconnected
	s.logger.Warn("session.reconnect_failed", "display_name", s.identity.DisplayName)
	return false
}

func (s *Session) rebind(ctx context.Context, instance InstanceID, doc DocumentRef) {
	s.instance = instance
	s.handle = doc.Handle
	s.identity = doc.Identity
	s.state = StateLive
	if err := s.driver.ActivateDocument(ctx, doc.Handle); err != nil {
		s.logger.Warn("session.activate_failed", "error", err.Error())
	}
}

// RebindTo points the session at a different open document, keeping the
// current instance. Used after a snapshot restore reopens the side-store
// copy of the document.
func (s *Session) RebindTo(ctx context.Context, handle DocumentHandle) error {
	identity, err := s.driver.DocumentIdentity(ctx, handle)
	if err != nil {
		return err
	}
	s.handle = handle
	s.identity = identity
	s.state = StateLive
	if err := s.driver.ActivateDocument(ctx, handle); err != nil {
		s.logger.Warn("session.activate_failed", "error", err.Error())
	}
	return nil
}

// Close releases the managed document and, when this session launched its
// own instance, tears the instance down unless other documents remain open.
func (s *Session) Close(ctx context.Context) {
	if s.handle != "" && s.driver.IsHandleValid(ctx, s.handle) {
		if err := s.driver.CloseDocument(ctx, s.handle, false); err != nil {
			s.logger.Debug("session.close_document_failed", "error", err.Error())
		}
	}
	if s.instance != "" && !s.attachedExisting {
		docs, err := s.driver.ListDocuments(ctx, s.instance)
		if (err == nil && len(docs) == 0) || s.killOthers {
			if err := s.driver.TerminateInstance(ctx, s.instance); err != nil {
				s.logger.Debug("session.terminate_failed", "error", err.Error())
			}
		}
	}
	s.clear()
	s.logger.Info("session.closed")
}

// Degrade marks the session degraded without probing the driver. Used when
// a multi-step recovery sequence fails partway through.
func (s *Session) Degrade() {
	if s.state != StateDisconnected {
		s.state = StateDegraded
	}
}

func (s *Session) clear() {
	s.state = StateDisconnected
	s.instance = ""
	s.handle = ""
	s.identity = Identity{}
	s.attachedExisting = false
	s.killOthers = false
}

// Driver exposes the underlying driver for components that need direct
// document access after a Validate call.
func (s *Session) Driver() Driver { return s.driver }

// Instance returns the bound instance, or "" when disconnected.
func (s *Session) Instance() InstanceID { return s.instance }

// Status returns the current session state for diagnostics.
func (s *Session) Status() map[string]any {
	return map[string]any{
		"state":             string(s.state),
		"path":              s.identity.Path,
		"display_name":      s.identity.DisplayName,
		"attached_existing": s.attachedExisting,
	}
}
