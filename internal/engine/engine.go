// Package engine wires the session, shape, ledger, and snapshot components
// together and exposes them as RPC methods for the orchestrator process.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"livesheet/engine/internal/appdirs"
	"livesheet/engine/internal/bridge"
	"livesheet/engine/internal/envutil"
	"livesheet/engine/internal/errinfo"
	"livesheet/engine/internal/ledger"
	"livesheet/engine/internal/logging"
	"livesheet/engine/internal/settings"
	"livesheet/engine/internal/shape"
	"livesheet/engine/internal/snapshot"
	"livesheet/engine/internal/tracker"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

const summaryMaxLines = 25

type Notifier func(method string, params any)

type Engine struct {
	dataDir     string
	settings    *settings.Store
	cfg         *settings.Settings
	driver      bridge.Driver
	driverClose func() error
	session     *bridge.Session
	journal     *ledger.Ledger
	tracker     *tracker.Tracker
	snapshots   *snapshot.Manager
	notify      Notifier
	logger      *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithDriver(driver bridge.Driver) Option {
	return func(e *Engine) {
		if driver != nil {
			e.driver = driver
		}
	}
}

func New(opts ...Option) (*Engine, error) {
	engine := &Engine{logger: logging.Nop()}
	for _, opt := range opts {
		opt(engine)
	}
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	store := settings.NewStore(appdirs.SettingsPath(dataDir))
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	if engine.driver == nil {
		if envutil.Bool("LIVESHEET_FAKE_DRIVER") {
			engine.driver = bridge.NewFake()
		} else {
			remote := bridge.NewRemote(engine.logger.With("component", "bridge"))
			if err := remote.Start(); err != nil {
				return nil, fmt.Errorf("automation driver failed to start: %w (set LIVESHEET_DRIVER_PATH)", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := remote.HealthCheck(ctx); err != nil {
				_ = remote.Close()
				return nil, fmt.Errorf("automation driver health check failed: %w", err)
			}
			engine.driver = remote
			engine.driverClose = remote.Close
		}
	}

	session := bridge.NewSession(engine.driver, engine.logger.With("component", "session"))
	journal := ledger.New(cfg.Sync.MaxActions, cfg.Sync.MaxConsecutiveErrors)
	scanner := shape.NewScanner(session, engine.logger.With("component", "shape"), cfg.Sync.MaxHeadersPerSheet)
	track := tracker.New(scanner, journal, engine.logger.With("component", "tracker"), tracker.Config{
		ScanEveryNWrites:   cfg.Sync.ScanEveryNWrites,
		MaxSheetsInRender:  cfg.Sync.MaxSheetsInRender,
		MaxHeadersPerSheet: cfg.Sync.MaxHeadersPerSheet,
	})
	for name, spelled := range cfg.Sync.OperationClasses {
		class, ok := tracker.ClassFromString(spelled)
		if !ok {
			engine.logger.Warn("engine.unknown_operation_class", "operation", name, "class", spelled)
			continue
		}
		track.RegisterClass(name, class)
	}

	engine.dataDir = dataDir
	engine.settings = store
	engine.cfg = cfg
	engine.session = session
	engine.journal = journal
	engine.tracker = track
	engine.snapshots = snapshot.NewManager(session, engine.logger.With("component", "snapshot"), appdirs.SnapshotsDir(dataDir))
	engine.logger.Debug("engine.init",
		"data_dir", dataDir,
		"scan_every_n_writes", cfg.Sync.ScanEveryNWrites,
		"fake_driver", envutil.Bool("LIVESHEET_FAKE_DRIVER"))
	return engine, nil
}

func (e *Engine) SetNotifier(notify Notifier) {
	e.notify = notify
}

// notifyShapeChanged pushes a version-change event to the client so it can
// refresh any cached view without polling SessionStatus.
func (e *Engine) notifyShapeChanged(delta *shape.Delta) {
	if e.notify == nil || delta == nil {
		return
	}
	e.notify("ShapeChanged", map[string]any{
		"version":      delta.ToVersion,
		"from_version": delta.FromVersion,
		"full":         delta.Full,
	})
}

func (e *Engine) Close() {
	if e.driverClose != nil {
		_ = e.driverClose()
	}
}

func (e *Engine) EngineGetInfo(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"engine_version": EngineVersion,
		"api_version":    APIVersion,
	}, nil
}

type sessionConnectParams struct {
	Target         string `json:"target"`
	AttachExisting bool   `json:"attach_existing"`
	KillOthers     bool   `json:"kill_others"`
	SingleDocument bool   `json:"single_document"`
}

func (e *Engine) SessionConnect(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p sessionConnectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, err.Error())
	}
	err := e.session.Connect(ctx, p.Target, bridge.ConnectOptions{
		AttachExisting: p.AttachExisting,
		KillOthers:     p.KillOthers,
		SingleDocument: p.SingleDocument,
	})
	if err != nil {
		return nil, errinfo.ConnectionError(errinfo.PhaseSession, err.Error())
	}
	return e.sessionStatus(), nil
}

func (e *Engine) SessionStatus(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return e.sessionStatus(), nil
}

func (e *Engine) SessionReconnect(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	if e.session.State() == bridge.StateDisconnected && e.session.Identity() == (bridge.Identity{}) {
		return nil, errinfo.SessionNotConnected(errinfo.PhaseSession)
	}
	if !e.session.Reconnect(ctx) {
		return nil, errinfo.ConnectionError(errinfo.PhaseSession, "no matching document found in any running instance")
	}
	return e.sessionStatus(), nil
}

func (e *Engine) SessionClose(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	e.session.Close(ctx)
	return map[string]any{"closed": true}, nil
}

func (e *Engine) sessionStatus() map[string]any {
	status := e.session.Status()
	status["pending_writes"] = e.tracker.PendingWrites()
	status["snapshot_available"] = e.snapshots.Has()
	if current := e.tracker.CurrentShape(); current != nil {
		status["shape_version"] = current.Version
	} else {
		status["shape_version"] = 0
	}
	return status
}

type operationCompleteParams struct {
	Operation string `json:"operation"`
	Arguments any    `json:"arguments,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// OperationComplete is invoked by the orchestrator synchronously after every
// bridge operation it issues, successful or not. The returned shape delta,
// when present, must be injected into its next reasoning context.
func (e *Engine) OperationComplete(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p operationCompleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseOperation, err.Error())
	}
	if p.Operation == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseOperation, "operation name is required")
	}
	out := e.tracker.OperationComplete(ctx, p.Operation, p.Arguments, p.Result)
	if out.Trip != nil {
		if e.notify != nil {
			e.notify("BreakerTripped", map[string]any{
				"operation": out.Trip.Operation,
				"error":     out.Trip.Error,
				"count":     out.Trip.Count,
			})
		}
		return nil, errinfo.RepeatedFailureAbort(out.Trip.Operation, out.Trip.Error)
	}
	resp := map[string]any{
		"result": out.Result,
	}
	if out.Delta != nil {
		resp["shape_delta"] = out.Delta
		e.notifyShapeChanged(out.Delta)
	}
	return resp, nil
}

type shapeGetParams struct {
	Refresh bool `json:"refresh"`
}

func (e *Engine) ShapeGet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p shapeGetParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseScan, err.Error())
		}
	}
	if p.Refresh {
		delta, err := e.tracker.ForceCapture(ctx)
		if err != nil {
			return nil, errinfo.ScanFailed(err.Error())
		}
		e.notifyShapeChanged(delta)
		return map[string]any{
			"version":     delta.ToVersion,
			"rendered":    e.renderCurrent(),
			"shape_delta": delta,
		}, nil
	}
	version := 0
	if current := e.tracker.CurrentShape(); current != nil {
		version = current.Version
	}
	return map[string]any{
		"version":  version,
		"rendered": e.renderCurrent(),
	}, nil
}

func (e *Engine) renderCurrent() string {
	return shape.Render(e.tracker.CurrentShape(), e.cfg.Sync.MaxSheetsInRender, e.cfg.Sync.MaxHeadersPerSheet)
}

func (e *Engine) SnapshotTake(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	path, err := e.snapshots.Take(ctx)
	if err != nil {
		if errors.Is(err, bridge.ErrConnection) {
			return nil, errinfo.ConnectionError(errinfo.PhaseSnapshot, err.Error())
		}
		return nil, errinfo.SnapshotFailed(err.Error())
	}
	return map[string]any{"path": path}, nil
}

// SnapshotRevert restores the retained snapshot and forces a fresh shape
// capture so the orchestrator's view matches the restored document. A
// failed post-revert scan is logged but does not fail the revert.
func (e *Engine) SnapshotRevert(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	if err := e.snapshots.Revert(ctx); err != nil {
		switch {
		case errors.Is(err, snapshot.ErrNoSnapshot):
			return nil, errinfo.NoSnapshot()
		case errors.Is(err, bridge.ErrConnection):
			return nil, errinfo.ConnectionError(errinfo.PhaseSnapshot, err.Error())
		default:
			return nil, errinfo.RevertFailed(err.Error())
		}
	}
	resp := map[string]any{"reverted": true}
	delta, err := e.tracker.ForceCapture(ctx)
	if err != nil {
		e.logger.Warn("engine.post_revert_scan_failed", "error", err.Error())
	} else {
		resp["shape_delta"] = delta
		e.notifyShapeChanged(delta)
	}
	return resp, nil
}

type ledgerListParams struct {
	MaxLines int `json:"max_lines"`
}

func (e *Engine) LedgerList(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p ledgerListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseOperation, err.Error())
		}
	}
	maxLines := p.MaxLines
	if maxLines <= 0 {
		maxLines = summaryMaxLines
	}
	return map[string]any{
		"actions": redactedRecords(e.journal.Records()),
		"summary": e.journal.Summary(maxLines),
	}, nil
}

func redactedRecords(records []ledger.ActionRecord) []ledger.ActionRecord {
	out := make([]ledger.ActionRecord, len(records))
	for i, rec := range records {
		rec.Arguments = logging.RedactAny(rec.Arguments)
		out[i] = rec
	}
	return out
}
