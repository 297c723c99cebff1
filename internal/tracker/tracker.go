// Package tracker coordinates what happens after every operation the
// orchestrator issues: the raw result is normalized, recorded in the
// ledger, checked against the circuit breaker, and, depending on the
// operation class and the debounce counter, a fresh workbook Shape is
// captured and diffed against the previous version.
package tracker

import (
	"context"
	"log/slog"

	"livesheet/engine/internal/ledger"
	"livesheet/engine/internal/logging"
	"livesheet/engine/internal/shape"
	"livesheet/engine/internal/toolresult"
)

type Config struct {
	ScanEveryNWrites   int
	MaxSheetsInRender  int
	MaxHeadersPerSheet int
}

// Outcome is what OperationComplete hands back to the orchestrator layer.
// Delta is nil when no capture ran or the capture failed; Trip is non-nil
// when the circuit breaker aborts the run.
type Outcome struct {
	Result toolresult.ToolResult
	Delta  *shape.Delta
	Trip   *ledger.Trip
}

type Tracker struct {
	scanner   *shape.Scanner
	ledger    *ledger.Ledger
	logger    *slog.Logger
	cfg       Config
	overrides map[string]OperationClass

	pendingRegularWrites int
	current              *shape.Shape
}

func New(scanner *shape.Scanner, journal *ledger.Ledger, logger *slog.Logger, cfg Config) *Tracker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{scanner: scanner, ledger: journal, logger: logger, cfg: cfg}
}

func (t *Tracker) CurrentShape() *shape.Shape { return t.current }
func (t *Tracker) PendingWrites() int         { return t.pendingRegularWrites }

// RegisterClass overrides the built-in classification for one operation
// name. Later registrations for the same name win.
func (t *Tracker) RegisterClass(name string, class OperationClass) {
	if t.overrides == nil {
		t.overrides = make(map[string]OperationClass)
	}
	t.overrides[name] = class
}

func (t *Tracker) classify(name string) OperationClass {
	if class, ok := t.overrides[name]; ok {
		return class
	}
	return Classify(name)
}

// OperationComplete runs the full post-operation pipeline. It must be
// called synchronously after every bridge operation, failed or not.
func (t *Tracker) OperationComplete(ctx context.Context, operation string, arguments any, raw any) Outcome {
	result := toolresult.Normalize(raw)
	trip := t.ledger.Record(operation, arguments, result)
	if trip != nil {
		t.logger.Error("tracker.breaker_tripped",
			"operation", trip.Operation,
			"error", trip.Error,
			"count", trip.Count)
		return Outcome{Result: result, Trip: trip}
	}
	if !result.Success {
		// Failed operations never trigger a scan; the breaker handles
		// failure accumulation.
		t.logger.Debug("tracker.operation_failed", "operation", operation, "error", result.Error)
		return Outcome{Result: result}
	}

	switch t.classify(operation) {
	case ClassReadOnly:
		return Outcome{Result: result}
	case ClassStructuralWrite:
		delta := t.capture(ctx, operation)
		return Outcome{Result: result, Delta: delta}
	default:
		t.pendingRegularWrites++
		if t.pendingRegularWrites < t.cfg.ScanEveryNWrites {
			t.logger.Debug("tracker.scan_deferred",
				"operation", operation,
				"pending", t.pendingRegularWrites)
			return Outcome{Result: result}
		}
		delta := t.capture(ctx, operation)
		return Outcome{Result: result, Delta: delta}
	}
}

// ForceCapture re-scans unconditionally, as after a snapshot revert. The
// counter reset rules match a structural write.
func (t *Tracker) ForceCapture(ctx context.Context) (*shape.Delta, error) {
	delta := t.capture(ctx, "forced")
	if delta == nil {
		return nil, shape.ErrScan
	}
	return delta, nil
}

// capture scans the workbook, assigns the next version, and diffs against
// the previous shape. On scan failure the stale shape is kept and the
// pending counter is left alone so the next write retries sooner.
func (t *Tracker) capture(ctx context.Context, reason string) *shape.Delta {
	next, err := t.scanner.Capture(ctx)
	if err != nil {
		t.logger.Warn("tracker.scan_failed", "trigger", reason, "error", err.Error())
		return nil
	}
	if t.current != nil {
		next.Version = t.current.Version + 1
	} else {
		next.Version = 1
	}
	delta := shape.Diff(t.current, next, t.cfg.MaxSheetsInRender, t.cfg.MaxHeadersPerSheet)
	t.current = next
	t.pendingRegularWrites = 0
	t.logger.Debug("tracker.shape_updated", "version", next.Version, "trigger", reason)
	return &delta
}

// Summary returns bounded progress lines for prompt context.
func (t *Tracker) Summary(maxLines int) []string {
	return t.ledger.Summary(maxLines)
}
