package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"livesheet/engine/internal/errinfo"
	"livesheet/engine/internal/ledger"
	"livesheet/engine/internal/logging"
)

type stateDumpParams struct {
	Path string `json:"path,omitempty"`
}

// StateDump writes the current shape and action history to a JSON file for
// external inspection. It is a diagnostic side channel; nothing reads it
// back. Values that cannot be marshalled are stringified rather than
// failing the dump.
func (e *Engine) StateDump(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p stateDumpParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseOperation, err.Error())
		}
	}
	path := p.Path
	if path == "" {
		path = filepath.Join(e.dataDir, "state_dump.json")
	}

	doc := map[string]any{
		"shape":   e.dumpShape(),
		"actions": dumpActions(e.journal.Records()),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseOperation, err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseOperation, err.Error())
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseOperation, err.Error())
	}
	e.logger.Info("engine.state_dumped", "path", path, "bytes", len(data))
	return map[string]any{"path": path, "bytes": len(data)}, nil
}

func (e *Engine) dumpShape() any {
	current := e.tracker.CurrentShape()
	if current == nil {
		return nil
	}
	return map[string]any{
		"version":  current.Version,
		"sheets":   current.Sheets,
		"headers":  current.Headers,
		"names":    current.Names,
		"rendered": e.renderCurrent(),
	}
}

func dumpActions(records []ledger.ActionRecord) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"operation": rec.Operation,
			"arguments": safeValue(logging.RedactAny(rec.Arguments)),
			"result":    safeValue(rec.Result),
			"ok":        rec.OK,
			"timestamp": rec.Timestamp,
		})
	}
	return out
}

// safeValue falls back to the string form for values the JSON encoder
// rejects, mirroring how the dump must never fail on odd result payloads.
func safeValue(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
