// Package toolresult collapses the heterogeneous return values of bridge
// operations into a single envelope. Downstream components (ledger, breaker,
// refresh scheduler) consume only this envelope and never inspect raw results.
package toolresult

// ToolResult is the canonical outcome envelope for a single operation.
type ToolResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const genericFailure = "operation reported failure without an error message"

// Normalize converts an arbitrary raw operation result into a ToolResult.
// Rules are applied in order; the first match wins.
func Normalize(raw any) ToolResult {
	switch v := raw.(type) {
	case nil:
		return ToolResult{Success: true}
	case bool:
		if v {
			return ToolResult{Success: true, Data: true}
		}
		return ToolResult{Success: false, Error: genericFailure}
	case map[string]any:
		return normalizeMap(v)
	case ToolResult:
		return v
	case *ToolResult:
		if v == nil {
			return ToolResult{Success: true}
		}
		return *v
	default:
		return ToolResult{Success: true, Data: raw}
	}
}

func normalizeMap(m map[string]any) ToolResult {
	if successVal, ok := m["success"]; ok {
		success := truthy(successVal)
		errMsg := stringField(m, "error")
		if !success && errMsg == "" {
			errMsg = genericFailure
		}
		if success {
			errMsg = ""
		}
		data, hasData := m["data"]
		if !hasData {
			rest := restOf(m, "success", "error")
			if len(rest) > 0 {
				data = rest
			}
		}
		return ToolResult{Success: success, Error: errMsg, Data: data}
	}
	if errVal, ok := m["error"]; ok && truthy(errVal) {
		return ToolResult{
			Success: false,
			Error:   stringField(m, "error"),
			Data:    restOf(m, "error"),
		}
	}
	return ToolResult{Success: true, Data: m}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return genericFailure
}

func restOf(m map[string]any, exclude ...string) map[string]any {
	rest := make(map[string]any)
	for k, v := range m {
		skip := false
		for _, ex := range exclude {
			if k == ex {
				skip = true
				break
			}
		}
		if !skip {
			rest[k] = v
		}
	}
	if len(rest) == 0 {
		return nil
	}
	return rest
}
