package errinfo

// ErrorInfo is the structured error payload crossing the RPC boundary.
type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	Operation string   `json:"operation,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

const (
	CodeConnectionError     = "CONNECTION_ERROR"
	CodeSessionNotConnected = "SESSION_NOT_CONNECTED"
	CodeScanFailed          = "SCAN_FAILED"
	// NOT_FOUND marks a missing sheet, table, or range. Those failures are
	// per-operation and travel as normalized result data, not as ErrorInfo,
	// so no constructor builds it here.
	CodeNotFound             = "NOT_FOUND"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeNoSnapshot           = "NO_SNAPSHOT"
	CodeSnapshotFailed       = "SNAPSHOT_FAILED"
	CodeRevertFailed         = "REVERT_FAILED"
	CodeRepeatedFailureAbort = "REPEATED_FAILURE_ABORT"
)

const (
	ActionRetry     = "retry"
	ActionReconnect = "reconnect"
	ActionRevert    = "revert_snapshot"
)

const (
	PhaseSession   = "session"
	PhaseScan      = "scan"
	PhaseSnapshot  = "snapshot"
	PhaseOperation = "operation"
)

func ConnectionError(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeConnectionError,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionReconnect},
		Detail:    detail,
	}
}

func SessionNotConnected(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeSessionNotConnected,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionReconnect},
	}
}

func ScanFailed(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeScanFailed,
		Phase:     PhaseScan,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func NoSnapshot() *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeNoSnapshot,
		Phase:     PhaseSnapshot,
		Retryable: false,
	}
}

func SnapshotFailed(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeSnapshotFailed,
		Phase:     PhaseSnapshot,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func RevertFailed(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeRevertFailed,
		Phase:     PhaseSnapshot,
		Retryable: false,
		Detail:    detail,
	}
}

// RepeatedFailureAbort terminates the orchestration run; it is the only
// error in this taxonomy that must not be retried in place.
func RepeatedFailureAbort(operation, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeRepeatedFailureAbort,
		Phase:     PhaseOperation,
		Retryable: false,
		Operation: operation,
		Detail:    detail,
	}
}
