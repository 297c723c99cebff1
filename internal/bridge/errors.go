package bridge

import "errors"

// ErrConnection reports that the automation bridge is unreachable after the
// single reconnect attempt allowed per call. Callers recover only through an
// explicit Connect or Reconnect.
var ErrConnection = errors.New("automation bridge connection lost")

// ErrNoDocument reports that an instance has no document matching a request.
var ErrNoDocument = errors.New("document not found")

type DriverError struct {
	Op      string
	Message string
}

func (e *DriverError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}
