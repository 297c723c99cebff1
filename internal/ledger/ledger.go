// Package ledger keeps a bounded history of completed operations and
// watches for repeated identical failures. It is the input side of the
// circuit breaker: three consecutive failures of the same operation with
// the same error message abort the run.
package ledger

import (
	"time"

	"livesheet/engine/internal/toolresult"
)

type ActionRecord struct {
	Operation string                `json:"operation"`
	Arguments any                   `json:"arguments,omitempty"`
	Result    toolresult.ToolResult `json:"result"`
	OK        bool                  `json:"ok"`
	Timestamp time.Time             `json:"timestamp"`
}

// FailureKey identifies a failure mode: the same operation failing with a
// different message counts as a new streak.
type FailureKey struct {
	Operation string
	Error     string
}

// Trip is returned when the consecutive-failure threshold is exceeded.
type Trip struct {
	Operation string
	Error     string
	Count     int
}

type Ledger struct {
	maxActions  int
	threshold   int
	records     []ActionRecord
	lastKey     FailureKey
	consecutive int
	now         func() time.Time
}

func New(maxActions, failureThreshold int) *Ledger {
	return &Ledger{
		maxActions: maxActions,
		threshold:  failureThreshold,
		now:        time.Now,
	}
}

// Record appends an ActionRecord, evicting the oldest entry once the ledger
// is full, and updates the failure streak. A non-nil Trip means the breaker
// tripped on this record; the caller must abort the run.
func (l *Ledger) Record(operation string, arguments any, result toolresult.ToolResult) *Trip {
	l.records = append(l.records, ActionRecord{
		Operation: operation,
		Arguments: arguments,
		Result:    result,
		OK:        result.Success,
		Timestamp: l.now().UTC(),
	})
	if l.maxActions > 0 && len(l.records) > l.maxActions {
		l.records = l.records[len(l.records)-l.maxActions:]
	}

	if result.Success {
		// Any success anywhere clears the streak, even for a different
		// operation.
		l.lastKey = FailureKey{}
		l.consecutive = 0
		return nil
	}

	key := FailureKey{Operation: operation, Error: result.Error}
	if key == l.lastKey {
		l.consecutive++
	} else {
		l.lastKey = key
		l.consecutive = 1
	}
	if l.consecutive > l.threshold {
		return &Trip{Operation: key.Operation, Error: key.Error, Count: l.consecutive}
	}
	return nil
}

// Records returns a copy of the retained history, oldest first.
func (l *Ledger) Records() []ActionRecord {
	return append([]ActionRecord(nil), l.records...)
}

func (l *Ledger) Len() int { return len(l.records) }

// Summary renders the most recent operations as short progress lines,
// newest last, capped at maxLines.
func (l *Ledger) Summary(maxLines int) []string {
	start := 0
	if maxLines > 0 && len(l.records) > maxLines {
		start = len(l.records) - maxLines
	}
	lines := make([]string, 0, len(l.records)-start)
	for _, rec := range l.records[start:] {
		if rec.OK {
			lines = append(lines, rec.Operation+" → ok")
		} else {
			lines = append(lines, rec.Operation+" → error: "+rec.Result.Error)
		}
	}
	return lines
}
