// Package shape captures and renders a compact structural view of the
// managed workbook: sheet extents, first-row headers, and named ranges. The
// rendered form is injected into the orchestrator's prompt, so it trades
// completeness for a small, stable footprint.
package shape

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"livesheet/engine/internal/bridge"
	"livesheet/engine/internal/logging"
)

// ErrScan reports that a capture failed as a whole, usually because the
// connection was lost. The caller keeps serving the previous Shape.
var ErrScan = errors.New("workbook scan failed")

// Shape is one versioned snapshot of workbook structure. Version is assigned
// by the caller, not by Capture.
type Shape struct {
	Order   []string            `json:"-"`
	Sheets  map[string]string   `json:"sheets"`
	Headers map[string][]string `json:"headers"`
	Names   map[string]string   `json:"names"`
	Version int                 `json:"version"`
}

type Scanner struct {
	session            *bridge.Session
	logger             *slog.Logger
	maxHeadersPerSheet int
}

func NewScanner(session *bridge.Session, logger *slog.Logger, maxHeadersPerSheet int) *Scanner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scanner{session: session, logger: logger, maxHeadersPerSheet: maxHeadersPerSheet}
}

// Capture scans the live workbook. Per-sheet failures are skipped with a
// warning; only a failure to enumerate sheets at all aborts the capture.
func (s *Scanner) Capture(ctx context.Context) (*Shape, error) {
	handle, err := s.session.Validate(ctx)
	if err != nil {
		return nil, errors.Join(ErrScan, err)
	}
	driver := s.session.Driver()

	sheets, err := driver.ListSheets(ctx, handle)
	if err != nil {
		s.logger.Warn("shape.scan_failed", "error", err.Error())
		return nil, errors.Join(ErrScan, err)
	}

	shape := &Shape{
		Sheets:  map[string]string{},
		Headers: map[string][]string{},
		Names:   map[string]string{},
	}
	for _, sheet := range sheets {
		extent, err := driver.SheetExtent(ctx, handle, sheet)
		if err != nil {
			s.logger.Warn("shape.sheet_skipped", "sheet", sheet, "error", err.Error())
			continue
		}
		row, err := driver.ReadFirstRow(ctx, handle, sheet, s.maxHeadersPerSheet)
		if err != nil {
			s.logger.Warn("shape.sheet_skipped", "sheet", sheet, "error", err.Error())
			continue
		}
		shape.Order = append(shape.Order, sheet)
		shape.Sheets[sheet] = extent
		shape.Headers[sheet] = trimTrailingEmpty(row)
	}

	names, err := driver.ListNamedRanges(ctx, handle)
	if err != nil {
		s.logger.Warn("shape.names_skipped", "error", err.Error())
	} else {
		for name, ref := range names {
			if !looksLikeAddress(ref) {
				// Unresolved references are common; keep the raw text.
				s.logger.Debug("shape.name_unresolved", "name", name, "ref", ref)
			}
			shape.Names[name] = ref
		}
	}

	s.logger.Debug("shape.captured", "sheets", len(shape.Order), "names", len(shape.Names))
	return shape, nil
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && row[end-1] == "" {
		end--
	}
	return append([]string(nil), row[:end]...)
}

func looksLikeAddress(ref string) bool {
	return strings.Contains(ref, "!") || strings.Contains(ref, ":")
}
