package shape

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Delta is the rendered change between two Shape versions, ready to hand
// to the orchestrator as prompt context.
type Delta struct {
	FromVersion int    `json:"from_version,omitempty"`
	ToVersion   int    `json:"to_version"`
	Rendered    string `json:"rendered"`
	Full        bool   `json:"full"`
}

// Diff compares two shapes structurally, ignoring the version field. With
// no old shape, or when nothing but the version changed, it returns a full
// rendering; an empty delta is never useful context.
func Diff(old, next *Shape, maxSheets, maxHeadersPerSheet int) Delta {
	if old == nil {
		return Delta{ToVersion: next.Version, Rendered: Render(next, maxSheets, maxHeadersPerSheet), Full: true}
	}

	lines := diffLines(canonicalLines(old), canonicalLines(next))
	changed := false
	for _, line := range lines {
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			changed = true
			break
		}
	}
	if !changed {
		return Delta{FromVersion: old.Version, ToVersion: next.Version, Rendered: Render(next, maxSheets, maxHeadersPerSheet), Full: true}
	}

	rendered := fmt.Sprintf("<workbook_shape_delta v=%d from_v=%d>\n%s\n</workbook_shape_delta>",
		next.Version, old.Version, strings.Join(lines, "\n"))
	return Delta{FromVersion: old.Version, ToVersion: next.Version, Rendered: rendered}
}

func diffLines(before, after string) []string {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var out []string
	for _, diff := range diffs {
		chunk := strings.Split(diff.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, line := range chunk {
			switch diff.Type {
			case diffmatchpatch.DiffEqual:
				out = append(out, " "+line)
			case diffmatchpatch.DiffDelete:
				out = append(out, "-"+line)
			case diffmatchpatch.DiffInsert:
				out = append(out, "+"+line)
			}
		}
	}
	return out
}
