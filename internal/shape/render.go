package shape

import (
	"fmt"
	"sort"
	"strings"
)

// CompactHeaders collapses runs of three or more consecutive empty header
// cells into a single "..." marker. Shorter runs are kept as individual
// empty entries. An all-empty list compacts to an empty list, and a
// trailing marker is dropped because it carries no information.
func CompactHeaders(headers []string) []string {
	allEmpty := true
	for _, h := range headers {
		if h != "" {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return []string{}
	}

	result := make([]string, 0, len(headers))
	for i := 0; i < len(headers); {
		if headers[i] != "" {
			result = append(result, headers[i])
			i++
			continue
		}
		run := 0
		for i+run < len(headers) && headers[i+run] == "" {
			run++
		}
		if run >= 3 {
			result = append(result, "...")
		} else {
			for k := 0; k < run; k++ {
				result = append(result, "")
			}
		}
		i += run
	}
	if len(result) > 0 && result[len(result)-1] == "..." {
		result = result[:len(result)-1]
	}
	return result
}

// truncateHeaders keeps the first and last halves of an overlong header
// list joined by one "..." marker.
func truncateHeaders(headers []string, max int) []string {
	if max <= 0 || len(headers) <= max {
		return headers
	}
	front := max / 2
	back := max - front
	out := make([]string, 0, max+1)
	out = append(out, headers[:front]...)
	out = append(out, "...")
	out = append(out, headers[len(headers)-back:]...)
	return out
}

// Render formats a Shape as the tagged block injected into the prompt.
// A nil shape renders as an empty version-1 block so downstream version
// arithmetic never sees zero.
func Render(s *Shape, maxSheets, maxHeadersPerSheet int) string {
	if s == nil {
		return "<workbook_shape v=1></workbook_shape>"
	}
	body := renderBody(s, maxSheets, maxHeadersPerSheet)
	return fmt.Sprintf("<workbook_shape v=%d>\n%s\n</workbook_shape>", s.Version, body)
}

func renderBody(s *Shape, maxSheets, maxHeadersPerSheet int) string {
	order := s.Order
	if maxSheets > 0 && len(order) > maxSheets {
		order = order[:maxSheets]
	}

	sheetParts := make([]string, 0, len(order))
	headerParts := make([]string, 0, len(order))
	for _, sheet := range order {
		sheetParts = append(sheetParts, sheet+":"+s.Sheets[sheet])
		compacted := truncateHeaders(CompactHeaders(s.Headers[sheet]), maxHeadersPerSheet)
		if len(compacted) > 0 {
			headerParts = append(headerParts, sheet+":"+strings.Join(compacted, ","))
		}
	}

	names := make([]string, 0, len(s.Names))
	for name := range s.Names {
		names = append(names, name)
	}
	sort.Strings(names)
	nameParts := make([]string, 0, len(names))
	for _, name := range names {
		nameParts = append(nameParts, "name:"+name+"="+s.Names[name])
	}

	var sections []string
	if len(sheetParts) > 0 {
		sections = append(sections, strings.Join(sheetParts, "; "))
	}
	if len(headerParts) > 0 {
		sections = append(sections, strings.Join(headerParts, "; "))
	}
	if len(nameParts) > 0 {
		sections = append(sections, strings.Join(nameParts, "; "))
	}
	return strings.Join(sections, "\n")
}

// canonicalLines renders a Shape one entry per line, version excluded, for
// structural diffing. Entries are sorted so map order never shows up as a
// spurious change.
func canonicalLines(s *Shape) string {
	var b strings.Builder
	sheets := make([]string, 0, len(s.Sheets))
	for sheet := range s.Sheets {
		sheets = append(sheets, sheet)
	}
	sort.Strings(sheets)
	for _, sheet := range sheets {
		fmt.Fprintf(&b, "sheet %s:%s\n", sheet, s.Sheets[sheet])
	}
	for _, sheet := range sheets {
		headers := CompactHeaders(s.Headers[sheet])
		if len(headers) > 0 {
			fmt.Fprintf(&b, "headers %s:%s\n", sheet, strings.Join(headers, ","))
		}
	}
	names := make([]string, 0, len(s.Names))
	for name := range s.Names {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "name %s=%s\n", name, s.Names[name])
	}
	return b.String()
}
