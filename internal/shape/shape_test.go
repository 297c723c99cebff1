package shape

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"livesheet/engine/internal/bridge"
)

func TestCompactHeadersCollapsesLongRuns(t *testing.T) {
	got := CompactHeaders([]string{"Name", "", "", "", "Date"})
	want := []string{"Name", "...", "Date"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCompactHeadersKeepsShortRuns(t *testing.T) {
	got := CompactHeaders([]string{"A", "", "B"})
	want := []string{"A", "", "B"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCompactHeadersAllEmpty(t *testing.T) {
	if got := CompactHeaders([]string{"", "", "", ""}); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
	if got := CompactHeaders(nil); len(got) != 0 {
		t.Fatalf("expected empty list for nil input, got %v", got)
	}
}

func TestCompactHeadersDropsTrailingMarker(t *testing.T) {
	got := CompactHeaders([]string{"A", "", "", ""})
	want := []string{"A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCompactHeadersIdempotent(t *testing.T) {
	inputs := [][]string{
		{"Name", "", "", "", "Date"},
		{"A", "", "B"},
		{"", "", "", "Total"},
		{"", "", "", ""},
		{"A", "B", "C"},
	}
	for _, input := range inputs {
		once := CompactHeaders(input)
		twice := CompactHeaders(once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("compaction of %v not idempotent: %v then %v", input, once, twice)
		}
	}
}

func TestTruncateHeadersFloorCeilSplit(t *testing.T) {
	headers := make([]string, 7)
	for i := range headers {
		headers[i] = string(rune('a' + i))
	}
	got := truncateHeaders(headers, 5)
	want := []string{"a", "b", "...", "e", "f", "g"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if again := truncateHeaders(got, 5); !reflect.DeepEqual(again, got) {
		t.Fatalf("truncation changed on second pass: %v", again)
	}
}

func TestTruncateHeadersStableAcrossPasses(t *testing.T) {
	headers := make([]string, 60)
	for i := range headers {
		headers[i] = "h"
	}
	once := truncateHeaders(headers, 50)
	twice := truncateHeaders(once, 50)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("expected truncation to be stable, got %d then %d entries", len(once), len(twice))
	}
}

func TestRenderNilShape(t *testing.T) {
	if got := Render(nil, 30, 50); got != "<workbook_shape v=1></workbook_shape>" {
		t.Fatalf("unexpected render of nil shape: %q", got)
	}
}

func TestRenderFormat(t *testing.T) {
	s := &Shape{
		Order:   []string{"Summary", "Data"},
		Sheets:  map[string]string{"Summary": "A1:C3", "Data": "A1:B100"},
		Headers: map[string][]string{"Summary": {"Region", "Total"}, "Data": {}},
		Names:   map[string]string{"grand_total": "Summary!C3"},
		Version: 4,
	}
	got := Render(s, 30, 50)
	want := "<workbook_shape v=4>\n" +
		"Summary:A1:C3; Data:A1:B100\n" +
		"Summary:Region,Total\n" +
		"name:grand_total=Summary!C3\n" +
		"</workbook_shape>"
	if got != want {
		t.Fatalf("unexpected render:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderLimitsSheets(t *testing.T) {
	s := &Shape{
		Order:   []string{"One", "Two", "Three"},
		Sheets:  map[string]string{"One": "A1:A1", "Two": "A1:A1", "Three": "A1:A1"},
		Headers: map[string][]string{},
		Names:   map[string]string{},
		Version: 1,
	}
	got := Render(s, 2, 50)
	if strings.Contains(got, "Three") {
		t.Fatalf("expected sheet beyond the limit to be dropped:\n%s", got)
	}
	if !strings.Contains(got, "One") || !strings.Contains(got, "Two") {
		t.Fatalf("expected first sheets in enumeration order:\n%s", got)
	}
}

func TestDiffNoOldShapeReturnsFullRender(t *testing.T) {
	s := &Shape{
		Order:   []string{"Q1"},
		Sheets:  map[string]string{"Q1": "A1:A1"},
		Headers: map[string][]string{},
		Names:   map[string]string{},
		Version: 1,
	}
	delta := Diff(nil, s, 30, 50)
	if !delta.Full {
		t.Fatalf("expected a full rendering")
	}
	if !strings.HasPrefix(delta.Rendered, "<workbook_shape v=1>") {
		t.Fatalf("unexpected rendering: %s", delta.Rendered)
	}
}

func TestDiffVersionOnlyChangeReturnsFullRender(t *testing.T) {
	old := &Shape{
		Order:   []string{"Q1"},
		Sheets:  map[string]string{"Q1": "A1:B2"},
		Headers: map[string][]string{"Q1": {"Name"}},
		Names:   map[string]string{},
		Version: 3,
	}
	next := &Shape{
		Order:   []string{"Q1"},
		Sheets:  map[string]string{"Q1": "A1:B2"},
		Headers: map[string][]string{"Q1": {"Name"}},
		Names:   map[string]string{},
		Version: 4,
	}
	delta := Diff(old, next, 30, 50)
	if !delta.Full {
		t.Fatalf("expected a full rendering when only the version changed")
	}
	if delta.Rendered == "" || strings.Contains(delta.Rendered, "workbook_shape_delta") {
		t.Fatalf("expected full shape block, got: %s", delta.Rendered)
	}
	if delta.FromVersion != 3 || delta.ToVersion != 4 {
		t.Fatalf("unexpected versions: %+v", delta)
	}
}

func TestDiffStructuralChange(t *testing.T) {
	old := &Shape{
		Order:   []string{"Q1"},
		Sheets:  map[string]string{"Q1": "A1:B2"},
		Headers: map[string][]string{"Q1": {"Name"}},
		Names:   map[string]string{},
		Version: 1,
	}
	next := &Shape{
		Order:   []string{"Q1", "Q2"},
		Sheets:  map[string]string{"Q1": "A1:B2", "Q2": "A1:A1"},
		Headers: map[string][]string{"Q1": {"Name"}},
		Names:   map[string]string{},
		Version: 2,
	}
	delta := Diff(old, next, 30, 50)
	if delta.Full {
		t.Fatalf("expected a delta, got a full rendering")
	}
	if !strings.HasPrefix(delta.Rendered, "<workbook_shape_delta v=2 from_v=1>") {
		t.Fatalf("unexpected delta header: %s", delta.Rendered)
	}
	if !strings.Contains(delta.Rendered, "+sheet Q2:A1:A1") {
		t.Fatalf("expected added sheet line in delta:\n%s", delta.Rendered)
	}
}

func TestCaptureReadsWorkbook(t *testing.T) {
	fake := bridge.NewFake()
	inst := fake.StartInstance()
	doc := &bridge.FakeDocument{
		Path:        "/work/report.xlsx",
		DisplayName: "report.xlsx",
		Sheets:      []string{"Data", "Notes"},
		FirstRows: map[string][]string{
			"Data":  {"Name", "Date", "", ""},
			"Notes": {},
		},
		Extents: map[string]string{"Data": "A1:B10", "Notes": "A1:A1"},
		Names:   map[string]string{"total": "Data!B10"},
	}
	fake.OpenDocument(inst, doc)

	session := bridge.NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/report.xlsx", bridge.ConnectOptions{AttachExisting: true}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	scanner := NewScanner(session, nil, 50)
	got, err := scanner.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !reflect.DeepEqual(got.Order, []string{"Data", "Notes"}) {
		t.Fatalf("unexpected sheet order: %v", got.Order)
	}
	if !reflect.DeepEqual(got.Headers["Data"], []string{"Name", "Date"}) {
		t.Fatalf("expected trailing empties trimmed, got %v", got.Headers["Data"])
	}
	if got.Names["total"] != "Data!B10" {
		t.Fatalf("unexpected names: %v", got.Names)
	}
}

func TestCaptureSkipsFailingSheet(t *testing.T) {
	fake := bridge.NewFake()
	inst := fake.StartInstance()
	doc := &bridge.FakeDocument{
		Path:        "/work/report.xlsx",
		DisplayName: "report.xlsx",
		Sheets:      []string{"Good", "Broken"},
		FirstRows:   map[string][]string{"Good": {"A"}},
		Extents:     map[string]string{"Good": "A1:A5"},
		Names:       map[string]string{},
	}
	fake.OpenDocument(inst, doc)

	session := bridge.NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/report.xlsx", bridge.ConnectOptions{AttachExisting: true}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	scanner := NewScanner(session, nil, 50)
	got, err := scanner.Capture(context.Background())
	if err != nil {
		t.Fatalf("expected capture to skip the broken sheet, got %v", err)
	}
	if len(got.Order) != 1 || got.Order[0] != "Good" {
		t.Fatalf("expected only the good sheet, got %v", got.Order)
	}
}

func TestCaptureTotalFailure(t *testing.T) {
	fake := bridge.NewFake()
	session := bridge.NewSession(fake, nil)
	if err := session.Connect(context.Background(), "", bridge.ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fake.SetFail("ListSheets", errors.New("host gone"))
	scanner := NewScanner(session, nil, 50)
	if _, err := scanner.Capture(context.Background()); !errors.Is(err, ErrScan) {
		t.Fatalf("expected ErrScan, got %v", err)
	}
}
