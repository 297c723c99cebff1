package tracker

// OperationClass drives the refresh policy: structural writes re-scan the
// workbook immediately, regular writes are debounced, reads never scan.
type OperationClass int

const (
	ClassReadOnly OperationClass = iota
	ClassRegularWrite
	ClassStructuralWrite
)

func (c OperationClass) String() string {
	switch c {
	case ClassReadOnly:
		return "read_only"
	case ClassStructuralWrite:
		return "structural_write"
	default:
		return "regular_write"
	}
}

var structuralWrites = map[string]bool{
	"createSheet":    true,
	"deleteSheet":    true,
	"mergeRange":     true,
	"unmergeRange":   true,
	"setNamedRanges": true,
	"insertTable":    true,
}

var readOnlyOps = map[string]bool{
	"getSheetNames":  true,
	"getActiveSheet": true,
	"getCellValue":   true,
	"getRangeValues": true,
	"findRowByValue": true,
	"getDataFrame":   true,
	"getCellStyle":   true,
	"getRangeStyle":  true,
}

// ClassFromString parses the settings-file spelling of a class.
func ClassFromString(s string) (OperationClass, bool) {
	switch s {
	case "read_only":
		return ClassReadOnly, true
	case "regular_write":
		return ClassRegularWrite, true
	case "structural_write":
		return ClassStructuralWrite, true
	default:
		return ClassRegularWrite, false
	}
}

// Classify maps an operation name to its class. Unknown operations are
// treated as regular writes so a new mutating operation can never dodge
// the refresh policy.
func Classify(name string) OperationClass {
	if structuralWrites[name] {
		return ClassStructuralWrite
	}
	if readOnlyOps[name] {
		return ClassReadOnly
	}
	return ClassRegularWrite
}
