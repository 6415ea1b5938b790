package validators

import "sort"

// ReportFileName is the name of the batch report written next to a validated batch
const ReportFileName = "validation-report.json"

// Kind classifies a violation
type Kind string

// Violation kinds
const (
	KindRead          Kind = "read"
	KindFileName      Kind = "file_name"
	KindSize          Kind = "size"
	KindEncoding      Kind = "encoding"
	KindJSON          Kind = "json"
	KindStructure     Kind = "structure"
	KindSchema        Kind = "schema"
	KindDepth         Kind = "depth"
	KindArrayLength   Kind = "array_length"
	KindStringLength  Kind = "string_length"
	KindSuspicious    Kind = "suspicious_pattern"
	KindURLLength     Kind = "url_length"
	KindPathTraversal Kind = "path_traversal"
	KindDangerousURL  Kind = "dangerous_scheme"
	KindEmptyBatch    Kind = "empty_batch"
)

const (
	maxDetailLength = 100

	// rootLocation is the location of document-level violations
	rootLocation = "$"
)

// Violation is one problem found in a document
type Violation struct {
	Kind     Kind   `json:"kind"`
	Location string `json:"location"`
	Detail   string `json:"detail"`
}

// Report is the validation result of one document
type Report struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations"`
}

// BatchResult is the validation result of a staged directory. The batch passes
// only when it holds at least one file and every file passes.
type BatchResult struct {
	Dir    string            `json:"dir"`
	Passed bool              `json:"passed"`
	Error  string            `json:"error,omitempty"`
	Files  map[string]Report `json:"files"`
}

// FileNames returns the validated file names in order
func (b BatchResult) FileNames() []string {
	names := make([]string, 0, len(b.Files))
	for name := range b.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts returns the number of passed and failed files
func (b BatchResult) Counts() (passed, failed int) {
	for _, r := range b.Files {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// Violations returns every violation of the batch, ordered by file
func (b BatchResult) Violations() []FileViolation {
	var out []FileViolation
	for _, name := range b.FileNames() {
		for _, v := range b.Files[name].Violations {
			out = append(out, FileViolation{File: name, Violation: v})
		}
	}
	return out
}

// FileViolation is a violation tagged with its file
type FileViolation struct {
	File string `json:"file"`
	Violation
}

func newReport(violations []Violation) Report {
	if violations == nil {
		violations = []Violation{}
	}
	return Report{Passed: len(violations) == 0, Violations: violations}
}

func truncateDetail(s string) string {
	r := []rune(s)
	if len(r) <= maxDetailLength {
		return s
	}
	return string(r[:maxDetailLength]) + "..."
}
