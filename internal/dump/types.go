// Package dump parses vendor configuration-dump exports into section documents.
package dump

import "errors"

const (
	DefaultDelimiter       = ','
	DefaultSentinel        = "@"
	DefaultInlineSeparator = "##"
	DefaultEncoding        = "utf-8"
)

// ErrInvalidEncoding is returned when a file's bytes are not valid in the configured charset.
var ErrInvalidEncoding = errors.New("invalid character encoding")

// Options holds the syntax of one vendor's export format
type Options struct {
	Delimiter       rune   // cell delimiter (default: comma)
	Sentinel        string // prefix marking a section header cell
	InlineSeparator string // splits "<name><sep><param>" header cells
	Encoding        string // input charset, IANA name
}

// DefaultOptions returns the options matching the common export layout
func DefaultOptions() Options {
	return Options{
		Delimiter:       DefaultDelimiter,
		Sentinel:        DefaultSentinel,
		InlineSeparator: DefaultInlineSeparator,
		Encoding:        DefaultEncoding,
	}
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = DefaultDelimiter
	}
	if o.Sentinel == "" {
		o.Sentinel = DefaultSentinel
	}
	if o.InlineSeparator == "" {
		o.InlineSeparator = DefaultInlineSeparator
	}
	if o.Encoding == "" {
		o.Encoding = DefaultEncoding
	}
	return o
}

// Row is one logical record of cleaned cells. Interior empty cells are kept.
type Row struct {
	Cells []string `json:"cells"`
}

// NewRow builds a row from cells
func NewRow(cells ...string) Row {
	return Row{Cells: cells}
}

// Len returns the number of cells
func (r Row) Len() int {
	return len(r.Cells)
}

// Empty reports whether the row has no non-empty cell
func (r Row) Empty() bool {
	for _, c := range r.Cells {
		if c != "" {
			return false
		}
	}
	return true
}

// Compact returns the non-empty cells in order
func (r Row) Compact() []string {
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Section is one named block: a parameter list followed by value rows
type Section struct {
	Name       string   `json:"name"`
	Parameters []string `json:"parameters"`
	Values     []Row    `json:"values"`
}

// Document is the ordered list of sections parsed from one file
type Document struct {
	Sections []Section  `json:"sections"`
	Stats    ParseStats `json:"stats"`
}

// Empty reports whether no section was found
func (d *Document) Empty() bool {
	return d == nil || len(d.Sections) == 0
}

// FirstSection returns the name of the first section, used as the file's category
func (d *Document) FirstSection() (string, bool) {
	if d.Empty() {
		return "", false
	}
	return d.Sections[0].Name, true
}

// ParseStats counts the recoverable anomalies met while parsing one file
type ParseStats struct {
	PhysicalRows             int `json:"physical_rows"`
	LogicalRows              int `json:"logical_rows"`
	MalformedRows            int `json:"malformed_rows"`
	MergedContinuations      int `json:"merged_continuations"`
	UnterminatedContinuation int `json:"unterminated_continuation"`
	OrphanRows               int `json:"orphan_rows"`
	EmptySectionNames        int `json:"empty_section_names"`
}

// Anomalies returns the total number of recoverable issues
func (s ParseStats) Anomalies() int {
	return s.MalformedRows + s.UnterminatedContinuation + s.OrphanRows + s.EmptySectionNames
}

// appendUnique appends values not already present in dst, keeping first-seen order.
func appendUnique(dst []string, seen map[string]struct{}, values ...string) []string {
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// Dedupe returns values without duplicates, first occurrence wins
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	return appendUnique(make([]string, 0, len(values)), seen, values...)
}
