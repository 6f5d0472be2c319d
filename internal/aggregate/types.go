package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/data-power-io/cmdump-templates/internal/dump"
	"github.com/data-power-io/cmdump-templates/internal/template"
)

// FileError records a file that could not be read or decoded. It never stops a run.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// DocumentSink receives every parsed document before it is discarded
type DocumentSink interface {
	Consume(ctx context.Context, group, path string, doc *dump.Document) error
}

// ParameterIndex is the per-file union of parameters by section name, in
// first-seen order. It feeds the similarity statistics.
type ParameterIndex struct {
	t *template.Template
}

// NewParameterIndex builds the index of one document
func NewParameterIndex(doc *dump.Document) ParameterIndex {
	t := template.New("")
	if doc != nil {
		for _, s := range doc.Sections {
			t.Add(s.Name, s.Parameters...)
		}
	}
	return ParameterIndex{t: t}
}

// Sections returns the section names in first-seen order
func (p ParameterIndex) Sections() []string {
	if p.t == nil {
		return nil
	}
	return p.t.Sections()
}

// Parameters returns the union of parameters seen for the section
func (p ParameterIndex) Parameters(section string) []string {
	if p.t == nil {
		return nil
	}
	return p.t.Parameters(section)
}

// All returns the union of parameters across every section
func (p ParameterIndex) All() []string {
	if p.t == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, section := range p.t.Sections() {
		for _, param := range p.t.Parameters(section) {
			if _, ok := seen[param]; ok {
				continue
			}
			seen[param] = struct{}{}
			out = append(out, param)
		}
	}
	return out
}

// FileResult is what one parse task hands back to the folding step
type FileResult struct {
	Path     string
	Group    string
	Category string
	Index    ParameterIndex
	Sections int
	Stats    dump.ParseStats
	Duration time.Duration
	Err      error
	SinkErr  error
}

// OK reports whether the file was read and decoded
func (r FileResult) OK() bool {
	return r.Err == nil
}

// CategoryCount is how many files of a group start with a given section
type CategoryCount struct {
	Section string
	Files   int
}

// GroupResult is the folded outcome of one group
type GroupResult struct {
	Name       string
	Template   *template.Template
	Categories []CategoryCount
	Files      []FileResult
	Failures   []*FileError
	Processed  int
}

func newGroupResult(name string) *GroupResult {
	return &GroupResult{
		Name:     name,
		Template: template.New(name),
	}
}

func (g *GroupResult) addCategory(section string) {
	for i := range g.Categories {
		if g.Categories[i].Section == section {
			g.Categories[i].Files++
			return
		}
	}
	g.Categories = append(g.Categories, CategoryCount{Section: section, Files: 1})
}

// CategoryCounts returns the category frequencies as a map
func (g *GroupResult) CategoryCounts() map[string]int {
	out := make(map[string]int, len(g.Categories))
	for _, c := range g.Categories {
		out[c.Section] = c.Files
	}
	return out
}

// Parsed returns the results of files that were read successfully
func (g *GroupResult) Parsed() []FileResult {
	out := make([]FileResult, 0, len(g.Files))
	for _, f := range g.Files {
		if f.OK() {
			out = append(out, f)
		}
	}
	return out
}

// Result is the outcome of a whole run
type Result struct {
	RunID  string
	Groups []*GroupResult
	Global *template.Template
}

// Templates returns the group templates in group order
func (r *Result) Templates() []*template.Template {
	out := make([]*template.Template, 0, len(r.Groups))
	for _, g := range r.Groups {
		out = append(out, g.Template)
	}
	return out
}

// Failures returns every file failure of the run
func (r *Result) Failures() []*FileError {
	var out []*FileError
	for _, g := range r.Groups {
		out = append(out, g.Failures...)
	}
	return out
}
