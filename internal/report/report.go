// Package report computes parameter statistics of a run: per-file parameter
// counts, parameters common to a group, file and group overlap matrices and
// the distribution of leading section types.
package report

import (
	"path/filepath"

	"github.com/data-power-io/cmdump-templates/internal/aggregate"
)

// FileStats is the parameter union of one file
type FileStats struct {
	Name       string
	Parameters []string
}

// GroupReport holds the statistics of one group
type GroupReport struct {
	Name       string
	Files      []FileStats
	Failed     int
	Common     []string
	Union      []string
	Similarity [][]int
	Categories []aggregate.CategoryCount
}

// Report holds the statistics of a run. Cross-group figures only consider
// groups with at least one parsed file.
type Report struct {
	Groups       []GroupReport
	Compared     []string
	Overlap      [][]int
	GlobalCommon []string
}

// Build computes the report of an aggregation result
func Build(res *aggregate.Result) *Report {
	r := &Report{}
	if res == nil {
		return r
	}

	var commons, unions [][]string
	for _, g := range res.Groups {
		gr := buildGroup(g)
		r.Groups = append(r.Groups, gr)
		if len(gr.Files) == 0 {
			continue
		}
		r.Compared = append(r.Compared, gr.Name)
		commons = append(commons, gr.Common)
		unions = append(unions, gr.Union)
	}

	r.Overlap = overlapMatrix(commons)
	r.GlobalCommon = intersectAll(unions)
	return r
}

func buildGroup(g *aggregate.GroupResult) GroupReport {
	gr := GroupReport{
		Name:       g.Name,
		Failed:     len(g.Failures),
		Categories: append([]aggregate.CategoryCount(nil), g.Categories...),
	}

	root := ""
	var sets [][]string
	for _, f := range g.Parsed() {
		if f.Sections == 0 {
			continue
		}
		if root == "" {
			root = groupRoot(f.Path, g.Name)
		}
		params := f.Index.All()
		gr.Files = append(gr.Files, FileStats{Name: displayName(root, f.Path), Parameters: params})
		sets = append(sets, params)
	}

	gr.Common = intersectAll(sets)
	gr.Union = unionAll(sets)
	gr.Similarity = overlapMatrix(sets)
	return gr
}

// groupRoot finds the group directory above path so file names can be shown
// relative to it.
func groupRoot(path, group string) string {
	dir := filepath.Dir(path)
	for {
		if filepath.Base(dir) == group {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func displayName(root, path string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}

// overlapMatrix returns m[i][j] = |sets[i] ∩ sets[j]|
func overlapMatrix(sets [][]string) [][]int {
	if len(sets) == 0 {
		return nil
	}
	lookup := make([]map[string]struct{}, len(sets))
	for i, s := range sets {
		lookup[i] = toSet(s)
	}

	m := make([][]int, len(sets))
	for i := range sets {
		m[i] = make([]int, len(sets))
		for j := range sets {
			if j < i {
				m[i][j] = m[j][i]
				continue
			}
			n := 0
			for _, p := range sets[i] {
				if _, ok := lookup[j][p]; ok {
					n++
				}
			}
			m[i][j] = n
		}
	}
	return m
}

// intersectAll keeps the elements of the first set present in every other set
func intersectAll(sets [][]string) []string {
	if len(sets) == 0 {
		return nil
	}
	out := append([]string(nil), sets[0]...)
	for _, s := range sets[1:] {
		lookup := toSet(s)
		kept := out[:0]
		for _, p := range out {
			if _, ok := lookup[p]; ok {
				kept = append(kept, p)
			}
		}
		out = kept
	}
	return out
}

func unionAll(sets [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range sets {
		for _, p := range s {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}
