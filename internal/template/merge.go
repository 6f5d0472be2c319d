package template

import "sort"

// Merge folds group templates into one template named name. Groups are folded
// in lexicographic order of their Name, never in argument order, so the result
// does not depend on how the caller collected them.
func Merge(name string, groups ...*Template) *Template {
	ordered := make([]*Template, 0, len(groups))
	for _, g := range groups {
		if g != nil {
			ordered = append(ordered, g)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Name < ordered[j].Name
	})

	merged := New(name)
	for _, g := range ordered {
		merged.AddTemplate(g)
	}
	return merged
}

// MergeGlobal folds group templates into the global template
func MergeGlobal(groups ...*Template) *Template {
	return Merge(GlobalName, groups...)
}
