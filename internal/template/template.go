// Package template holds master templates: the ordered union of parameter
// names observed per section, for one group of files or for all groups.
package template

// GlobalName is the name given to the template merged from every group.
const GlobalName = "global"

// Template maps section names to ordered, duplicate-free parameter lists.
// Section order and parameter order are first-seen order.
type Template struct {
	Name string

	order  []string
	params map[string][]string
	seen   map[string]map[string]struct{}
}

// New creates an empty template
func New(name string) *Template {
	return &Template{
		Name:   name,
		params: make(map[string][]string),
		seen:   make(map[string]map[string]struct{}),
	}
}

// Add unions params into the section's list. The section is created even when
// params is empty; a parameter already present keeps its position.
func (t *Template) Add(section string, params ...string) {
	seen, ok := t.seen[section]
	if !ok {
		seen = make(map[string]struct{}, len(params))
		t.seen[section] = seen
		t.order = append(t.order, section)
		t.params[section] = []string{}
	}
	list := t.params[section]
	for _, p := range params {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		list = append(list, p)
	}
	t.params[section] = list
}

// AddTemplate unions every section of o into t, in o's order
func (t *Template) AddTemplate(o *Template) {
	if o == nil {
		return
	}
	for _, section := range o.order {
		t.Add(section, o.params[section]...)
	}
}

// Sections returns the section names in template order
func (t *Template) Sections() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Parameters returns the section's parameters in template order
func (t *Template) Parameters(section string) []string {
	list, ok := t.params[section]
	if !ok {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Has reports whether the section is present
func (t *Template) Has(section string) bool {
	_, ok := t.params[section]
	return ok
}

// Len returns the number of sections
func (t *Template) Len() int {
	return len(t.order)
}

// ParameterCount returns the total number of section parameters
func (t *Template) ParameterCount() int {
	n := 0
	for _, list := range t.params {
		n += len(list)
	}
	return n
}

// Map returns a copy of the section to parameters mapping
func (t *Template) Map() map[string][]string {
	out := make(map[string][]string, len(t.order))
	for _, section := range t.order {
		out[section] = t.Parameters(section)
	}
	return out
}

// Clone returns a deep copy under a new name
func (t *Template) Clone(name string) *Template {
	c := New(name)
	c.AddTemplate(t)
	return c
}
