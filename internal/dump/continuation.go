package dump

import "strings"

// Continues reports whether r is the physical continuation of p: p's last cell
// ends with the delimiter or r's first cell starts with it.
func Continues(p, r Row, delim string) bool {
	if p.Len() == 0 || r.Len() == 0 {
		return false
	}
	return strings.HasSuffix(p.Cells[p.Len()-1], delim) || strings.HasPrefix(r.Cells[0], delim)
}

// Merge splices r onto p. The join cells are concatenated without the delimiter
// and the result has p.Len()+r.Len()-1 cells.
func Merge(p, r Row, delim string) Row {
	cells := make([]string, 0, p.Len()+r.Len()-1)
	cells = append(cells, p.Cells[:p.Len()-1]...)
	joined := strings.TrimRight(p.Cells[p.Len()-1], delim) + strings.TrimLeft(r.Cells[0], delim)
	cells = append(cells, joined)
	cells = append(cells, r.Cells[1:]...)
	return Row{Cells: cells}
}

// Merger buffers one pending row and splices continuation rows into it.
type Merger struct {
	delim   string
	pending Row
	has     bool
	merged  int
}

// NewMerger creates a merger for the given delimiter
func NewMerger(delim rune) *Merger {
	return &Merger{delim: string(delim)}
}

// Push feeds the next normalized physical row. It returns the previous logical
// row once it is known to be complete.
func (m *Merger) Push(r Row) (Row, bool) {
	if !m.has {
		m.pending, m.has = r, true
		return Row{}, false
	}
	if Continues(m.pending, r, m.delim) {
		m.pending = Merge(m.pending, r, m.delim)
		m.merged++
		return Row{}, false
	}
	out := m.pending
	m.pending = r
	return out, true
}

// Flush returns the pending row at end of input. unterminated is set when the
// row still ends with the delimiter, i.e. its continuation never arrived.
func (m *Merger) Flush() (row Row, ok bool, unterminated bool) {
	if !m.has {
		return Row{}, false, false
	}
	row = m.pending
	m.pending, m.has = Row{}, false
	unterminated = strings.HasSuffix(row.Cells[row.Len()-1], m.delim)
	return row, true, unterminated
}

// Merged returns the number of physical rows spliced into a previous row
func (m *Merger) Merged() int {
	return m.merged
}
