package dump

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanCell(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"quoted"`, "quoted"},
		{" 'single' ", "single"},
		{"tab\tbed", "tabbed"},
		{"multi\r\nline", "multiline"},
		{"  \t ", ""},
		{"keep inner space", "keep inner space"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanCell(tt.in), "CleanCell(%q)", tt.in)
	}
}

func TestNormalizeRow(t *testing.T) {
	row, ok := NormalizeRow([]string{" a ", "", `"b"`, "", " "})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "", "b"}, row.Cells)

	_, ok = NormalizeRow([]string{"", `""`, "\t"})
	assert.False(t, ok)

	_, ok = NormalizeRow(nil)
	assert.False(t, ok)
}

func TestMerge_CellCountAndJoinPoint(t *testing.T) {
	pairs := []struct {
		name string
		p, r Row
	}{
		{"trailing delimiter", NewRow("a", "b,"), NewRow("c", "d")},
		{"leading delimiter", NewRow("a", "b"), NewRow(",c", "d", "e")},
		{"both sides", NewRow("x,"), NewRow(",y")},
		{"single cells", NewRow("only,"), NewRow("tail")},
	}

	for _, tc := range pairs {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, Continues(tc.p, tc.r, ","))
			merged := Merge(tc.p, tc.r, ",")
			assert.Equal(t, tc.p.Len()+tc.r.Len()-1, merged.Len())

			join := merged.Cells[tc.p.Len()-1]
			assert.False(t, strings.HasSuffix(join, ","), "join cell %q ends with delimiter", join)
			assert.NotContains(t, join, ",")
		})
	}
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	p := Row{Cells: make([]string, 2, 8)}
	p.Cells[0], p.Cells[1] = "a", "b,"
	r := NewRow("c", "d")

	merged := Merge(p, r, ",")
	merged.Cells[0] = "changed"

	assert.Equal(t, "a", p.Cells[0])
	assert.Equal(t, "b,", p.Cells[1])
}

func TestContinues_NoMatch(t *testing.T) {
	assert.False(t, Continues(NewRow("a", "b"), NewRow("c"), ","))
	assert.False(t, Continues(Row{}, NewRow(",c"), ","))
}

func TestMerger_Chain(t *testing.T) {
	m := NewMerger(',')

	_, ready := m.Push(NewRow("@Cell"))
	assert.False(t, ready)

	out, ready := m.Push(NewRow("A", "B,"))
	require.True(t, ready)
	assert.Equal(t, NewRow("@Cell"), out)

	_, ready = m.Push(NewRow("C,"))
	assert.False(t, ready)
	_, ready = m.Push(NewRow(",D", "E"))
	assert.False(t, ready)

	out, ready = m.Push(NewRow("1", "2", "3"))
	require.True(t, ready)
	assert.Equal(t, []string{"A", "BCD", "E"}, out.Cells)
	assert.Equal(t, 2, m.Merged())

	out, ok, unterminated := m.Flush()
	require.True(t, ok)
	assert.False(t, unterminated)
	assert.Equal(t, []string{"1", "2", "3"}, out.Cells)

	_, ok, _ = m.Flush()
	assert.False(t, ok)
}

func TestMerger_UnterminatedAtEnd(t *testing.T) {
	doc := ParseRows([][]string{{"@Cell"}, {"A", "B,"}}, DefaultOptions())

	require.Len(t, doc.Sections, 1)
	assert.Equal(t, []string{"A", "B,"}, doc.Sections[0].Parameters)
	assert.Equal(t, 1, doc.Stats.UnterminatedContinuation)
}
