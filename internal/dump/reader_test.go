package dump

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `@BTS
Id,Name,Vendor
1,"north, site",acme
2,south,acme
,,

"@Cell##CellId","Freq",Bandwidth
10,"1800
",20
11,2100,20
@Neighbour
Source,"Target,"
"Site"
10,11
`

func TestParseReader_SampleExport(t *testing.T) {
	doc, err := ParseReader(strings.NewReader(sampleExport), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, doc.Sections, 3)

	bts := doc.Sections[0]
	assert.Equal(t, "@BTS", bts.Name)
	assert.Equal(t, []string{"Id", "Name", "Vendor"}, bts.Parameters)
	assert.Equal(t, []Row{NewRow("1", "north, site", "acme"), NewRow("2", "south", "acme")}, bts.Values)

	cell := doc.Sections[1]
	assert.Equal(t, "@Cell", cell.Name)
	assert.Equal(t, []string{"CellId", "Freq", "Bandwidth"}, cell.Parameters)
	assert.Equal(t, []Row{NewRow("10", "1800", "20"), NewRow("11", "2100", "20")}, cell.Values)

	nbr := doc.Sections[2]
	assert.Equal(t, "@Neighbour", nbr.Name)
	assert.Equal(t, []string{"Source", "TargetSite"}, nbr.Parameters)
	assert.Equal(t, []Row{NewRow("10", "11")}, nbr.Values)

	assert.Equal(t, 1, doc.Stats.MergedContinuations)
	assert.Equal(t, 1, doc.Stats.MalformedRows)
}

func TestParseReader_StripsBOM(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("@Cell\nA\n1\n")...)

	doc, err := ParseReader(bytes.NewReader(input), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "@Cell", doc.Sections[0].Name)
}

func TestParseReader_InvalidUTF8(t *testing.T) {
	_, err := ParseReader(bytes.NewReader([]byte("@Caf\xe9\nA\n")), DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidEncoding))
}

func TestParseReader_LegacyCharset(t *testing.T) {
	opts := DefaultOptions()
	opts.Encoding = "windows-1252"

	doc, err := ParseReader(bytes.NewReader([]byte("@Caf\xe9\nA\n1\n")), opts)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "@Café", doc.Sections[0].Name)
}

func TestParseReader_UnknownCharset(t *testing.T) {
	opts := DefaultOptions()
	opts.Encoding = "no-such-charset"

	_, err := ParseReader(strings.NewReader("@Cell\n"), opts)
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestParseReader_SemicolonDelimiter(t *testing.T) {
	opts := DefaultOptions()
	opts.Delimiter = ';'

	doc, err := ParseReader(strings.NewReader("@Cell;\nA;B\n1;2\n"), opts)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, []string{"A", "B"}, doc.Sections[0].Parameters)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.csv")
	require.NoError(t, os.WriteFile(path, []byte("@Cell\nA,B\n1,2\n"), 0o644))

	doc, err := ParseFile(path, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)

	_, err = ParseFile(filepath.Join(dir, "missing.csv"), DefaultOptions())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseReader_EmptyInput(t *testing.T) {
	doc, err := ParseReader(strings.NewReader(""), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, doc.Empty())
}

func TestParseReader_UnbalancedQuoteStopsAtHeader(t *testing.T) {
	doc, err := ParseReader(strings.NewReader("@Cell\nA,B\n\"1,2\n3,4\n@Other\nX\n5\n"), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, doc.Sections, 2)

	assert.Equal(t, "@Cell", doc.Sections[0].Name)
	assert.Equal(t, []Row{NewRow("3", "4")}, doc.Sections[0].Values)
	assert.Equal(t, "@Other", doc.Sections[1].Name)
	assert.Equal(t, []string{"X"}, doc.Sections[1].Parameters)
	assert.Equal(t, []Row{NewRow("5")}, doc.Sections[1].Values)

	assert.Equal(t, 1, doc.Stats.MalformedRows)
	assert.Equal(t, 7, doc.Stats.PhysicalRows)
}

func TestParseReader_UnbalancedQuoteAtEndOfInput(t *testing.T) {
	doc, err := ParseReader(strings.NewReader("@Cell\nA\n\"open\n1\n2"), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, []Row{NewRow("1"), NewRow("2")}, doc.Sections[0].Values)
	assert.Equal(t, 1, doc.Stats.MalformedRows)
}

func TestQuoteOpen(t *testing.T) {
	cases := []struct {
		line   string
		quoted bool
		want   bool
	}{
		{line: "a,b\n", want: false},
		{line: `a,"b` + "\n", want: true},
		{line: `a,"b,c"` + "\r\n", want: false},
		{line: `a,"say ""hi""",c`, want: false},
		{line: `a,b"c`, want: false},
		{line: `"x"y,z`, want: true},
		{line: `",20`, quoted: true, want: false},
		{line: "still inside\n", quoted: true, want: true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, quoteOpen(tc.line, ',', tc.quoted), tc.line)
	}
}
