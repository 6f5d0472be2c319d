package dump

import "strings"

var cellCleaner = strings.NewReplacer(
	`"`, "",
	"'", "",
	"\t", "",
	"\r", "",
	"\n", "",
)

// CleanCell strips quoting artifacts and embedded tabs or newlines from one cell.
// Tabs and newlines are deleted, not replaced by a space, so that split values
// concatenate back to their original text in the continuation merger.
func CleanCell(cell string) string {
	return strings.TrimSpace(cellCleaner.Replace(cell))
}

// NormalizeRow cleans every cell of a physical record and trims trailing empty
// cells. ok is false when nothing but empty cells remains.
func NormalizeRow(raw []string) (Row, bool) {
	cells := make([]string, len(raw))
	last := -1
	for i, c := range raw {
		cells[i] = CleanCell(c)
		if cells[i] != "" {
			last = i
		}
	}
	if last < 0 {
		return Row{}, false
	}
	return Row{Cells: cells[:last+1]}, true
}
