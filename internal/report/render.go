package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// Render writes the report as text tables
func Render(w io.Writer, r *Report) error {
	var sb strings.Builder

	for _, g := range r.Groups {
		sb.WriteString(titleStyle.Render("Group: " + g.Name))
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "Files: %d  Failed: %d  Parameters: %d  Common to all files: %d\n",
			len(g.Files), g.Failed, len(g.Union), len(g.Common))

		if len(g.Files) > 0 {
			files := newTable("File", "Parameters")
			for _, f := range g.Files {
				files.Row(f.Name, strconv.Itoa(len(f.Parameters)))
			}
			sb.WriteString(files.String())
			sb.WriteString("\n")

			sb.WriteString(matrixTable(fileLabels(g.Files), g.Similarity))
			sb.WriteString("\n")
		}

		if len(g.Categories) > 0 {
			cats := newTable("Leading section", "Files")
			for _, c := range g.Categories {
				cats.Row(c.Section, strconv.Itoa(c.Files))
			}
			sb.WriteString(cats.String())
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(r.Compared) > 0 {
		sb.WriteString(titleStyle.Render("Across groups"))
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "Common parameters across groups: %d\n", len(r.GlobalCommon))

		common := newTable("Group", "Common parameters")
		for _, g := range r.Groups {
			if len(g.Files) == 0 {
				continue
			}
			common.Row(g.Name, strconv.Itoa(len(g.Common)))
		}
		sb.WriteString(common.String())
		sb.WriteString("\n")

		sb.WriteString(matrixTable(r.Compared, r.Overlap))
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func matrixTable(labels []string, m [][]int) string {
	t := newTable(append([]string{""}, labels...)...)
	for i, row := range m {
		cells := make([]string, 0, len(row)+1)
		cells = append(cells, labels[i])
		for _, n := range row {
			cells = append(cells, strconv.Itoa(n))
		}
		t.Row(cells...)
	}
	return t.String()
}

func fileLabels(files []FileStats) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}
