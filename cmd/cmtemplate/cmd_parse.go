package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/data-power-io/cmdump-templates/internal/config"
	"github.com/data-power-io/cmdump-templates/internal/dump"
	"github.com/spf13/cobra"
)

func newParseCmd(a *app) *cobra.Command {
	var (
		delimiter string
		encoding  string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse one export file and print its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Set(config.Delimiter, delimiter)
			a.cfg.Set(config.Encoding, encoding)
			opts, err := a.cfg.ParseOptions()
			if err != nil {
				return err
			}

			doc, err := dump.ParseFile(args[0], opts)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderDocument(doc))
			return nil
		},
	}

	cmd.Flags().StringVar(&delimiter, "delimiter", "", "Cell delimiter (default ',')")
	cmd.Flags().StringVar(&encoding, "encoding", "", "Input charset (default utf-8)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the parsed document as JSON")
	return cmd
}

func renderDocument(doc *dump.Document) string {
	var sb strings.Builder

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "Section", "Parameters", "Value rows")
	for i, s := range doc.Sections {
		name := s.Name
		if name == "" {
			name = "(empty)"
		}
		t.Row(strconv.Itoa(i+1), name, strconv.Itoa(len(s.Parameters)), strconv.Itoa(len(s.Values)))
	}
	sb.WriteString(t.String())
	sb.WriteString("\n")

	st := doc.Stats
	fmt.Fprintf(&sb, "Physical rows: %d  Logical rows: %d  Merged continuations: %d\n",
		st.PhysicalRows, st.LogicalRows, st.MergedContinuations)
	fmt.Fprintf(&sb, "Malformed: %d  Orphan: %d  Unterminated continuation: %d  Empty section names: %d\n",
		st.MalformedRows, st.OrphanRows, st.UnterminatedContinuation, st.EmptySectionNames)
	return sb.String()
}
