package main

import (
	"context"
	"fmt"

	"github.com/data-power-io/cmdump-templates/internal/output"
	"github.com/data-power-io/cmdump-templates/internal/template"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMergeCmd(a *app) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "merge <template files...>",
		Short: "Merge existing master template artifacts into one global template",
		Long: `merge reads master template artifacts written by build and folds them into a
global template. Templates are folded in order of the group name derived from
each file name, so the argument order does not matter. Two files holding the
same template name are rejected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups := make([]*template.Template, 0, len(args))
			sources := make(map[string]string, len(args))
			for _, path := range args {
				t, err := template.ParseFile(path, "")
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if prev, ok := sources[t.Name]; ok {
					return fmt.Errorf("%s and %s both hold template %q", prev, path, t.Name)
				}
				sources[t.Name] = path
				a.logger.Debug("Loaded template",
					zap.String("path", path),
					zap.String("template", t.Name),
					zap.Int("sections", t.Len()))
				groups = append(groups, t)
			}

			global := template.MergeGlobal(groups...)
			if outDir == "" {
				_, err := global.WriteTo(cmd.OutOrStdout())
				return err
			}

			w, err := output.NewWriter(outDir, a.logger.Logger)
			if err != nil {
				return err
			}
			_, err = w.WriteGlobal(context.Background(), global)
			return err
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write global_master_template.txt into this directory instead of stdout")
	return cmd
}
