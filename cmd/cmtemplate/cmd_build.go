package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/data-power-io/cmdump-templates/internal/aggregate"
	"github.com/data-power-io/cmdump-templates/internal/archive"
	"github.com/data-power-io/cmdump-templates/internal/config"
	"github.com/data-power-io/cmdump-templates/internal/export"
	"github.com/data-power-io/cmdump-templates/internal/metrics"
	"github.com/data-power-io/cmdump-templates/internal/objectstore"
	"github.com/data-power-io/cmdump-templates/internal/output"
	"github.com/data-power-io/cmdump-templates/internal/report"
	"github.com/data-power-io/cmdump-templates/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type buildFlags struct {
	input          string
	output         string
	workers        int
	extensions     []string
	delimiter      string
	sentinel       string
	separator      string
	encoding       string
	expandArchives bool
	arrowDir       string
	metricsFile    string
	runID          string
	noReport       bool
}

func newBuildCmd(a *app) *cobra.Command {
	f := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Aggregate every group below the input root into master templates",
		Long: `build discovers one group per top-level directory of the input root, parses
every export file below it and writes master_template_<group>.txt for each group
and global_master_template.txt into the output directory.

When an S3 bucket is configured the exports are first mirrored into the input
directory. When PostgreSQL is configured the templates are stored as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyBuildFlags(cmd, a.cfg, f)
			ctx, cancel := a.signalContext()
			defer cancel()
			return a.runBuild(ctx, cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.input, "input", "i", "", "Input root, one subdirectory per group")
	flags.StringVarP(&f.output, "output", "o", "", "Output directory for template artifacts")
	flags.IntVarP(&f.workers, "workers", "w", 0, "Files parsed in parallel per group (default: number of CPUs)")
	flags.StringSliceVar(&f.extensions, "ext", nil, "Accepted export file extensions (default .csv)")
	flags.StringVar(&f.delimiter, "delimiter", "", "Cell delimiter (default ',')")
	flags.StringVar(&f.sentinel, "sentinel", "", "Section header prefix (default '@')")
	flags.StringVar(&f.separator, "inline-separator", "", "Separator between header and inline parameters (default '##')")
	flags.StringVar(&f.encoding, "encoding", "", "Input charset, any IANA name (default utf-8)")
	flags.BoolVar(&f.expandArchives, "expand-archives", true, "Expand .zip and .gz files before discovery")
	flags.StringVar(&f.arrowDir, "arrow-dir", "", "Also write every parsed document as an Arrow stream below this directory")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")
	flags.StringVar(&f.runID, "run-id", "", "Run identifier (default: random UUID)")
	flags.BoolVar(&f.noReport, "no-report", false, "Do not print the statistics report")
	return cmd
}

// applyBuildFlags lets explicitly set flags override file and environment values
func applyBuildFlags(cmd *cobra.Command, cfg *config.Config, f *buildFlags) {
	flags := cmd.Flags()
	cfg.Set(config.InputDir, f.input)
	cfg.Set(config.OutputDir, f.output)
	if flags.Changed("workers") {
		cfg.Set(config.Workers, strconv.Itoa(f.workers))
	}
	if flags.Changed("ext") {
		cfg.Set(config.Extensions, strings.Join(f.extensions, ","))
	}
	cfg.Set(config.Delimiter, f.delimiter)
	cfg.Set(config.Sentinel, f.sentinel)
	cfg.Set(config.InlineSeparator, f.separator)
	cfg.Set(config.Encoding, f.encoding)
	if flags.Changed("expand-archives") {
		cfg.Set(config.ExpandArchives, strconv.FormatBool(f.expandArchives))
	}
	cfg.Set(config.ArrowDir, f.arrowDir)
	cfg.Set(config.MetricsFile, f.metricsFile)
}

func (a *app) runBuild(ctx context.Context, cmd *cobra.Command, f *buildFlags) (err error) {
	cfg := a.cfg
	timer := metrics.NewTimer()

	opts, err := cfg.ParseOptions()
	if err != nil {
		return err
	}
	input := cfg.GetString(config.InputDir, "")
	outDir := cfg.GetString(config.OutputDir, "output")
	exts := cfg.FileExtensions()

	if metricsFile := cfg.GetString(config.MetricsFile, ""); metricsFile != "" {
		defer func() {
			metrics.RunDuration.Observe(timer.Duration().Seconds())
			if werr := metrics.WriteTextfile(metricsFile); werr != nil && err == nil {
				err = werr
			}
		}()
	}

	if cfg.S3Enabled() {
		input, err = a.stage(ctx, input, exts)
		if err != nil {
			metrics.RecordError("objectstore", "mirror")
			return err
		}
	}
	if input == "" {
		return errors.New("input directory is required (--input or CMDUMP_INPUT_DIR)")
	}

	if cfg.GetBool(config.ExpandArchives, true) {
		sum, err := archive.NewExpander(a.logger.Logger).ExpandTree(input)
		if err != nil {
			return err
		}
		if sum.Failed > 0 {
			metrics.RecordError("archive", "expand")
		}
	}

	aggOpts := aggregate.Options{
		Parse:      opts,
		Workers:    cfg.WorkerCount(),
		Extensions: exts,
		RunID:      f.runID,
	}
	if arrowDir := cfg.GetString(config.ArrowDir, ""); arrowDir != "" {
		exp, err := export.NewExporter(arrowDir, input, a.logger.Logger)
		if err != nil {
			return err
		}
		aggOpts.Sink = exp
	}

	agg := aggregate.New(aggOpts, a.logger)
	logger := a.logger.WithField("run_id", agg.RunID())
	logger.LogRunEvent("started", map[string]interface{}{
		"input":   input,
		"output":  outDir,
		"workers": aggOpts.Workers,
	})

	res, runErr := agg.Run(ctx, input)
	if res == nil {
		return runErr
	}

	writer, err := output.NewWriter(outDir, a.logger.Logger)
	if err != nil {
		return err
	}
	// an interrupted run still writes the groups it completed, never a global template
	if _, err := writer.WriteAll(context.WithoutCancel(ctx), res.Templates(), res.Global); err != nil {
		metrics.RecordError("output", "write")
		return err
	}
	if runErr != nil {
		logger.LogRunEvent("interrupted", map[string]interface{}{"completed_groups": len(res.Groups)})
		return runErr
	}

	if cfg.StoreEnabled() {
		if err := a.storeTemplates(ctx, res); err != nil {
			metrics.RecordError("store", "save")
			return err
		}
	}

	if !f.noReport {
		if err := report.Render(cmd.OutOrStdout(), report.Build(res)); err != nil {
			return err
		}
	}

	logger.LogPerformanceMetric("run_duration", timer.Duration().Seconds(), "seconds")
	logger.LogRunEvent("completed", map[string]interface{}{
		"groups":            len(res.Groups),
		"failed_files":      len(res.Failures()),
		"global_parameters": res.Global.ParameterCount(),
	})
	return nil
}

// stage mirrors the configured bucket into dir, or into a new temporary
// directory when no input directory was given.
func (a *app) stage(ctx context.Context, dir string, exts []string) (string, error) {
	s3cfg := a.cfg.GetS3Config()
	if err := config.ValidateS3Config(s3cfg); err != nil {
		return "", fmt.Errorf("invalid S3 configuration: %w", err)
	}

	if dir == "" {
		tmp, err := os.MkdirTemp("", "cmtemplate-stage-*")
		if err != nil {
			return "", fmt.Errorf("failed to create staging directory: %w", err)
		}
		dir = tmp
	}

	client, err := objectstore.NewClient(s3cfg, a.logger.Logger)
	if err != nil {
		return "", err
	}

	accepted := exts
	if a.cfg.GetBool(config.ExpandArchives, true) {
		accepted = append(append([]string(nil), exts...), ".zip", ".gz")
	}
	if _, err := client.Mirror(ctx, dir, accepted); err != nil {
		return "", err
	}
	return dir, nil
}

func (a *app) storeTemplates(ctx context.Context, res *aggregate.Result) error {
	s, err := store.NewStore(a.cfg.GetConnectionConfig(), a.logger.Logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	templates := append(res.Templates(), res.Global)
	if err := s.SaveTemplates(ctx, res.RunID, templates...); err != nil {
		return err
	}
	a.logger.Info("Templates stored", zap.String("run_id", res.RunID), zap.Int("templates", len(templates)))
	return nil
}
