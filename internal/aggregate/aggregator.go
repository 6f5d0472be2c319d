// Package aggregate parses the export files of each group and folds them into
// group and global master templates.
package aggregate

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/data-power-io/cmdump-templates/internal/dump"
	"github.com/data-power-io/cmdump-templates/internal/logging"
	"github.com/data-power-io/cmdump-templates/internal/metrics"
	"github.com/data-power-io/cmdump-templates/internal/template"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options controls one aggregation run
type Options struct {
	Parse      dump.Options
	Workers    int
	Extensions []string
	Sink       DocumentSink
	RunID      string
}

// Aggregator owns the templates of a run. Files are parsed concurrently but
// folded by a single goroutine in path order.
type Aggregator struct {
	opts   Options
	logger *logging.Logger
}

// New creates an aggregator
func New(opts Options, logger *logging.Logger) *Aggregator {
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".csv"}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Aggregator{
		opts:   opts,
		logger: logger.WithField("run_id", opts.RunID),
	}
}

// RunID returns the identifier attached to logs and stored templates
func (a *Aggregator) RunID() string {
	return a.opts.RunID
}

// Run discovers the groups below root and processes them in name order. On
// cancellation the groups completed so far are returned with ctx.Err() and no
// global template.
func (a *Aggregator) Run(ctx context.Context, root string) (*Result, error) {
	groups, skipped, err := Discover(root, a.opts.Extensions)
	if err != nil {
		return nil, err
	}
	for _, path := range skipped {
		a.logger.Debug("Skipping file outside any group directory", zap.String("file", path))
	}

	a.logger.Info("Starting aggregation",
		zap.String("root", root),
		zap.Int("groups", len(groups)),
		zap.Int("workers", a.opts.Workers))

	result := &Result{RunID: a.opts.RunID}
	for _, group := range groups {
		gr, err := a.RunGroup(ctx, group)
		if err != nil {
			a.logger.Warn("Aggregation interrupted",
				zap.String("group", group.Name),
				zap.Int("completed_groups", len(result.Groups)),
				zap.Error(err))
			return result, err
		}
		result.Groups = append(result.Groups, gr)
	}

	result.Global = template.MergeGlobal(result.Templates()...)
	metrics.RecordTemplate(result.Global.Name, result.Global.Len(), result.Global.ParameterCount())
	return result, nil
}

// RunGroup parses every file of a group with a bounded worker pool, then folds
// the buffered results sorted by path.
func (a *Aggregator) RunGroup(ctx context.Context, group Group) (*GroupResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := a.logger.WithField("group", group.Name)

	results := make([]FileResult, 0, len(group.Files))
	slots := make([]FileResult, len(group.Files))
	done := make([]bool, len(group.Files))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.opts.Workers)
	for i, path := range group.Files {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			slots[i] = a.ParseFile(egCtx, group.Name, path)
			done[i] = true
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range slots {
		if done[i] {
			results = append(results, slots[i])
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	gr := newGroupResult(group.Name)
	for _, r := range results {
		a.Fold(gr, r)
	}

	metrics.RecordTemplate(gr.Name, gr.Template.Len(), gr.Template.ParameterCount())
	logger.Info("Group aggregated",
		zap.Int("files", gr.Processed),
		zap.Int("failed", len(gr.Failures)),
		zap.Int("sections", gr.Template.Len()),
		zap.Int("parameters", gr.Template.ParameterCount()))

	return gr, nil
}

// ParseFile parses one file into a FileResult. Read and decode failures are
// captured in the result, never returned.
func (a *Aggregator) ParseFile(ctx context.Context, group, path string) FileResult {
	timer := metrics.NewTimer()
	rec := metrics.NewRecorder(group)
	res := FileResult{Path: path, Group: group}

	doc, err := dump.ParseFile(path, a.opts.Parse)
	if err != nil {
		res.Err = &FileError{Path: path, Err: err}
		res.Duration = timer.Duration()
		rec.RecordFile("failed", 0, res.Duration)
		metrics.RecordError("parser", classify(err))
		a.logger.Warn("Failed to parse export file",
			zap.String("group", group),
			zap.String("file", path),
			zap.Error(err))
		return res
	}

	res.Sections = len(doc.Sections)
	res.Stats = doc.Stats
	res.Category, _ = doc.FirstSection()
	res.Index = NewParameterIndex(doc)

	if a.opts.Sink != nil && !doc.Empty() {
		if err := a.opts.Sink.Consume(ctx, group, path, doc); err != nil {
			res.SinkErr = err
			metrics.RecordError("sink", classify(err))
			a.logger.Warn("Document sink failed",
				zap.String("group", group),
				zap.String("file", path),
				zap.Error(err))
		}
	}

	res.Duration = timer.Duration()
	status := "ok"
	if doc.Empty() {
		status = "empty"
	}
	rec.RecordFile(status, res.Sections, res.Duration)
	rec.RecordDiscarded("malformed", doc.Stats.MalformedRows)
	rec.RecordDiscarded("orphan", doc.Stats.OrphanRows)
	rec.RecordDiscarded("unterminated_continuation", doc.Stats.UnterminatedContinuation)
	rec.RecordDiscarded("empty_section_name", doc.Stats.EmptySectionNames)
	rec.RecordContinuations(doc.Stats.MergedContinuations)
	a.reportQuality(group, path, doc.Stats, res.Index)

	a.logger.Debug("Parsed export file",
		zap.String("group", group),
		zap.String("file", path),
		zap.Int("sections", res.Sections),
		zap.Duration("duration", res.Duration))

	return res
}

// Fold adds one file's result to the group. Folding the same result twice
// leaves the template unchanged.
func (a *Aggregator) Fold(gr *GroupResult, r FileResult) {
	gr.Processed++
	gr.Files = append(gr.Files, r)

	if r.Err != nil {
		var fileErr *FileError
		if !errors.As(r.Err, &fileErr) {
			fileErr = &FileError{Path: r.Path, Err: r.Err}
		}
		gr.Failures = append(gr.Failures, fileErr)
		return
	}
	if r.Sections == 0 {
		return
	}

	gr.addCategory(r.Category)
	for _, section := range r.Index.Sections() {
		gr.Template.Add(section, r.Index.Parameters(section)...)
	}
}

// reportQuality logs the anomalies of one file, including parameters that
// cannot be read back from a template artifact because they contain the
// artifact's parameter separator.
func (a *Aggregator) reportQuality(group, path string, stats dump.ParseStats, idx ParameterIndex) {
	joined := 0
	for _, p := range idx.All() {
		if strings.Contains(p, template.ParameterSeparator) {
			joined++
		}
	}
	if stats.Anomalies() == 0 && joined == 0 {
		return
	}
	l := a.logger.WithField("group", group)
	issues := []struct {
		name  string
		count int
	}{
		{"malformed_rows", stats.MalformedRows},
		{"orphan_rows", stats.OrphanRows},
		{"unterminated_continuation", stats.UnterminatedContinuation},
		{"empty_section_names", stats.EmptySectionNames},
		{"parameter_contains_separator", joined},
	}
	for _, issue := range issues {
		if issue.count > 0 {
			l.LogDataQualityEvent(path, issue.name, issue.count)
		}
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, dump.ErrInvalidEncoding):
		return "encoding"
	case errors.Is(err, os.ErrNotExist):
		return "not_found"
	case errors.Is(err, os.ErrPermission):
		return "permission"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "io"
	}
}
