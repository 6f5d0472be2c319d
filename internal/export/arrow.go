// Package export writes parsed documents as Arrow IPC streams so their value
// rows survive the run in a columnar form.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/data-power-io/cmdump-templates/internal/dump"
	"go.uber.org/zap"
)

// FileExtension is appended to the source file name
const FileExtension = ".arrows"

const defaultBatchSize = 64 * 1024

// Column positions in Schema
const (
	colSection = iota
	colOccurrence
	colRow
	colColumn
	colParameter
	colValue
)

// Schema is the long form of a document: one record per value cell.
// Occurrence counts repeated sections of the same name from zero.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "section", Type: arrow.BinaryTypes.String},
	{Name: "occurrence", Type: arrow.PrimitiveTypes.Int32},
	{Name: "row", Type: arrow.PrimitiveTypes.Int32},
	{Name: "column", Type: arrow.PrimitiveTypes.Int32},
	{Name: "parameter", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "value", Type: arrow.BinaryTypes.String},
}, nil)

// Exporter writes one stream per document below dir/<group>/
type Exporter struct {
	dir       string
	inputRoot string
	pool      memory.Allocator
	batchSize int
	logger    *zap.Logger
}

// NewExporter creates an exporter. inputRoot is used to keep the layout of
// files below their group directory; it may be empty.
func NewExporter(dir, inputRoot string, logger *zap.Logger) (*Exporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("arrow export directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		dir:       dir,
		inputRoot: inputRoot,
		pool:      memory.NewGoAllocator(),
		batchSize: defaultBatchSize,
		logger:    logger,
	}, nil
}

// Path returns where the stream of a source file is written
func (e *Exporter) Path(group, source string) string {
	rel := filepath.Base(source)
	if e.inputRoot != "" {
		if r, err := filepath.Rel(filepath.Join(e.inputRoot, group), source); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	return filepath.Join(e.dir, group, rel+FileExtension)
}

// Consume writes the document. Safe for concurrent use, each call owns its file.
func (e *Exporter) Consume(ctx context.Context, group, path string, doc *dump.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := e.Path(group, path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create arrow file: %w", err)
	}

	rows, err := e.write(ctx, file, doc)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close arrow file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(dest)
		return err
	}

	e.logger.Debug("Exported document",
		zap.String("group", group),
		zap.String("file", path),
		zap.String("arrow_file", dest),
		zap.Int64("rows", rows))
	return nil
}

func (e *Exporter) write(ctx context.Context, file *os.File, doc *dump.Document) (int64, error) {
	w := ipc.NewWriter(file, ipc.WithSchema(Schema), ipc.WithAllocator(e.pool))

	b := array.NewRecordBuilder(e.pool, Schema)
	defer b.Release()

	section := b.Field(colSection).(*array.StringBuilder)
	occurrence := b.Field(colOccurrence).(*array.Int32Builder)
	row := b.Field(colRow).(*array.Int32Builder)
	column := b.Field(colColumn).(*array.Int32Builder)
	parameter := b.Field(colParameter).(*array.StringBuilder)
	value := b.Field(colValue).(*array.StringBuilder)

	var total int64
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		rec := b.NewRecord()
		defer rec.Release()
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write arrow record: %w", err)
		}
		total += int64(pending)
		pending = 0
		return nil
	}

	seen := make(map[string]int32)
	for _, s := range doc.Sections {
		occ := seen[s.Name]
		seen[s.Name] = occ + 1

		for r, values := range s.Values {
			if err := ctx.Err(); err != nil {
				_ = w.Close()
				return total, err
			}
			for c, cell := range values.Cells {
				section.Append(s.Name)
				occurrence.Append(occ)
				row.Append(int32(r))
				column.Append(int32(c))
				if c < len(s.Parameters) {
					parameter.Append(s.Parameters[c])
				} else {
					parameter.AppendNull()
				}
				value.Append(cell)
				pending++
			}
			if pending >= e.batchSize {
				if err := flush(); err != nil {
					_ = w.Close()
					return total, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		_ = w.Close()
		return total, err
	}
	if err := w.Close(); err != nil {
		return total, fmt.Errorf("failed to finish arrow stream: %w", err)
	}
	return total, nil
}

// Cell is one exported value, as read back from a stream
type Cell struct {
	Section    string
	Occurrence int32
	Row        int32
	Column     int32
	Parameter  *string
	Value      string
}

// ReadFile reads a stream written by Consume
func ReadFile(path string) ([]Cell, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow file: %w", err)
	}
	defer file.Close()

	rdr, err := ipc.NewReader(file, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow stream: %w", err)
	}
	defer rdr.Release()

	if err := checkSchema(rdr.Schema()); err != nil {
		return nil, err
	}

	var cells []Cell
	for rdr.Next() {
		rec := rdr.Record()
		section := rec.Column(colSection).(*array.String)
		occurrence := rec.Column(colOccurrence).(*array.Int32)
		row := rec.Column(colRow).(*array.Int32)
		column := rec.Column(colColumn).(*array.Int32)
		parameter := rec.Column(colParameter).(*array.String)
		value := rec.Column(colValue).(*array.String)

		for i := 0; i < int(rec.NumRows()); i++ {
			c := Cell{
				Section:    section.Value(i),
				Occurrence: occurrence.Value(i),
				Row:        row.Value(i),
				Column:     column.Value(i),
				Value:      value.Value(i),
			}
			if parameter.IsValid(i) {
				p := parameter.Value(i)
				c.Parameter = &p
			}
			cells = append(cells, c)
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("failed to read arrow stream: %w", err)
	}
	return cells, nil
}

func checkSchema(got *arrow.Schema) error {
	if got.NumFields() != Schema.NumFields() {
		return fmt.Errorf("unexpected arrow schema: %d fields", got.NumFields())
	}
	for i, f := range Schema.Fields() {
		g := got.Field(i)
		if g.Name != f.Name || !arrow.TypeEqual(g.Type, f.Type) {
			return fmt.Errorf("unexpected arrow schema: field %d is %s %s", i, g.Name, g.Type)
		}
	}
	return nil
}
