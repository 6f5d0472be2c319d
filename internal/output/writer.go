// Package output writes master template artifacts to the output directory
package output

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/data-power-io/cmdump-templates/internal/template"
	"go.uber.org/zap"
)

// Writer writes artifacts atomically: a temp file in the target directory is
// renamed over the destination once fully flushed.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates the output directory if needed
func NewWriter(dir string, logger *zap.Logger) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// Dir returns the output directory
func (w *Writer) Dir() string {
	return w.dir
}

// WriteGroup writes master_template_<group>.txt
func (w *Writer) WriteGroup(ctx context.Context, t *template.Template) (string, error) {
	return w.write(ctx, template.GroupFileName(t.Name), t)
}

// WriteGlobal writes global_master_template.txt
func (w *Writer) WriteGlobal(ctx context.Context, t *template.Template) (string, error) {
	return w.write(ctx, template.GlobalFileName, t)
}

// WriteAll writes every group artifact, then the global one when present.
// It stops at the first failure.
func (w *Writer) WriteAll(ctx context.Context, groups []*template.Template, global *template.Template) ([]string, error) {
	var paths []string
	for _, g := range groups {
		path, err := w.WriteGroup(ctx, g)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if global != nil {
		path, err := w.WriteGlobal(ctx, global)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (w *Writer) write(ctx context.Context, name string, t *template.Template) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := filepath.Join(w.dir, name)

	tmp, err := os.CreateTemp(w.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, 0o644)

	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	bw := bufio.NewWriter(tmp)
	if _, err := t.WriteTo(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	w.logger.Info("Wrote master template",
		zap.String("template", t.Name),
		zap.String("path", dest),
		zap.Int("sections", t.Len()))
	return dest, nil
}
