// Package archive unpacks compressed export files in place so that the
// aggregator only ever sees plain delimited text.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes target directory")

// Summary counts what one expansion pass did
type Summary struct {
	Extracted int
	Skipped   int
	Failed    int
}

// Expander walks an input tree and expands .zip and .gz files next to themselves
type Expander struct {
	logger *zap.Logger
}

// NewExpander creates an expander
func NewExpander(logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{logger: logger}
}

// ExpandTree expands every archive below root. A .zip goes to a directory named
// after the archive, a .gz is written without its suffix. Targets that already
// exist are left alone. A broken archive is logged and counted, never fatal.
func (e *Expander) ExpandTree(root string) (Summary, error) {
	var archives []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isArchive(d.Name()) {
			archives = append(archives, path)
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to scan for archives: %w", err)
	}

	var sum Summary
	for _, path := range archives {
		target := TargetPath(path)
		if _, err := os.Stat(target); err == nil {
			sum.Skipped++
			e.logger.Debug("Archive already expanded", zap.String("archive", path))
			continue
		}

		var n int
		switch strings.ToLower(filepath.Ext(path)) {
		case ".zip":
			n, err = ExtractZip(path, target)
		case ".gz":
			err = Gunzip(path, target)
			n = 1
		}
		if err != nil {
			sum.Failed++
			e.logger.Warn("Failed to expand archive",
				zap.String("archive", path),
				zap.Error(err))
			continue
		}

		sum.Extracted++
		e.logger.Info("Expanded archive",
			zap.String("archive", path),
			zap.String("target", target),
			zap.Int("files", n))
	}
	return sum, nil
}

// TargetPath is where an archive expands to
func TargetPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

func isArchive(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zip", ".gz":
		return true
	}
	return false
}

// ExtractZip unpacks every regular file of the archive below dest and returns
// how many were written. The whole extraction is rolled back on error.
func ExtractZip(path, dest string) (int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	written := 0
	for _, f := range r.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			_ = os.RemoveAll(dest)
			return 0, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				_ = os.RemoveAll(dest)
				return 0, fmt.Errorf("failed to create directory %s: %w", f.Name, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		if err := extractEntry(f, target); err != nil {
			_ = os.RemoveAll(dest)
			return 0, err
		}
		written++
	}
	return written, nil
}

func extractEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", f.Name, err)
	}
	defer src.Close()

	return writeFile(target, src)
}

// Gunzip decompresses path into target
func Gunzip(path, target string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open gzip file: %w", err)
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to read gzip header: %w", err)
	}
	defer zr.Close()

	return writeFile(target, zr)
}

// writeFile copies src into a temporary file next to target and renames it, so
// a failed copy never leaves a partial target behind.
func writeFile(target string, src io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".expand-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to decompress %s: %w", filepath.Base(target), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(target), err)
	}
	return nil
}

func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}
