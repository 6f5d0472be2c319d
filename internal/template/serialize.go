package template

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ParameterSeparator joins parameters on the second line of a section block.
const ParameterSeparator = ", "

const maxLineSize = 16 * 1024 * 1024

// ErrMalformedTemplate is returned when an artifact is not a sequence of
// name / parameters / blank line blocks.
var ErrMalformedTemplate = errors.New("malformed template artifact")

// WriteTo renders the canonical artifact: for every section, its name, its
// parameters joined by ", " and one blank line.
func (t *Template) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for _, section := range t.order {
		n, err := fmt.Fprintf(bw, "%s\n%s\n\n", section, strings.Join(t.params[section], ParameterSeparator))
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// Bytes returns the canonical artifact
func (t *Template) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = t.WriteTo(&buf)
	return buf.Bytes()
}

// Parse reads a canonical artifact back into a template. Only section and
// parameter names survive the round trip.
func Parse(r io.Reader, name string) (*Template, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	t := New(name)
	for i := 0; i < len(lines); i += 3 {
		rest := lines[i:]
		switch {
		case len(rest) == 1:
			if rest[0] != "" {
				return nil, fmt.Errorf("%w: section %q has no parameter line", ErrMalformedTemplate, rest[0])
			}
			continue
		case len(rest) >= 3 && rest[2] != "":
			return nil, fmt.Errorf("%w: line %d should be blank", ErrMalformedTemplate, i+3)
		}
		t.Add(rest[0], splitParameters(rest[1])...)
	}
	return t, nil
}

// ParseFile reads an artifact from disk. An empty name is derived from the file name.
func ParseFile(path, name string) (*Template, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer file.Close()

	if name == "" {
		name = NameFromFile(path)
	}
	return Parse(file, name)
}

// GlobalFileName is the artifact file name of the global template
const GlobalFileName = "global_master_template.txt"

// FileName returns the artifact file name for a template
func FileName(name string) string {
	if name == GlobalName {
		return GlobalFileName
	}
	return GroupFileName(name)
}

// GroupFileName returns the artifact file name of a group template, even for
// a group that happens to be called like the global template.
func GroupFileName(name string) string {
	return "master_template_" + name + ".txt"
}

// NameFromFile is the inverse of FileName; other file names map to their base name
func NameFromFile(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".txt")
	if base == "global_master_template" {
		return GlobalName
	}
	return strings.TrimPrefix(base, "master_template_")
}

func splitParameters(line string) []string {
	if line == "" {
		return nil
	}
	return strings.Split(line, ParameterSeparator)
}
