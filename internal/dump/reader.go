package dump

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseFile opens and parses one export file
func ParseFile(path string, opts Options) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer file.Close()

	return ParseReader(file, opts)
}

// ParseReader decodes r with the configured charset, splits it into records
// and runs them through the section state machine.
func ParseReader(r io.Reader, opts Options) (*Document, error) {
	opts = opts.withDefaults()

	src, err := decode(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	b := newBuilder(opts)
	scanner := newRecordScanner(src, opts)
	for {
		text, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if record, ok := readRecord(text, opts.Delimiter); ok {
			b.push(record)
		}
	}
	b.stats.PhysicalRows += scanner.dropped
	b.stats.MalformedRows += scanner.dropped

	return b.finish(), nil
}

// readRecord splits the text of one record into cells. Blank text is no record.
func readRecord(text string, delim rune) ([]string, bool) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	record, err := reader.Read()
	if err != nil {
		return nil, false
	}
	return record, true
}

// recordScanner splits decoded input into the text of CSV records. A quoted
// cell may span physical lines, but never past a section header or the end
// of input: the line that opened the quote is then dropped as malformed and
// the lines it swallowed are scanned again.
type recordScanner struct {
	src      *bufio.Reader
	delim    rune
	sentinel string
	queue    []string
	dropped  int
}

func newRecordScanner(r io.Reader, opts Options) *recordScanner {
	return &recordScanner{
		src:      bufio.NewReader(r),
		delim:    opts.Delimiter,
		sentinel: opts.Sentinel,
	}
}

// Next returns the text of the next record, or io.EOF
func (s *recordScanner) Next() (string, error) {
	for {
		first, err := s.line()
		if err != nil {
			return "", err
		}

		lines := []string{first}
		open := quoteOpen(first, s.delim, false)
		for open {
			next, err := s.line()
			if err != nil && err != io.EOF {
				return "", err
			}
			if err == io.EOF || s.isHeader(next) {
				requeue := append([]string(nil), lines[1:]...)
				if err == nil {
					requeue = append(requeue, next)
				}
				s.queue = append(requeue, s.queue...)
				s.dropped++
				break
			}
			lines = append(lines, next)
			open = quoteOpen(next, s.delim, true)
		}
		if !open {
			return strings.Join(lines, ""), nil
		}
	}
}

func (s *recordScanner) line() (string, error) {
	if len(s.queue) > 0 {
		l := s.queue[0]
		s.queue = s.queue[1:]
		return l, nil
	}
	l, err := s.src.ReadString('\n')
	if err == io.EOF && l != "" {
		return l, nil
	}
	return l, err
}

func (s *recordScanner) isHeader(line string) bool {
	line = strings.TrimLeft(line, " \t")
	line = strings.TrimPrefix(line, `"`)
	return strings.HasPrefix(line, s.sentinel)
}

// quoteOpen reports whether a quoted cell is still open at the end of line.
// Quotes follow encoding/csv with LazyQuotes: a quote opens a cell only at its
// start and closes it only before a delimiter or the end of the line.
func quoteOpen(line string, delim rune, quoted bool) bool {
	line = strings.TrimRight(line, "\r\n")
	fieldStart := !quoted
	for i := 0; i < len(line); {
		r, size := utf8.DecodeRuneInString(line[i:])
		i += size

		if quoted {
			if r != '"' {
				continue
			}
			if strings.HasPrefix(line[i:], `"`) {
				i++
				continue
			}
			next, _ := utf8.DecodeRuneInString(line[i:])
			if i == len(line) || next == delim {
				quoted = false
			}
			continue
		}

		switch {
		case r == delim:
			fieldStart = true
		case r == '"' && fieldStart:
			quoted = true
			fieldStart = false
		default:
			fieldStart = false
		}
	}
	return quoted
}

func decode(r io.Reader, encoding string) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name == "" || name == "utf-8" || name == "utf8" {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		data = bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidEncoding)
		}
		return bytes.NewReader(data), nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: unsupported charset %q", ErrInvalidEncoding, encoding)
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}
