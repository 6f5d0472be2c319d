package dump

import "strings"

type parserState int

const (
	stateAwaitingSection parserState = iota
	stateParameterMode
	stateValueMode
)

// Parser is the section state machine. It consumes logical rows and builds a
// Document; a section is appended when the next header arrives or on Finish.
type Parser struct {
	opts    Options
	state   parserState
	open    bool
	current Section
	doc     Document
}

// NewParser creates a parser in the awaiting-section state
func NewParser(opts Options) *Parser {
	return &Parser{opts: opts.withDefaults()}
}

// Feed consumes one logical row
func (p *Parser) Feed(row Row) {
	compact := row.Compact()
	if len(compact) == 0 {
		p.doc.Stats.MalformedRows++
		return
	}
	p.doc.Stats.LogicalRows++

	if strings.HasPrefix(compact[0], p.opts.Sentinel) {
		p.startSection(compact)
		return
	}

	switch p.state {
	case stateParameterMode:
		p.current.Parameters = Dedupe(compact)
		p.state = stateValueMode
	case stateValueMode:
		p.current.Values = append(p.current.Values, row)
	default:
		p.doc.Stats.OrphanRows++
	}
}

func (p *Parser) startSection(cells []string) {
	p.finalize()

	header := cells[0]
	name, inline, hasInline := strings.Cut(header, p.opts.InlineSeparator)
	name = strings.TrimSpace(name)
	if name == p.opts.Sentinel {
		name = ""
	}
	if name == "" {
		p.doc.Stats.EmptySectionNames++
	}
	p.current = Section{Name: name}
	p.open = true

	if !hasInline {
		p.state = stateParameterMode
		return
	}

	params := make([]string, 0, len(cells))
	for _, part := range strings.Split(inline, p.opts.InlineSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			params = append(params, part)
		}
	}
	params = append(params, cells[1:]...)
	p.current.Parameters = Dedupe(params)
	p.state = stateValueMode
}

func (p *Parser) finalize() {
	if !p.open {
		return
	}
	if p.current.Parameters == nil {
		p.current.Parameters = []string{}
	}
	p.doc.Sections = append(p.doc.Sections, p.current)
	p.current = Section{}
	p.open = false
}

// Finish closes the open section and returns the document
func (p *Parser) Finish() *Document {
	p.finalize()
	p.state = stateAwaitingSection
	doc := p.doc
	p.doc = Document{}
	return &doc
}

// ParseRows runs normalized physical rows through the continuation merger and
// the section parser.
func ParseRows(rows [][]string, opts Options) *Document {
	opts = opts.withDefaults()
	b := newBuilder(opts)
	for _, raw := range rows {
		b.push(raw)
	}
	return b.finish()
}

// builder wires normalizer, merger and parser for one file.
type builder struct {
	merger *Merger
	parser *Parser
	stats  ParseStats
}

func newBuilder(opts Options) *builder {
	return &builder{
		merger: NewMerger(opts.Delimiter),
		parser: NewParser(opts),
	}
}

func (b *builder) push(raw []string) {
	b.stats.PhysicalRows++
	row, ok := NormalizeRow(raw)
	if !ok {
		b.stats.MalformedRows++
		return
	}
	if logical, ready := b.merger.Push(row); ready {
		b.parser.Feed(logical)
	}
}

func (b *builder) finish() *Document {
	if row, ok, unterminated := b.merger.Flush(); ok {
		if unterminated {
			b.stats.UnterminatedContinuation++
		}
		b.parser.Feed(row)
	}
	doc := b.parser.Finish()
	doc.Stats.PhysicalRows = b.stats.PhysicalRows
	doc.Stats.MalformedRows += b.stats.MalformedRows
	doc.Stats.UnterminatedContinuation = b.stats.UnterminatedContinuation
	doc.Stats.MergedContinuations = b.merger.Merged()
	return doc
}
