package parser

import (
	"bytes"
	"io"
	"strings"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

const defaultChunkSize = 64 * 1024

type scanState int

const (
	stateNormal scanState = iota
	stateSingleQuote
	stateDoubleQuote
	stateBacktick
	stateBracket
	stateDollar
	stateLineComment
	stateBlockComment
	stateHint
)

func (s scanState) String() string {
	switch s {
	case stateSingleQuote:
		return "single_quote"
	case stateDoubleQuote:
		return "double_quote"
	case stateBacktick:
		return "backtick"
	case stateBracket:
		return "bracket"
	case stateDollar:
		return "dollar_quote"
	case stateLineComment:
		return "line_comment"
	case stateBlockComment:
		return "block_comment"
	case stateHint:
		return "optimizer_hint"
	default:
		return "normal"
	}
}

// Scanner is the character-scanning statement parser
type Scanner struct {
	dialect   dialect.Dialect
	chunkSize int
}

// Parse splits text into statements
func (s *Scanner) Parse(text string) ([]Statement, error) {
	var out []Statement
	m := newMachine(s.dialect, func(stmt Statement) error {
		out = append(out, stmt)
		return nil
	})
	if err := m.feed([]byte(text)); err != nil {
		return nil, err
	}
	if err := m.finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseReader reads r to completion and splits it into statements
func (s *Scanner) ParseReader(r io.Reader) ([]Statement, error) {
	var out []Statement
	err := s.Stream(r, func(stmt Statement) error {
		out = append(out, stmt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream reads r in fixed-size chunks and calls fn for each statement as soon
// as its terminator has been seen. Returning an error from fn stops the scan.
func (s *Scanner) Stream(r io.Reader, fn func(Statement) error) error {
	size := s.chunkSize
	if size <= 0 {
		size = defaultChunkSize
	}

	m := newMachine(s.dialect, fn)
	chunk := make([]byte, size)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if ferr := m.feed(chunk[:n]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return apperrors.New(apperrors.KindFileCorrupt, "failed to read SQL input", err)
		}
	}
	return m.finish()
}

// machine holds scan state across chunks. Every offset stored as abs* is an
// absolute byte offset in the whole input; buf only holds bytes from base on.
type machine struct {
	dialect dialect.Dialect
	emit    func(Statement) error

	buf   []byte
	base  int
	pos   int
	final bool
	line  int
	last  byte

	state     scanState
	delimiter string

	absStart  int
	startLine int

	quoteChar     byte
	quoteEscapes  bool
	absQuoteStart int
	quoteLine     int
	tag           string
	commentDepth  int

	words      []string
	trigger    bool
	blockDepth int
	tagged     bool
	lastWord   string
	absWordEnd int
}

func newMachine(d dialect.Dialect, emit func(Statement) error) *machine {
	return &machine{
		dialect:   d,
		emit:      emit,
		line:      1,
		last:      '\n',
		delimiter: ";",
		absStart:  -1,
	}
}

func (m *machine) feed(data []byte) error {
	m.buf = append(m.buf, data...)
	if err := m.run(); err != nil {
		return err
	}
	m.compact()
	return nil
}

func (m *machine) finish() error {
	m.final = true
	if err := m.run(); err != nil {
		return err
	}

	switch m.state {
	case stateSingleQuote, stateDoubleQuote, stateBacktick, stateBracket:
		return m.parseError("unterminated quoted string", m.absQuoteStart, m.quoteLine)
	case stateDollar:
		return m.parseError("unterminated dollar-quoted block $"+m.tag+"$", m.absQuoteStart, m.quoteLine)
	case stateBlockComment:
		return m.parseError("unterminated block comment", m.absQuoteStart, m.quoteLine)
	case stateHint:
		return m.parseError("unterminated optimizer hint", m.absQuoteStart, m.quoteLine)
	}

	if m.absStart >= 0 {
		return m.flush(m.pos, "")
	}
	return nil
}

func (m *machine) parseError(msg string, offset, line int) error {
	return apperrors.NewParseError(msg, offset, line).
		WithContext("state", m.state.String()).
		WithContext("dialect", string(m.dialect))
}

// compact drops bytes that can no longer be part of a statement
func (m *machine) compact() {
	keep := m.pos
	if m.absStart >= 0 {
		keep = m.absStart - m.base
	}
	if keep <= 0 {
		return
	}
	m.last = m.buf[keep-1]
	m.buf = append(m.buf[:0], m.buf[keep:]...)
	m.base += keep
	m.pos -= keep
}

func (m *machine) run() error {
	for m.pos < len(m.buf) {
		var (
			progressed bool
			err        error
		)
		switch m.state {
		case stateNormal:
			progressed, err = m.stepNormal()
		case stateSingleQuote, stateDoubleQuote, stateBacktick:
			progressed = m.stepQuoted()
		case stateBracket:
			progressed = m.stepBracket()
		case stateDollar:
			progressed = m.stepDollar()
		case stateLineComment:
			progressed = m.stepLineComment()
		case stateBlockComment:
			progressed = m.stepBlockComment()
		case stateHint:
			progressed = m.stepHint()
		}
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
	return nil
}

func (m *machine) advance(n int) {
	m.line += bytes.Count(m.buf[m.pos:m.pos+n], []byte{'\n'})
	m.pos += n
}

func (m *machine) prev() byte {
	if m.pos > 0 {
		return m.buf[m.pos-1]
	}
	return m.last
}

// peek returns the byte at pos+i. ok is false when the byte is not buffered
// yet; at end of input a missing byte is reported as 0 with ok=true.
func (m *machine) peek(i int) (byte, bool) {
	if m.pos+i < len(m.buf) {
		return m.buf[m.pos+i], true
	}
	return 0, m.final
}

// hasPrefix reports whether the unread input starts with s. decided is false
// when more input is needed to tell.
func (m *machine) hasPrefix(s string) (match, decided bool) {
	rest := m.buf[m.pos:]
	if len(rest) >= len(s) {
		return bytes.Equal(rest[:len(s)], []byte(s)), true
	}
	if m.final || !bytes.Equal(rest, []byte(s)[:len(rest)]) {
		return false, true
	}
	return false, false
}

func (m *machine) markContent() {
	if m.absStart < 0 {
		m.absStart = m.base + m.pos
		m.startLine = m.line
	}
}

func (m *machine) flush(end int, terminator string) error {
	start := m.absStart - m.base
	text := strings.TrimRightFunc(string(m.buf[start:end]), isSpaceRune)
	stmt := Statement{
		Text:          text,
		Kind:          Classify(text),
		Start:         m.absStart,
		End:           m.absStart + len(text),
		Line:          m.startLine,
		Terminator:    terminator,
		InTaggedBlock: m.tagged || m.trigger || (terminator != "" && terminator != ";"),
		Dialect:       m.dialect,
	}

	m.absStart = -1
	m.words = m.words[:0]
	m.trigger = false
	m.blockDepth = 0
	m.tagged = false

	if text == "" {
		return nil
	}
	return m.emit(stmt)
}

func (m *machine) stepNormal() (bool, error) {
	c := m.buf[m.pos]

	if m.blockDepth == 0 {
		match, decided := m.hasPrefix(m.delimiter)
		if !decided {
			return false, nil
		}
		if match {
			if m.absStart >= 0 {
				if err := m.flush(m.pos, m.delimiter); err != nil {
					return false, err
				}
			}
			m.advance(len(m.delimiter))
			return true, nil
		}
	}

	switch {
	case isSpace(c):
		m.advance(1)
		return true, nil

	case c == '-':
		next, ok := m.peek(1)
		if !ok {
			return false, nil
		}
		if next == '-' {
			if m.dialect != dialect.MySQL {
				m.state = stateLineComment
				m.advance(2)
				return true, nil
			}
			third, ok := m.peek(2)
			if !ok {
				return false, nil
			}
			// MySQL only treats "-- " as a comment
			if third == 0 || isSpace(third) {
				m.state = stateLineComment
				m.advance(2)
				return true, nil
			}
		}

	case c == '#' && m.dialect == dialect.MySQL:
		m.state = stateLineComment
		m.advance(1)
		return true, nil

	case c == '/':
		next, ok := m.peek(1)
		if !ok {
			return false, nil
		}
		if next == '*' {
			if m.dialect == dialect.MySQL {
				third, ok := m.peek(2)
				if !ok {
					return false, nil
				}
				// executable comments are statement text and the client still
				// splits inside them; optimizer hints are opaque up to */
				switch third {
				case '!':
					m.markContent()
					m.advance(3)
					return true, nil
				case '+':
					m.markContent()
					m.state = stateHint
					m.absQuoteStart = m.base + m.pos
					m.quoteLine = m.line
					m.advance(3)
					return true, nil
				}
			}
			m.state = stateBlockComment
			m.commentDepth = 1
			m.absQuoteStart = m.base + m.pos
			m.quoteLine = m.line
			m.advance(2)
			return true, nil
		}

	case c == '\'':
		escapes := m.dialect == dialect.MySQL ||
			(m.dialect == dialect.Postgres && m.absWordEnd == m.base+m.pos && strings.EqualFold(m.lastWord, "E"))
		m.enterQuote(stateSingleQuote, c, escapes)
		return true, nil

	case c == '"':
		m.enterQuote(stateDoubleQuote, c, m.dialect == dialect.MySQL)
		return true, nil

	case c == '`' && m.dialect != dialect.Postgres:
		m.enterQuote(stateBacktick, c, false)
		return true, nil

	case c == '[' && m.dialect == dialect.SQLite:
		m.enterQuote(stateBracket, ']', false)
		return true, nil

	case c == '$' && m.dialect == dialect.Postgres:
		return m.tryDollarTag(), nil

	case isWordStart(c) && !isWordChar(m.prev(), m.dialect):
		return m.readWord()
	}

	m.markContent()
	m.advance(1)
	return true, nil
}

func (m *machine) enterQuote(state scanState, closer byte, escapes bool) {
	m.markContent()
	m.state = state
	m.quoteChar = closer
	m.quoteEscapes = escapes
	m.absQuoteStart = m.base + m.pos
	m.quoteLine = m.line
	m.advance(1)
}

func (m *machine) stepQuoted() bool {
	rest := m.buf[m.pos:]
	stops := string(m.quoteChar)
	if m.quoteEscapes {
		stops += `\`
	}
	i := bytes.IndexAny(rest, stops)
	if i < 0 {
		m.advance(len(rest))
		return true
	}
	if i > 0 {
		m.advance(i)
		return true
	}

	if rest[0] == '\\' {
		if len(rest) < 2 {
			if !m.final {
				return false
			}
			m.advance(1)
			return true
		}
		m.advance(2)
		return true
	}

	next, ok := m.peek(1)
	if !ok {
		return false
	}
	if next == m.quoteChar {
		m.advance(2)
		return true
	}
	m.advance(1)
	m.state = stateNormal
	return true
}

func (m *machine) stepBracket() bool {
	i := bytes.IndexByte(m.buf[m.pos:], ']')
	if i < 0 {
		m.advance(len(m.buf) - m.pos)
		return true
	}
	m.advance(i + 1)
	m.state = stateNormal
	return true
}

// tryDollarTag recognises $tag$ and $$ openers
func (m *machine) tryDollarTag() bool {
	j := m.pos + 1
	for j < len(m.buf) {
		c := m.buf[j]
		if c == '$' {
			break
		}
		if j == m.pos+1 && !isWordStart(c) {
			break
		}
		if !isIdentChar(c) {
			break
		}
		j++
	}
	if j >= len(m.buf) && !m.final {
		return false
	}

	m.markContent()
	if j < len(m.buf) && m.buf[j] == '$' {
		m.tag = string(m.buf[m.pos+1 : j])
		m.state = stateDollar
		m.tagged = true
		m.absQuoteStart = m.base + m.pos
		m.quoteLine = m.line
		m.advance(j - m.pos + 1)
		return true
	}

	// positional parameter or identifier character
	m.advance(1)
	return true
}

func (m *machine) stepDollar() bool {
	closer := "$" + m.tag + "$"
	rest := m.buf[m.pos:]
	i := bytes.IndexByte(rest, '$')
	if i < 0 {
		m.advance(len(rest))
		return true
	}
	if i > 0 {
		m.advance(i)
		return true
	}

	match, decided := m.hasPrefix(closer)
	if !decided {
		return false
	}
	if match {
		m.advance(len(closer))
		m.state = stateNormal
		return true
	}
	m.advance(1)
	return true
}

func (m *machine) stepLineComment() bool {
	i := bytes.IndexByte(m.buf[m.pos:], '\n')
	if i < 0 {
		m.advance(len(m.buf) - m.pos)
		return true
	}
	m.advance(i + 1)
	m.state = stateNormal
	return true
}

func (m *machine) stepBlockComment() bool {
	rest := m.buf[m.pos:]
	i := bytes.IndexAny(rest, "*/")
	if i < 0 {
		m.advance(len(rest))
		return true
	}
	if i > 0 {
		m.advance(i)
		return true
	}

	next, ok := m.peek(1)
	if !ok {
		return false
	}
	switch {
	case rest[0] == '*' && next == '/':
		m.commentDepth--
		m.advance(2)
		if m.commentDepth == 0 {
			m.state = stateNormal
		}
	case rest[0] == '/' && next == '*' && m.dialect == dialect.Postgres:
		// Postgres block comments nest
		m.commentDepth++
		m.advance(2)
	default:
		m.advance(1)
	}
	return true
}

func (m *machine) stepHint() bool {
	rest := m.buf[m.pos:]
	i := bytes.IndexByte(rest, '*')
	if i < 0 {
		m.advance(len(rest))
		return true
	}
	if i > 0 {
		m.advance(i)
		return true
	}
	next, ok := m.peek(1)
	if !ok {
		return false
	}
	if next == '/' {
		m.advance(2)
		m.state = stateNormal
		return true
	}
	m.advance(1)
	return true
}

func (m *machine) readWord() (bool, error) {
	j := m.pos
	for j < len(m.buf) && isWordChar(m.buf[j], m.dialect) {
		j++
	}
	if j >= len(m.buf) && !m.final {
		return false, nil
	}

	word := string(m.buf[m.pos:j])
	upper := strings.ToUpper(word)

	if upper == "DELIMITER" && m.dialect == dialect.MySQL && m.absStart < 0 {
		if j >= len(m.buf) || m.buf[j] == ' ' || m.buf[j] == '\t' || m.buf[j] == '\n' || m.buf[j] == '\r' {
			return m.readDelimiterDirective(j)
		}
	}

	m.markContent()
	if len(m.words) < 4 {
		m.words = append(m.words, upper)
		if m.dialect == dialect.SQLite && isTriggerHead(m.words) {
			m.trigger = true
		}
	}
	if m.trigger {
		switch upper {
		case "BEGIN", "CASE":
			m.blockDepth++
		case "END":
			if m.blockDepth > 0 {
				m.blockDepth--
			}
		}
	}

	m.lastWord = word
	m.advance(j - m.pos)
	m.absWordEnd = m.base + m.pos
	return true, nil
}

// readDelimiterDirective consumes a "DELIMITER <token>" line. from points just
// past the keyword.
func (m *machine) readDelimiterDirective(from int) (bool, error) {
	nl := bytes.IndexByte(m.buf[from:], '\n')
	if nl < 0 && !m.final {
		return false, nil
	}
	end := len(m.buf)
	if nl >= 0 {
		end = from + nl
	}

	fields := strings.Fields(string(m.buf[from:end]))
	if len(fields) == 0 {
		return false, m.parseError("DELIMITER must be followed by a delimiter string", m.base+m.pos, m.line)
	}
	m.delimiter = fields[0]
	m.advance(end - m.pos)
	return true, nil
}

// isTriggerHead matches CREATE [TEMP|TEMPORARY] TRIGGER
func isTriggerHead(words []string) bool {
	switch len(words) {
	case 2:
		return words[0] == "CREATE" && words[1] == "TRIGGER"
	case 3:
		return words[0] == "CREATE" && (words[1] == "TEMP" || words[1] == "TEMPORARY") && words[2] == "TRIGGER"
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isSpaceRune(r rune) bool {
	return r < 0x80 && isSpace(byte(r))
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9')
}

// isWordChar reports whether c continues an identifier. Postgres allows $
// inside identifiers; MySQL does too, but a custom delimiter such as $$ must
// still be recognised after a keyword.
func isWordChar(c byte, d dialect.Dialect) bool {
	if c == '$' {
		return d == dialect.Postgres
	}
	return isIdentChar(c)
}
