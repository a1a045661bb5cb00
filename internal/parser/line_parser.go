package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

var (
	delimiterLine = regexp.MustCompile(`(?i)^\s*DELIMITER\s+(\S+)`)
	commentLine   = regexp.MustCompile(`^\s*(--|#|/\*.*\*/\s*$)`)
	dollarTag     = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)?\$`)
)

// LineParser is the degraded fallback: a statement ends at a line whose last
// non-blank characters are the active delimiter. It understands DELIMITER
// lines and dollar-quoted bodies spanning lines, but not terminators inside
// string literals or several statements on one line.
type LineParser struct {
	dialect dialect.Dialect
}

// NewLineParser returns the line-oriented fallback parser
func NewLineParser(d dialect.Dialect) *LineParser {
	return &LineParser{dialect: d}
}

// Parse splits text into statements
func (p *LineParser) Parse(text string) ([]Statement, error) {
	return p.ParseReader(strings.NewReader(text))
}

// ParseReader splits the content of r into statements
func (p *LineParser) ParseReader(r io.Reader) ([]Statement, error) {
	var (
		out       []Statement
		current   strings.Builder
		start     = -1
		startLine int
		offset    int
		lineNo    int
		delimiter = ";"
		openTag   string
		inBody    bool
		tagged    bool
	)

	flush := func(terminator string) {
		text := strings.TrimSpace(current.String())
		if text != "" {
			out = append(out, Statement{
				Text:          text,
				Kind:          Classify(text),
				Start:         start,
				End:           start + len(text),
				Line:          startLine,
				Terminator:    terminator,
				InTaggedBlock: tagged || (terminator != "" && terminator != ";"),
				Dialect:       p.dialect,
			})
		}
		current.Reset()
		start = -1
		tagged = false
	}

	reader := bufio.NewReader(r)
	for {
		raw, readErr := reader.ReadString('\n')
		if raw == "" && readErr != nil {
			if readErr != io.EOF {
				return nil, apperrors.New(apperrors.KindFileCorrupt, "failed to read SQL input", readErr)
			}
			break
		}
		lineNo++
		lineStart := offset
		offset += len(raw)
		line := strings.TrimRight(raw, "\r\n")

		if start < 0 && !inBody {
			if p.dialect == dialect.MySQL {
				if m := delimiterLine.FindStringSubmatch(line); m != nil {
					delimiter = m[1]
					continue
				}
			}
			if strings.TrimSpace(line) == "" || (commentLine.MatchString(line) && !strings.HasPrefix(strings.TrimSpace(line), "/*!")) {
				continue
			}
		}

		if p.dialect == dialect.Postgres {
			for _, m := range dollarTag.FindAllStringSubmatch(line, -1) {
				switch {
				case !inBody:
					inBody, openTag, tagged = true, m[1], true
				case m[1] == openTag:
					inBody = false
				}
			}
		}

		if start < 0 {
			start = lineStart + (len(line) - len(strings.TrimLeft(line, " \t")))
			startLine = lineNo
		}
		current.WriteString(line)
		current.WriteString("\n")

		trimmed := strings.TrimRight(line, " \t")
		if !inBody && strings.HasSuffix(trimmed, delimiter) {
			text := strings.TrimRight(current.String(), " \t\r\n")
			current.Reset()
			current.WriteString(strings.TrimSuffix(text, delimiter))
			flush(delimiter)
		}

		if readErr == io.EOF {
			break
		}
	}

	if inBody {
		return nil, apperrors.NewParseError("unterminated dollar-quoted block $"+openTag+"$", start, startLine).
			WithContext("dialect", string(p.dialect))
	}
	flush("")
	return out, nil
}
