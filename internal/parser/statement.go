// Package parser splits SQL scripts into individually executable statements.
//
// The primary implementation is Scanner, a byte-level state machine that
// understands quoted literals, comments, Postgres dollar-quoted bodies, the
// MySQL client DELIMITER directive and SQLite trigger bodies. LineParser is a
// regex-driven fallback that only looks at line endings.
package parser

import (
	"fmt"
	"io"
	"strings"

	"sqlferry/internal/dialect"
)

// Kind is the coarse classification of a statement
type Kind string

const (
	KindDDL         Kind = "DDL"
	KindDML         Kind = "DML"
	KindSet         Kind = "SET"
	KindTransaction Kind = "TRANSACTION"
	KindOther       Kind = "OTHER"
)

// Statement is one executable SQL unit
type Statement struct {
	Text string
	Kind Kind
	// Start and End are byte offsets of Text within the parsed input
	Start int
	End   int
	Line  int
	// Terminator is the delimiter that ended the statement; empty when the
	// statement ran to end of input
	Terminator string
	// InTaggedBlock is set when the statement carries a dollar-quoted body,
	// a trigger body, or was delimited by a non-default delimiter
	InTaggedBlock bool
	Dialect       dialect.Dialect
}

// String returns the statement text
func (s Statement) String() string {
	return s.Text
}

// Parser splits SQL text into statements
type Parser interface {
	Parse(text string) ([]Statement, error)
	ParseReader(r io.Reader) ([]Statement, error)
}

// New returns the state-machine parser for the dialect
func New(d dialect.Dialect) *Scanner {
	return &Scanner{dialect: d, chunkSize: defaultChunkSize}
}

// Parser implementations selectable by configuration
const (
	ModeScanner = "scanner"
	ModeLine    = "line"
)

// ForMode returns the parser named by mode. An empty mode is the scanner.
func ForMode(mode string, d dialect.Dialect) (Parser, error) {
	switch strings.ToLower(mode) {
	case "", ModeScanner:
		return New(d), nil
	case ModeLine:
		return NewLineParser(d), nil
	default:
		return nil, fmt.Errorf("unknown parser %q (valid: %s, %s)", mode, ModeScanner, ModeLine)
	}
}

// Render joins statements back into a script that parses to the same
// sequence. A MySQL DELIMITER directive is emitted whenever the terminator
// changes.
func Render(stmts []Statement, d dialect.Dialect) string {
	var b strings.Builder
	current := ";"
	for _, stmt := range stmts {
		term := stmt.Terminator
		if term == "" {
			term = current
		}
		if d == dialect.MySQL && term != current {
			b.WriteString("DELIMITER ")
			b.WriteString(term)
			b.WriteString("\n")
			current = term
		}
		b.WriteString(stmt.Text)
		b.WriteString(term)
		b.WriteString("\n")
	}
	if d == dialect.MySQL && current != ";" {
		b.WriteString("DELIMITER ;\n")
	}
	return b.String()
}
