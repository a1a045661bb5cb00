package schema

import (
	"strings"

	"sqlferry/internal/dialect"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokIdent
	tokString
	tokGroup
	tokPunct
)

// token is one lexical unit of a DDL statement. Groups hold the text
// between a pair of balanced parentheses.
type token struct {
	kind tokenKind
	text string
}

func (t token) is(words ...string) bool {
	if t.kind != tokWord {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

// name returns the identifier value of a word or quoted identifier
func (t token) name() string {
	return t.text
}

func (t token) isName() bool {
	return t.kind == tokWord || t.kind == tokIdent
}

func tokenize(s string, d dialect.Dialect) []token {
	var out []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(s) && s[i+1] == '-', c == '#' && d == dialect.MySQL:
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return out
			}
			i += end + 4
		case c == '\'':
			j := scanQuoted(s, i, '\'', d == dialect.MySQL)
			out = append(out, token{kind: tokString, text: s[i:j]})
			i = j
		case c == '`' || c == '"' || (c == '[' && d == dialect.SQLite):
			closer := c
			if c == '[' {
				closer = ']'
			}
			j := scanQuoted(s, i, closer, false)
			inner := s[i+1 : max(i+1, j-1)]
			if closer != ']' {
				inner = strings.ReplaceAll(inner, string([]byte{closer, closer}), string(closer))
			}
			out = append(out, token{kind: tokIdent, text: inner})
			i = j
		case c == '(':
			j := matchParen(s, i, d)
			out = append(out, token{kind: tokGroup, text: strings.TrimSpace(s[i+1 : max(i+1, j-1)])})
			i = j
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			out = append(out, token{kind: tokWord, text: s[i:j]})
			i = j
		default:
			if c == ':' && i+1 < len(s) && s[i+1] == ':' {
				out = append(out, token{kind: tokPunct, text: "::"})
				i += 2
				continue
			}
			out = append(out, token{kind: tokPunct, text: string(c)})
			i++
		}
	}
	return out
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}

// scanQuoted returns the index just past the closing quote that matches the
// opening quote at s[start]
func scanQuoted(s string, start int, closer byte, backslash bool) int {
	i := start + 1
	for i < len(s) {
		switch {
		case backslash && s[i] == '\\':
			i += 2
		case s[i] == closer:
			if closer != ']' && i+1 < len(s) && s[i+1] == closer {
				i += 2
				continue
			}
			return i + 1
		default:
			i++
		}
	}
	return len(s)
}

// matchParen returns the index just past the parenthesis closing s[start]
func matchParen(s string, start int, d dialect.Dialect) int {
	depth := 0
	i := start
	for i < len(s) {
		switch c := s[i]; c {
		case '(':
			depth++
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return i
			}
		case '\'':
			i = scanQuoted(s, i, '\'', d == dialect.MySQL)
		case '`', '"':
			i = scanQuoted(s, i, c, false)
		default:
			i++
		}
	}
	return len(s)
}

// splitTopLevel splits s on commas outside parentheses and quotes
func splitTopLevel(s string, d dialect.Dialect) []string {
	var parts []string
	start, i := 0, 0
	for i < len(s) {
		switch c := s[i]; c {
		case '(':
			i = matchParen(s, i, d)
		case '\'':
			i = scanQuoted(s, i, '\'', d == dialect.MySQL)
		case '`', '"':
			i = scanQuoted(s, i, c, false)
		case ',':
			parts = append(parts, strings.TrimSpace(s[start:i]))
			i++
			start = i
		default:
			i++
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// renderTokens joins tokens back into SQL text in a normalised spacing
func renderTokens(toks []token, d dialect.Dialect) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 && needsSpace(toks[i-1], t) {
			b.WriteByte(' ')
		}
		switch t.kind {
		case tokGroup:
			b.WriteString("(" + t.text + ")")
		case tokIdent:
			b.WriteString(d.QuoteIdent(t.text))
		default:
			b.WriteString(t.text)
		}
	}
	return b.String()
}

func needsSpace(prev, cur token) bool {
	switch {
	case cur.kind == tokGroup && prev.kind == tokWord:
		return false
	case cur.kind == tokPunct && (cur.text == "::" || cur.text == "." || cur.text == "[" || cur.text == "]" || cur.text == ","):
		return false
	case prev.kind == tokPunct && (prev.text == "::" || prev.text == "." || prev.text == "[" || prev.text == "-" || prev.text == "+"):
		return false
	}
	return true
}

// qualifiedName consumes schema.table at toks[i] and returns the last part
// and the index after it
func qualifiedName(toks []token, i int) (string, int) {
	if i >= len(toks) || !toks[i].isName() {
		return "", i
	}
	name := toks[i].name()
	i++
	for i+1 < len(toks) && toks[i].kind == tokPunct && toks[i].text == "." && toks[i+1].isName() {
		name = toks[i+1].name()
		i += 2
	}
	return name, i
}
