package restore

import (
	"fmt"
	"regexp"
	"strings"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/parser"
)

type denyRule struct {
	reason  string
	pattern *regexp.Regexp
	// deny reports a match; nil means any pattern match denies
	deny func(head string) bool
}

var (
	whereClause = regexp.MustCompile(`(?i)\bWHERE\b`)
	// sqlite .dump clears the counter table before refilling it
	sqliteSequence = regexp.MustCompile(`(?i)^DELETE\s+FROM\s+["'` + "`" + `]?sqlite_sequence\b`)

	denyRules = []denyRule{
		{reason: "drops a database", pattern: regexp.MustCompile(`(?is)^DROP\s+(DATABASE|SCHEMA)\b`)},
		{
			reason:  "deletes every row of a table",
			pattern: regexp.MustCompile(`(?is)^DELETE\b`),
			deny:    func(head string) bool { return !whereClause.MatchString(head) && !sqliteSequence.MatchString(head) },
		},
		{reason: "reads a server file", pattern: regexp.MustCompile(`(?i)\bLOAD_FILE\s*\(`)},
		{reason: "writes a server file", pattern: regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b`)},
		{reason: "loads a server file", pattern: regexp.MustCompile(`(?is)\bLOAD\s+DATA\b.*\bINFILE\b`)},
		{reason: "reads a server file", pattern: regexp.MustCompile(`(?i)\bpg_read_(binary_)?file\s*\(`)},
		{reason: "writes a server file", pattern: regexp.MustCompile(`(?i)\bpg_write_file\b`)},
		{reason: "accesses large objects on the server file system", pattern: regexp.MustCompile(`(?i)\blo_(import|export)\s*\(`)},
		{reason: "copies to or from a server file or program", pattern: regexp.MustCompile(`(?is)^COPY\b.*\b(FROM|TO)\s+(''|PROGRAM\b)`)},
		{reason: "attaches another database file", pattern: regexp.MustCompile(`(?is)^ATTACH\b`)},
		{reason: "loads a native extension", pattern: regexp.MustCompile(`(?i)\bload_extension\s*\(`)},
		{reason: "reads a file", pattern: regexp.MustCompile(`(?i)\breadfile\s*\(`)},
		{reason: "writes a file", pattern: regexp.MustCompile(`(?i)\bwritefile\s*\(`)},
	}
)

// ValidateStatement checks a statement against the deny list. The returned
// error has kind validation_failed and names the rule that matched.
func ValidateStatement(stmt parser.Statement) error {
	head := strings.TrimSpace(parser.Head(blankLiterals(stmt.Text, stmt.Dialect == dialect.MySQL)))
	for _, rule := range denyRules {
		if !rule.pattern.MatchString(head) {
			continue
		}
		if rule.deny != nil && !rule.deny(head) {
			continue
		}
		return apperrors.New(apperrors.KindValidationFailed,
			fmt.Sprintf("statement rejected: %s", rule.reason), nil).
			WithContext("line", stmt.Line)
	}
	return nil
}

// blankLiterals empties single-quoted string literals so that their content
// cannot match a rule. The quotes themselves are kept.
func blankLiterals(text string, backslashEscapes bool) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if !inString {
			b.WriteByte(c)
			if c == '\'' {
				inString = true
			}
			continue
		}
		switch {
		case backslashEscapes && c == '\\' && i+1 < len(text):
			i++
		case c == '\'' && i+1 < len(text) && text[i+1] == '\'':
			i++
		case c == '\'':
			b.WriteByte(c)
			inString = false
		}
	}
	return b.String()
}
