package parser

import (
	"regexp"
	"strings"
)

var (
	executablePrefix = regexp.MustCompile(`^/\*[!+]\d*\s*`)
	leadingNoise     = regexp.MustCompile(`^[\s(]+`)

	sequenceSetPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)^SELECT\s+(pg_catalog\.)?setval\s*\(`),
		regexp.MustCompile(`(?is)^ALTER\s+SEQUENCE\s+.*\bRESTART\b`),
		regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+\S+\s+AUTO_INCREMENT\s*=`),
		regexp.MustCompile(`(?is)^(UPDATE|DELETE\s+FROM|INSERT\s+(OR\s+\w+\s+)?INTO)\s+["'` + "`" + `]?sqlite_sequence\b`),
	}

	transactionControl = regexp.MustCompile(`(?is)^(BEGIN(\s+(DEFERRED|IMMEDIATE|EXCLUSIVE))?(\s+(TRANSACTION|WORK))?|START\s+TRANSACTION.*|COMMIT(\s+(TRANSACTION|WORK))?|END(\s+(TRANSACTION|WORK))?|ROLLBACK(\s+(TRANSACTION|WORK))?)$`)

	ident           = "(?:`[^`]+`|\"[^\"]+\"|\\[[^\\]]+\\]|[\\w$]+)"
	qualifiedIdent  = ident + `(?:\s*\.\s*` + ident + `)*`
	tableNameTarget = []*regexp.Regexp{
		regexp.MustCompile(`(?is)^INSERT\s+(?:OR\s+\w+\s+|IGNORE\s+|LOW_PRIORITY\s+|DELAYED\s+|HIGH_PRIORITY\s+)*INTO\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^REPLACE\s+(?:LOW_PRIORITY\s+|DELAYED\s+)?INTO\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^UPDATE\s+(?:ONLY\s+|LOW_PRIORITY\s+|IGNORE\s+)*(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^DELETE\s+FROM\s+(?:ONLY\s+)?(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^CREATE\s+(?:OR\s+REPLACE\s+)?(?:TEMP\s+|TEMPORARY\s+|UNLOGGED\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^CREATE\s+(?:UNIQUE\s+|FULLTEXT\s+|SPATIAL\s+)?INDEX\s+.*?\bON\s+(?:ONLY\s+)?(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^CREATE\s+(?:TEMP\s+|TEMPORARY\s+)?TRIGGER\s+.*?\bON\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+(?:ONLY\s+|IF\s+EXISTS\s+)*(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^TRUNCATE\s+(?:TABLE\s+)?(?:ONLY\s+)?(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^LOCK\s+TABLES\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^COPY\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?is)^SELECT\s+(?:pg_catalog\.)?setval\s*\(\s*'(` + qualifiedIdent + `)'`),
	}
)

var kindByKeyword = map[string]Kind{
	"CREATE":    KindDDL,
	"ALTER":     KindDDL,
	"DROP":      KindDDL,
	"TRUNCATE":  KindDDL,
	"RENAME":    KindDDL,
	"COMMENT":   KindDDL,
	"GRANT":     KindDDL,
	"REVOKE":    KindDDL,
	"INSERT":    KindDML,
	"UPDATE":    KindDML,
	"DELETE":    KindDML,
	"REPLACE":   KindDML,
	"SELECT":    KindDML,
	"WITH":      KindDML,
	"COPY":      KindDML,
	"MERGE":     KindDML,
	"VALUES":    KindDML,
	"SET":       KindSet,
	"PRAGMA":    KindSet,
	"USE":       KindSet,
	"BEGIN":     KindTransaction,
	"START":     KindTransaction,
	"COMMIT":    KindTransaction,
	"END":       KindTransaction,
	"ROLLBACK":  KindTransaction,
	"SAVEPOINT": KindTransaction,
	"RELEASE":   KindTransaction,
}

// Head strips a leading MySQL executable-comment marker and opening
// parentheses so the first keyword is at position 0
func Head(text string) string {
	text = strings.TrimSpace(text)
	text = executablePrefix.ReplaceAllString(text, "")
	text = leadingNoise.ReplaceAllString(text, "")
	return strings.TrimSuffix(strings.TrimSpace(text), "*/")
}

// FirstKeyword returns the upper-cased leading keyword of text
func FirstKeyword(text string) string {
	head := Head(text)
	end := strings.IndexFunc(head, func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	})
	if end < 0 {
		end = len(head)
	}
	return strings.ToUpper(head[:end])
}

// Classify returns the statement kind of text
func Classify(text string) Kind {
	if kind, ok := kindByKeyword[FirstKeyword(text)]; ok {
		return kind
	}
	return KindOther
}

// IsSequenceSet reports whether stmt restores a sequence or auto-increment
// counter
func IsSequenceSet(stmt Statement) bool {
	head := strings.TrimSpace(Head(stmt.Text))
	for _, re := range sequenceSetPatterns {
		if re.MatchString(head) {
			return true
		}
	}
	return false
}

// IsTransactionControl reports whether stmt opens or closes a transaction.
// Savepoint statements are not included.
func IsTransactionControl(stmt Statement) bool {
	if stmt.Kind != KindTransaction {
		return false
	}
	return transactionControl.MatchString(strings.TrimSpace(Head(stmt.Text)))
}

// TableName returns the unqualified, unquoted table a statement targets, or
// "" when it cannot tell. For setval calls the sequence name is returned.
func TableName(stmt Statement) string {
	head := Head(stmt.Text)
	for _, re := range tableNameTarget {
		if m := re.FindStringSubmatch(head); m != nil {
			return unqualify(m[1])
		}
	}
	return ""
}

func unqualify(name string) string {
	parts := splitQualified(name)
	last := strings.TrimSpace(parts[len(parts)-1])
	return unquoteIdent(last)
}

func splitQualified(name string) []string {
	var (
		parts []string
		cur   strings.Builder
		quote rune
	)
	for _, r := range name {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '`' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '[':
			quote = ']'
			cur.WriteRune(r)
		case r == '.':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}

func unquoteIdent(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '`' && s[len(s)-1] == '`',
			s[0] == '"' && s[len(s)-1] == '"',
			s[0] == '[' && s[len(s)-1] == ']':
			return s[1 : len(s)-1]
		}
	}
	return s
}
