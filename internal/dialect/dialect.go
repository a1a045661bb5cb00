// Package dialect names the three supported database families and the small
// set of rules that differ between them outside of SQL parsing.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect identifies a database family
type Dialect string

const (
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// All returns every supported dialect in a stable order
func All() []Dialect {
	return []Dialect{MySQL, SQLite, Postgres}
}

// Parse resolves a dialect name, accepting common aliases
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported dialect: %q", name)
}

// String implements fmt.Stringer
func (d Dialect) String() string {
	return string(d)
}

// Valid reports whether d is one of the supported dialects
func (d Dialect) Valid() bool {
	switch d {
	case MySQL, SQLite, Postgres:
		return true
	}
	return false
}

// DriverName returns the database/sql driver registered for the dialect
func (d Dialect) DriverName() string {
	switch d {
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite3"
	case Postgres:
		return "pgx"
	}
	return ""
}

// QuoteIdent quotes an identifier for the dialect, doubling any embedded quote characters
func (d Dialect) QuoteIdent(name string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString renders a string literal
func (d Dialect) QuoteString(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if d == MySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + s + "'"
}

// SupportsTransactionalDDL reports whether DDL statements can be rolled back
func (d Dialect) SupportsTransactionalDDL() bool {
	return d == Postgres || d == SQLite
}

// SupportsPartialIndexes reports whether CREATE INDEX accepts a WHERE predicate
func (d Dialect) SupportsPartialIndexes() bool {
	return d == Postgres || d == SQLite
}

// SupportsIndexMethods reports whether CREATE INDEX accepts a USING method clause
func (d Dialect) SupportsIndexMethods() bool {
	return d == Postgres || d == MySQL
}

// DefaultPort returns the default TCP port, or 0 for file-based dialects
func (d Dialect) DefaultPort() int {
	switch d {
	case MySQL:
		return 3306
	case Postgres:
		return 5432
	}
	return 0
}
