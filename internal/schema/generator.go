package schema

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sqlferry/internal/dialect"
)

// Generator renders schema graphs and row data as SQL for one dialect
type Generator struct {
	dialect dialect.Dialect
}

// GenerateOptions controls GenerateSchema
type GenerateOptions struct {
	// DropExisting prefixes every CREATE TABLE with DROP TABLE IF EXISTS
	DropExisting bool
}

// NewGenerator creates a generator for d
func NewGenerator(d dialect.Dialect) *Generator {
	return &Generator{dialect: d}
}

// Dialect returns the generator's target dialect
func (g *Generator) Dialect() dialect.Dialect {
	return g.dialect
}

func (g *Generator) quote(name string) string {
	return g.dialect.QuoteIdent(name)
}

func (g *Generator) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = g.quote(n)
	}
	return strings.Join(quoted, ", ")
}

// GenerateSchema renders every table, index and foreign key of s in an
// order that can be replayed top to bottom
func (g *Generator) GenerateSchema(s *Schema, opts GenerateOptions) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	var stmts []string
	if opts.DropExisting {
		for i := len(s.Tables) - 1; i >= 0; i-- {
			stmts = append(stmts, g.GenerateDropTableSQL(s.Tables[i]))
		}
	}
	for _, table := range s.Tables {
		create, err := g.GenerateCreateTableSQL(table)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, create)
		for _, idx := range table.Indexes {
			if idx.Type == IndexPrimary {
				continue
			}
			sql, err := g.GenerateCreateIndexSQL(idx)
			if err != nil {
				return nil, fmt.Errorf("failed to generate index %s: %w", idx.Name, err)
			}
			stmts = append(stmts, sql)
		}
	}
	if g.dialect != dialect.SQLite {
		for _, table := range s.Tables {
			for _, fk := range table.ForeignKeys() {
				sql, err := g.GenerateAddForeignKeySQL(fk)
				if err != nil {
					return nil, err
				}
				stmts = append(stmts, sql)
			}
		}
	}
	return stmts, nil
}

// GenerateCreateTableSQL generates SQL for creating a table
func (g *Generator) GenerateCreateTableSQL(table *Table) (string, error) {
	if table == nil {
		return "", fmt.Errorf("table cannot be nil")
	}

	if err := table.Validate(); err != nil {
		return "", fmt.Errorf("invalid table: %w", err)
	}

	inlinePK := g.dialect == dialect.SQLite && len(table.PrimaryKey) == 1 &&
		table.Column(table.PrimaryKey[0]) != nil && table.Column(table.PrimaryKey[0]).AutoIncrement

	defs := make([]string, 0, len(table.Columns)+len(table.Constraints)+1)
	for _, column := range table.Columns {
		defs = append(defs, g.generateColumnDefinition(table, column, inlinePK))
	}

	if len(table.PrimaryKey) > 0 && !inlinePK {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", g.quoteList(table.PrimaryKey)))
	}

	for _, constraint := range table.Constraints {
		switch constraint.Kind {
		case ConstraintUnique:
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", g.quote(constraint.Name), g.quoteList(constraint.Columns)))
		case ConstraintCheck:
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", g.quote(constraint.Name), constraint.CheckExpression))
		case ConstraintForeignKey:
			if g.dialect == dialect.SQLite {
				defs = append(defs, "CONSTRAINT "+g.quote(constraint.Name)+" "+g.foreignKeyClause(constraint))
			}
		}
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", g.quote(table.Name)))
	builder.WriteString("  " + strings.Join(defs, ",\n  "))
	builder.WriteString("\n)")
	return builder.String(), nil
}

// GenerateDropTableSQL generates SQL for dropping a table
func (g *Generator) GenerateDropTableSQL(table *Table) string {
	if g.dialect == dialect.Postgres {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", g.quote(table.Name))
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", g.quote(table.Name))
}

// GenerateCreateIndexSQL generates SQL for creating an index
func (g *Generator) GenerateCreateIndexSQL(index *Index) (string, error) {
	if index == nil {
		return "", fmt.Errorf("index cannot be nil")
	}

	if err := index.Validate(); err != nil {
		return "", fmt.Errorf("invalid index: %w", err)
	}

	var builder strings.Builder
	switch {
	case index.Type == IndexUnique:
		builder.WriteString("CREATE UNIQUE INDEX ")
	case index.Type == IndexFullText && g.dialect == dialect.MySQL:
		builder.WriteString("CREATE FULLTEXT INDEX ")
	case index.Type == IndexSpatial && g.dialect == dialect.MySQL:
		builder.WriteString("CREATE SPATIAL INDEX ")
	default:
		builder.WriteString("CREATE INDEX ")
	}
	builder.WriteString(fmt.Sprintf("%s ON %s ", g.quote(index.Name), g.quote(index.Table)))

	if index.Method != "" && g.dialect == dialect.Postgres {
		builder.WriteString(fmt.Sprintf("USING %s ", strings.ToLower(index.Method)))
	} else if index.Type == IndexSpatial && g.dialect == dialect.Postgres {
		builder.WriteString("USING gist ")
	}

	if index.Expression != "" {
		if g.dialect == dialect.MySQL {
			builder.WriteString("((" + index.Expression + "))")
		} else {
			builder.WriteString("(" + index.Expression + ")")
		}
	} else {
		parts := make([]string, len(index.Columns))
		for i, col := range index.Columns {
			part := g.quote(col.Name)
			if col.Length > 0 && g.dialect == dialect.MySQL {
				part += fmt.Sprintf("(%d)", col.Length)
			}
			if col.Direction != "" {
				part += " " + strings.ToUpper(col.Direction)
			}
			parts[i] = part
		}
		builder.WriteString("(" + strings.Join(parts, ", ") + ")")
	}

	if index.Method != "" && g.dialect == dialect.MySQL && index.Type != IndexFullText && index.Type != IndexSpatial {
		builder.WriteString(fmt.Sprintf(" USING %s", strings.ToUpper(index.Method)))
	}
	if index.Where != "" && g.dialect.SupportsPartialIndexes() {
		builder.WriteString(" WHERE " + index.Where)
	}

	return builder.String(), nil
}

// GenerateAddForeignKeySQL generates SQL for adding a foreign key constraint
func (g *Generator) GenerateAddForeignKeySQL(constraint *Constraint) (string, error) {
	if constraint == nil {
		return "", fmt.Errorf("constraint cannot be nil")
	}
	if err := constraint.Validate(); err != nil {
		return "", fmt.Errorf("invalid constraint: %w", err)
	}
	if constraint.Kind != ConstraintForeignKey {
		return "", fmt.Errorf("constraint %s is not a foreign key", constraint.Name)
	}
	if g.dialect == dialect.SQLite {
		return "", fmt.Errorf("sqlite cannot add foreign keys to an existing table")
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
		g.quote(constraint.Table), g.quote(constraint.Name), g.foreignKeyClause(constraint)), nil
}

func (g *Generator) foreignKeyClause(constraint *Constraint) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
		g.quoteList(constraint.Columns),
		g.quote(constraint.ReferencedTable),
		g.quoteList(constraint.ReferencedColumns)))

	if constraint.OnUpdate != "" {
		builder.WriteString(fmt.Sprintf(" ON UPDATE %s", strings.ToUpper(constraint.OnUpdate)))
	}
	if constraint.OnDelete != "" {
		builder.WriteString(fmt.Sprintf(" ON DELETE %s", strings.ToUpper(constraint.OnDelete)))
	}
	return builder.String()
}

// generateColumnDefinition generates the SQL definition for a column
func (g *Generator) generateColumnDefinition(table *Table, column *Column, inlinePK bool) string {
	rawType := column.RawType
	if rawType == "" && g.dialect != dialect.SQLite {
		rawType = "TEXT"
	}

	var builder strings.Builder
	builder.WriteString(g.quote(column.Name))
	if rawType != "" {
		builder.WriteString(" " + rawType)
	}

	if inlinePK && strings.EqualFold(table.PrimaryKey[0], column.Name) {
		builder.WriteString(" PRIMARY KEY AUTOINCREMENT")
	}

	if column.AutoIncrement && g.dialect == dialect.Postgres && !serialTypes[BaseType(rawType)] {
		builder.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
	}

	if !column.Nullable {
		builder.WriteString(" NOT NULL")
	} else {
		builder.WriteString(" NULL")
	}

	if column.Default != nil {
		builder.WriteString(" DEFAULT " + *column.Default)
	}

	if column.AutoIncrement && g.dialect == dialect.MySQL {
		builder.WriteString(" AUTO_INCREMENT")
	}

	return builder.String()
}

// GenerateInsertSQL renders rows as one multi-row INSERT. Values are
// rendered as literals according to the column's logical type.
func (g *Generator) GenerateInsertSQL(table *Table, columns []string, rows [][]any) (string, error) {
	if table == nil {
		return "", fmt.Errorf("table cannot be nil")
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("no rows to insert into %s", table.Name)
	}

	cols := make([]*Column, len(columns))
	for i, name := range columns {
		cols[i] = table.Column(name)
	}

	tuples := make([]string, len(rows))
	for r, row := range rows {
		if len(row) != len(columns) {
			return "", fmt.Errorf("row %d of %s has %d values, expected %d", r, table.Name, len(row), len(columns))
		}
		values := make([]string, len(row))
		for i, v := range row {
			values[i] = g.Literal(v, cols[i])
		}
		tuples[r] = "(" + strings.Join(values, ", ") + ")"
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES\n%s",
		g.quote(table.Name), g.quoteList(columns), strings.Join(tuples, ",\n")), nil
}

// GenerateSequenceResetSQL renders the statement that moves table's
// auto-increment counter past value
func (g *Generator) GenerateSequenceResetSQL(table, column string, value int64) string {
	switch g.dialect {
	case dialect.Postgres:
		return fmt.Sprintf("SELECT pg_catalog.setval(pg_get_serial_sequence(%s, %s), %d, true)",
			g.dialect.QuoteString(g.quote(table)), g.dialect.QuoteString(column), value)
	case dialect.MySQL:
		return fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT=%d", g.quote(table), value+1)
	default:
		return fmt.Sprintf("UPDATE sqlite_sequence SET seq = %d WHERE name = %s", value, g.dialect.QuoteString(table))
	}
}

// Literal renders a driver value as an SQL literal. column may be nil.
func (g *Generator) Literal(v any, column *Column) string {
	if v == nil {
		return "NULL"
	}
	logical := TypeOther
	if column != nil {
		logical = column.Type
	}

	switch val := v.(type) {
	case bool:
		return g.boolLiteral(val)
	case int64:
		if logical == TypeBoolean {
			return g.boolLiteral(val != 0)
		}
		return strconv.FormatInt(val, 10)
	case int:
		return g.Literal(int64(val), column)
	case int32:
		return g.Literal(int64(val), column)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return g.dialect.QuoteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return g.Literal(float64(val), column)
	case time.Time:
		return g.dialect.QuoteString(val.Format("2006-01-02 15:04:05.999999"))
	case []byte:
		if logical == TypeBlob {
			return g.blobLiteral(val)
		}
		return g.Literal(string(val), column)
	case string:
		if logical == TypeBoolean {
			switch strings.ToLower(val) {
			case "1", "t", "true":
				return g.boolLiteral(true)
			case "0", "f", "false":
				return g.boolLiteral(false)
			}
		}
		return g.dialect.QuoteString(val)
	default:
		return g.dialect.QuoteString(fmt.Sprint(val))
	}
}

func (g *Generator) boolLiteral(b bool) string {
	if g.dialect == dialect.Postgres {
		if b {
			return "TRUE"
		}
		return "FALSE"
	}
	if b {
		return "1"
	}
	return "0"
}

func (g *Generator) blobLiteral(b []byte) string {
	if g.dialect == dialect.Postgres {
		return "'\\x" + hex.EncodeToString(b) + "'"
	}
	return "X'" + hex.EncodeToString(b) + "'"
}
