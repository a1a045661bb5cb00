package schema

import (
	"fmt"
	"strings"
)

// DisplayFormatter renders schema graphs and translation warnings for terminals
type DisplayFormatter struct {
	ShowDetails bool
	UseColors   bool
}

// NewDisplayFormatter creates a new DisplayFormatter instance
func NewDisplayFormatter(showDetails, useColors bool) *DisplayFormatter {
	return &DisplayFormatter{
		ShowDetails: showDetails,
		UseColors:   useColors,
	}
}

// Stats counts the objects of a schema graph
type Stats struct {
	Tables      int
	Columns     int
	Indexes     int
	ForeignKeys int
	Checks      int
}

// GetSchemaStats returns statistics about a schema
func GetSchemaStats(s *Schema) Stats {
	var stats Stats
	stats.Tables = len(s.Tables)
	for _, table := range s.Tables {
		stats.Columns += len(table.Columns)
		stats.Indexes += len(table.Indexes)
		for _, c := range table.Constraints {
			switch c.Kind {
			case ConstraintForeignKey:
				stats.ForeignKeys++
			case ConstraintCheck:
				stats.Checks++
			}
		}
	}
	return stats
}

// FormatSchema formats a schema graph for display
func (df *DisplayFormatter) FormatSchema(s *Schema) string {
	if len(s.Tables) == 0 {
		return df.colorize(fmt.Sprintf("Schema %s (%s) has no tables", s.Name, s.Dialect), "yellow")
	}

	var output strings.Builder
	output.WriteString(df.colorize(fmt.Sprintf("Schema %s (%s)", s.Name, s.Dialect), "bold"))
	output.WriteString("\n")
	output.WriteString(strings.Repeat("=", 50))
	output.WriteString("\n")

	for _, table := range s.Tables {
		output.WriteString(fmt.Sprintf("%s (%d columns)\n", df.colorize(table.Name, "blue"), len(table.Columns)))
		if df.ShowDetails {
			output.WriteString(df.formatTableDetails(table, "    "))
		}
	}

	output.WriteString("\n")
	output.WriteString(df.FormatCompactSummary(s))
	output.WriteString("\n")
	return output.String()
}

// formatTableDetails formats detailed table information
func (df *DisplayFormatter) formatTableDetails(table *Table, indent string) string {
	var output strings.Builder

	for _, col := range table.Columns {
		output.WriteString(fmt.Sprintf("%s%s %s", indent, col.Name, col.RawType))
		if !col.Nullable {
			output.WriteString(" NOT NULL")
		}
		if col.Default != nil {
			output.WriteString(fmt.Sprintf(" DEFAULT %s", *col.Default))
		}
		if col.AutoIncrement {
			output.WriteString(" auto_increment")
		}
		output.WriteString("\n")
	}
	if len(table.PrimaryKey) > 0 {
		output.WriteString(fmt.Sprintf("%sPRIMARY KEY (%s)\n", indent, strings.Join(table.PrimaryKey, ", ")))
	}
	for _, idx := range table.Indexes {
		output.WriteString(indent + df.formatIndex(idx) + "\n")
	}
	for _, c := range table.Constraints {
		output.WriteString(indent + df.formatConstraint(c) + "\n")
	}
	return output.String()
}

func (df *DisplayFormatter) formatIndex(index *Index) string {
	var parts []string
	if index.IsUnique() {
		parts = append(parts, "UNIQUE")
	}
	switch index.Type {
	case IndexFullText:
		parts = append(parts, "FULLTEXT")
	case IndexSpatial:
		parts = append(parts, "SPATIAL")
	}
	parts = append(parts, "INDEX", index.Name)
	if index.Expression != "" {
		parts = append(parts, "("+index.Expression+")")
	} else {
		parts = append(parts, "("+strings.Join(index.ColumnNames(), ", ")+")")
	}
	if index.Method != "" {
		parts = append(parts, "USING", index.Method)
	}
	if index.Where != "" {
		parts = append(parts, "WHERE", index.Where)
	}
	return strings.Join(parts, " ")
}

func (df *DisplayFormatter) formatConstraint(constraint *Constraint) string {
	switch constraint.Kind {
	case ConstraintForeignKey:
		s := fmt.Sprintf("FOREIGN KEY %s (%s) REFERENCES %s (%s)", constraint.Name,
			strings.Join(constraint.Columns, ", "), constraint.ReferencedTable,
			strings.Join(constraint.ReferencedColumns, ", "))
		if constraint.OnDelete != "" {
			s += " ON DELETE " + constraint.OnDelete
		}
		if constraint.OnUpdate != "" {
			s += " ON UPDATE " + constraint.OnUpdate
		}
		return s
	case ConstraintCheck:
		return fmt.Sprintf("CHECK %s (%s)", constraint.Name, constraint.CheckExpression)
	}
	return fmt.Sprintf("%s %s (%s)", constraint.Kind, constraint.Name, strings.Join(constraint.Columns, ", "))
}

// FormatWarnings formats translation warnings, dropped constructs first
func (df *DisplayFormatter) FormatWarnings(warnings []Warning) string {
	if len(warnings) == 0 {
		return df.colorize("✓ Schema translated without loss", "green")
	}

	var output strings.Builder
	output.WriteString(df.colorize(fmt.Sprintf("Translation warnings (%d)", len(warnings)), "bold"))
	output.WriteString("\n")
	for _, w := range warnings {
		if w.Dropped {
			output.WriteString(fmt.Sprintf("  %s %s\n", df.colorize("✗ dropped", "red"), w.String()))
		}
	}
	for _, w := range warnings {
		if !w.Dropped {
			output.WriteString(fmt.Sprintf("  %s %s\n", df.colorize("⚠ changed", "yellow"), w.String()))
		}
	}
	return output.String()
}

// Colorize applies color formatting to text if colors are enabled (public method)
func (df *DisplayFormatter) Colorize(text, color string) string {
	return df.colorize(text, color)
}

// colorize applies color formatting to text if colors are enabled
func (df *DisplayFormatter) colorize(text, color string) string {
	if !df.UseColors {
		return text
	}

	colorCodes := map[string]string{
		"red":    "\033[31m",
		"green":  "\033[32m",
		"yellow": "\033[33m",
		"blue":   "\033[34m",
		"bold":   "\033[1m",
		"reset":  "\033[0m",
	}

	if code, exists := colorCodes[color]; exists {
		return fmt.Sprintf("%s%s%s", code, text, colorCodes["reset"])
	}

	return text
}

// FormatCompactSummary returns a compact one-line summary
func (df *DisplayFormatter) FormatCompactSummary(s *Schema) string {
	stats := GetSchemaStats(s)
	return fmt.Sprintf("%d tables, %d columns, %d indexes, %d foreign keys, %d checks",
		stats.Tables, stats.Columns, stats.Indexes, stats.ForeignKeys, stats.Checks)
}
