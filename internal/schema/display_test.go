package schema

import (
	"strings"
	"testing"

	"sqlferry/internal/dialect"
)

func TestDisplayFormatter_FormatSchema(t *testing.T) {
	formatter := NewDisplayFormatter(true, false)

	empty := NewSchema("app", dialect.SQLite)
	if got := formatter.FormatSchema(empty); !strings.Contains(got, "has no tables") {
		t.Errorf("FormatSchema() on empty schema = %q", got)
	}

	s := NewSchema("app", dialect.MySQL)
	table := NewTable("orders")
	_ = table.AddColumn(NewColumn("id", "int", false))
	_ = table.AddColumn(NewColumn("user_id", "int", true))
	_ = table.SetPrimaryKey("id")
	_ = table.AddIndex(NewIndex("idx_user", "orders", IndexPlain, "user_id"))
	_ = table.AddConstraint(&Constraint{
		Name: "fk_user", Kind: ConstraintForeignKey, Columns: []string{"user_id"},
		ReferencedTable: "users", ReferencedColumns: []string{"id"}, OnDelete: "CASCADE",
	})
	_ = s.AddTable(table)

	output := formatter.FormatSchema(s)
	for _, want := range []string{
		"Schema app (mysql)",
		"orders (2 columns)",
		"id int NOT NULL",
		"PRIMARY KEY (id)",
		"INDEX idx_user (user_id)",
		"FOREIGN KEY fk_user (user_id) REFERENCES users (id) ON DELETE CASCADE",
		"1 tables, 2 columns, 1 indexes, 1 foreign keys, 0 checks",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("FormatSchema() missing %q in:\n%s", want, output)
		}
	}
}

func TestDisplayFormatter_FormatWarnings(t *testing.T) {
	formatter := NewDisplayFormatter(false, false)

	if got := formatter.FormatWarnings(nil); !strings.Contains(got, "without loss") {
		t.Errorf("FormatWarnings(nil) = %q", got)
	}

	output := formatter.FormatWarnings([]Warning{
		{Entity: "column t.a", Feature: FeatureJSON, Message: "JSON stored as TEXT"},
		{Entity: "index t.ft", Feature: FeatureFullTextIndex, Message: "full-text indexes are not supported", Dropped: true},
	})
	dropped := strings.Index(output, "dropped index t.ft")
	changed := strings.Index(output, "changed column t.a")
	if dropped < 0 || changed < 0 || dropped > changed {
		t.Errorf("FormatWarnings() should list dropped constructs first:\n%s", output)
	}
}

func TestDisplayFormatter_Colorize(t *testing.T) {
	tests := []struct {
		name      string
		useColors bool
		color     string
		expected  string
	}{
		{"colors disabled", false, "red", "text"},
		{"red", true, "red", "\033[31mtext\033[0m"},
		{"unknown color", true, "purple", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := NewDisplayFormatter(false, tt.useColors)
			if got := formatter.Colorize("text", tt.color); got != tt.expected {
				t.Errorf("Colorize() = %q, expected %q", got, tt.expected)
			}
		})
	}
}
