package schema

import (
	"fmt"
	"strings"

	"sqlferry/internal/dialect"
)

// Schema is an ordered, dialect-agnostic table graph
type Schema struct {
	Name    string          `json:"name" yaml:"name"`
	Dialect dialect.Dialect `json:"dialect" yaml:"dialect"`
	Tables  []*Table        `json:"tables" yaml:"tables"`
}

// Table represents a database table
type Table struct {
	Name        string        `json:"name" yaml:"name"`
	Columns     []*Column     `json:"columns" yaml:"columns"`
	PrimaryKey  []string      `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Indexes     []*Index      `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Constraints []*Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	// Original holds the CREATE statement the table was built from, if any
	Original string `json:"original,omitempty" yaml:"original,omitempty"`
}

// Column represents a table column
type Column struct {
	Name          string      `json:"name" yaml:"name"`
	Type          LogicalType `json:"type" yaml:"type"`
	RawType       string      `json:"raw_type" yaml:"raw_type"`
	Nullable      bool        `json:"nullable" yaml:"nullable"`
	Default       *string     `json:"default,omitempty" yaml:"default,omitempty"`
	AutoIncrement bool        `json:"auto_increment,omitempty" yaml:"auto_increment,omitempty"`
	Unsigned      bool        `json:"unsigned,omitempty" yaml:"unsigned,omitempty"`
	EnumValues    []string    `json:"enum_values,omitempty" yaml:"enum_values,omitempty"`
	Position      int         `json:"position" yaml:"position"`
}

// ConstraintKind represents the type of database constraint
type ConstraintKind string

const (
	ConstraintForeignKey ConstraintKind = "FOREIGN_KEY"
	ConstraintUnique     ConstraintKind = "UNIQUE"
	ConstraintCheck      ConstraintKind = "CHECK"
)

// Constraint represents a database constraint
type Constraint struct {
	Name              string         `json:"name" yaml:"name"`
	Table             string         `json:"table" yaml:"table"`
	Kind              ConstraintKind `json:"kind" yaml:"kind"`
	Columns           []string       `json:"columns,omitempty" yaml:"columns,omitempty"`
	ReferencedTable   string         `json:"referenced_table,omitempty" yaml:"referenced_table,omitempty"`
	ReferencedColumns []string       `json:"referenced_columns,omitempty" yaml:"referenced_columns,omitempty"`
	OnUpdate          string         `json:"on_update,omitempty" yaml:"on_update,omitempty"`
	OnDelete          string         `json:"on_delete,omitempty" yaml:"on_delete,omitempty"`
	CheckExpression   string         `json:"check_expression,omitempty" yaml:"check_expression,omitempty"`
}

// NewSchema creates a new empty schema
func NewSchema(name string, d dialect.Dialect) *Schema {
	return &Schema{Name: name, Dialect: d}
}

// NewTable creates a new table with the given name
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// NewColumn creates a column from a raw dialect type, deriving the logical type
func NewColumn(name, rawType string, nullable bool) *Column {
	logical, unsigned := ParseType(rawType)
	return &Column{
		Name:       name,
		Type:       logical,
		RawType:    rawType,
		Nullable:   nullable,
		Unsigned:   unsigned,
		EnumValues: parseEnumValues(rawType),
	}
}

// Table returns the named table or nil. Lookup is case-insensitive.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// AddTable appends a table, rejecting duplicates
func (s *Schema) AddTable(table *Table) error {
	if table == nil {
		return fmt.Errorf("table cannot be nil")
	}
	if s.Table(table.Name) != nil {
		return fmt.Errorf("table %s already exists in schema", table.Name)
	}
	s.Tables = append(s.Tables, table)
	return nil
}

// TableNames returns table names in graph order
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Validate validates the Schema structure
func (s *Schema) Validate() error {
	if !s.Dialect.Valid() {
		return fmt.Errorf("schema dialect %q is not supported", s.Dialect)
	}
	seen := make(map[string]bool, len(s.Tables))
	for _, table := range s.Tables {
		key := strings.ToLower(table.Name)
		if seen[key] {
			return fmt.Errorf("duplicate table %s", table.Name)
		}
		seen[key] = true
		if err := table.Validate(); err != nil {
			return fmt.Errorf("invalid table %s: %w", table.Name, err)
		}
	}
	return nil
}

// Column returns the named column or nil. Lookup is case-insensitive.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// HasColumn reports whether the table has the named column
func (t *Table) HasColumn(name string) bool {
	return t.Column(name) != nil
}

// ColumnNames returns column names in declaration order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// AddColumn appends a column. Column names are unique per table.
func (t *Table) AddColumn(column *Column) error {
	if column == nil {
		return fmt.Errorf("column cannot be nil")
	}
	if err := column.Validate(); err != nil {
		return err
	}
	if t.HasColumn(column.Name) {
		return fmt.Errorf("column %s already exists in table %s", column.Name, t.Name)
	}
	column.Position = len(t.Columns) + 1
	t.Columns = append(t.Columns, column)
	return nil
}

// SetPrimaryKey records the primary key columns, which must already exist
func (t *Table) SetPrimaryKey(columns ...string) error {
	for _, name := range columns {
		if !t.HasColumn(name) {
			return fmt.Errorf("primary key column %s does not exist in table %s", name, t.Name)
		}
	}
	t.PrimaryKey = append([]string(nil), columns...)
	return nil
}

// AddIndex attaches an index. Every listed column must exist on the table;
// expression indexes are exempt.
func (t *Table) AddIndex(index *Index) error {
	if index == nil {
		return fmt.Errorf("index cannot be nil")
	}
	if index.Table == "" {
		index.Table = t.Name
	}
	if !strings.EqualFold(index.Table, t.Name) {
		return fmt.Errorf("index %s belongs to table %s, not %s", index.Name, index.Table, t.Name)
	}
	if err := index.Validate(); err != nil {
		return err
	}
	if index.Expression == "" {
		for _, col := range index.Columns {
			if !t.HasColumn(col.Name) {
				return fmt.Errorf("index %s references unknown column %s on table %s", index.Name, col.Name, t.Name)
			}
		}
	}
	for _, existing := range t.Indexes {
		if strings.EqualFold(existing.Name, index.Name) {
			return fmt.Errorf("index %s already exists on table %s", index.Name, t.Name)
		}
	}
	t.Indexes = append(t.Indexes, index)
	return nil
}

// AddConstraint attaches a constraint after checking its local columns
func (t *Table) AddConstraint(constraint *Constraint) error {
	if constraint == nil {
		return fmt.Errorf("constraint cannot be nil")
	}
	if constraint.Table == "" {
		constraint.Table = t.Name
	}
	if err := constraint.Validate(); err != nil {
		return err
	}
	for _, col := range constraint.Columns {
		if !t.HasColumn(col) {
			return fmt.Errorf("constraint %s references unknown column %s on table %s", constraint.Name, col, t.Name)
		}
	}
	t.Constraints = append(t.Constraints, constraint)
	return nil
}

// ForeignKeys returns the table's foreign key constraints
func (t *Table) ForeignKeys() []*Constraint {
	var out []*Constraint
	for _, c := range t.Constraints {
		if c.Kind == ConstraintForeignKey {
			out = append(out, c)
		}
	}
	return out
}

// Validate validates the Table structure
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table must have at least one column")
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, column := range t.Columns {
		if err := column.Validate(); err != nil {
			return fmt.Errorf("invalid column %s: %w", column.Name, err)
		}
		key := strings.ToLower(column.Name)
		if seen[key] {
			return fmt.Errorf("duplicate column %s", column.Name)
		}
		seen[key] = true
	}

	for _, name := range t.PrimaryKey {
		if !seen[strings.ToLower(name)] {
			return fmt.Errorf("primary key column %s does not exist", name)
		}
	}

	for _, index := range t.Indexes {
		if err := index.Validate(); err != nil {
			return fmt.Errorf("invalid index %s: %w", index.Name, err)
		}
		if index.Expression != "" {
			continue
		}
		for _, col := range index.Columns {
			if !seen[strings.ToLower(col.Name)] {
				return fmt.Errorf("index %s references unknown column %s", index.Name, col.Name)
			}
		}
	}

	for _, constraint := range t.Constraints {
		if err := constraint.Validate(); err != nil {
			return fmt.Errorf("invalid constraint %s: %w", constraint.Name, err)
		}
	}

	return nil
}

// Validate validates the Column structure
func (c *Column) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("column name cannot be empty")
	}
	if c.RawType == "" && c.Type == "" {
		return fmt.Errorf("column %s must have a type", c.Name)
	}
	return nil
}

// Validate validates the Constraint structure
func (c *Constraint) Validate() error {
	if c.Table == "" {
		return fmt.Errorf("constraint table name cannot be empty")
	}

	switch c.Kind {
	case ConstraintForeignKey:
		if len(c.Columns) == 0 {
			return fmt.Errorf("foreign key constraint must have at least one column")
		}
		if c.ReferencedTable == "" {
			return fmt.Errorf("foreign key constraint must have a referenced table")
		}
		if len(c.ReferencedColumns) != len(c.Columns) {
			return fmt.Errorf("foreign key column count %d does not match referenced column count %d",
				len(c.Columns), len(c.ReferencedColumns))
		}
		for _, action := range []string{c.OnDelete, c.OnUpdate} {
			if action != "" && !validReferentialAction(action) {
				return fmt.Errorf("invalid referential action %q", action)
			}
		}
	case ConstraintUnique:
		if len(c.Columns) == 0 {
			return fmt.Errorf("unique constraint must have at least one column")
		}
	case ConstraintCheck:
		if c.CheckExpression == "" {
			return fmt.Errorf("check constraint must have an expression")
		}
	default:
		return fmt.Errorf("invalid constraint kind: %s", c.Kind)
	}
	return nil
}

func validReferentialAction(action string) bool {
	switch strings.ToUpper(action) {
	case "CASCADE", "SET NULL", "SET DEFAULT", "RESTRICT", "NO ACTION":
		return true
	}
	return false
}

// Clone returns a deep copy of the schema
func (s *Schema) Clone() *Schema {
	out := &Schema{Name: s.Name, Dialect: s.Dialect, Tables: make([]*Table, len(s.Tables))}
	for i, t := range s.Tables {
		out.Tables[i] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	out := &Table{
		Name:       t.Name,
		PrimaryKey: append([]string(nil), t.PrimaryKey...),
		Original:   t.Original,
	}
	for _, c := range t.Columns {
		cc := *c
		if c.Default != nil {
			d := *c.Default
			cc.Default = &d
		}
		cc.EnumValues = append([]string(nil), c.EnumValues...)
		out.Columns = append(out.Columns, &cc)
	}
	for _, idx := range t.Indexes {
		ic := *idx
		ic.Columns = append([]IndexColumn(nil), idx.Columns...)
		out.Indexes = append(out.Indexes, &ic)
	}
	for _, con := range t.Constraints {
		cc := *con
		cc.Columns = append([]string(nil), con.Columns...)
		cc.ReferencedColumns = append([]string(nil), con.ReferencedColumns...)
		out.Constraints = append(out.Constraints, &cc)
	}
	return out
}
