package schema

import (
	"fmt"
	"strings"

	"sqlferry/internal/dialect"
)

// IndexType classifies an index
type IndexType string

const (
	IndexPrimary  IndexType = "primary"
	IndexUnique   IndexType = "unique"
	IndexPlain    IndexType = "plain"
	IndexFullText IndexType = "fulltext"
	IndexSpatial  IndexType = "spatial"
)

// IndexColumn is one key part of an index
type IndexColumn struct {
	Name string `json:"name" yaml:"name"`
	// Length is a MySQL prefix length, 0 when the whole value is indexed
	Length    int    `json:"length,omitempty" yaml:"length,omitempty"`
	Direction string `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// Index represents a database index
type Index struct {
	Name    string        `json:"name" yaml:"name"`
	Table   string        `json:"table" yaml:"table"`
	Type    IndexType     `json:"type" yaml:"type"`
	Columns []IndexColumn `json:"columns,omitempty" yaml:"columns,omitempty"`
	// Expression is the key expression of a functional index
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
	// Where is the predicate of a partial index
	Where  string `json:"where,omitempty" yaml:"where,omitempty"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
}

// NewIndex creates an index over plain column names
func NewIndex(name, table string, typ IndexType, columns ...string) *Index {
	idx := &Index{Name: name, Table: table, Type: typ}
	for _, c := range columns {
		idx.Columns = append(idx.Columns, IndexColumn{Name: c})
	}
	return idx
}

// ColumnNames returns the key column names in order
func (i *Index) ColumnNames() []string {
	names := make([]string, len(i.Columns))
	for n, c := range i.Columns {
		names[n] = c.Name
	}
	return names
}

// IsUnique reports whether the index enforces uniqueness
func (i *Index) IsUnique() bool {
	return i.Type == IndexUnique || i.Type == IndexPrimary
}

// Validate validates the Index structure
func (i *Index) Validate() error {
	if i.Name == "" && i.Type != IndexPrimary {
		return fmt.Errorf("index name cannot be empty")
	}
	if i.Table == "" {
		return fmt.Errorf("index table name cannot be empty")
	}
	switch i.Type {
	case IndexPrimary, IndexUnique, IndexPlain, IndexFullText, IndexSpatial:
	default:
		return fmt.Errorf("invalid index type: %s", i.Type)
	}
	if len(i.Columns) == 0 && i.Expression == "" {
		return fmt.Errorf("index must have at least one column or an expression")
	}
	for _, c := range i.Columns {
		if c.Name == "" {
			return fmt.Errorf("index column name cannot be empty")
		}
		if c.Length < 0 {
			return fmt.Errorf("index column %s has negative prefix length", c.Name)
		}
		switch strings.ToUpper(c.Direction) {
		case "", "ASC", "DESC":
		default:
			return fmt.Errorf("invalid direction %q for index column %s", c.Direction, c.Name)
		}
	}
	return nil
}

var indexMethods = map[dialect.Dialect]map[string]bool{
	dialect.MySQL:    {"BTREE": true, "HASH": true},
	dialect.Postgres: {"BTREE": true, "HASH": true, "GIST": true, "GIN": true, "BRIN": true, "SPGIST": true},
}

// SupportsMethod reports whether target understands the given storage method
func SupportsMethod(target dialect.Dialect, method string) bool {
	return indexMethods[target][strings.ToUpper(method)]
}

// ValidateFor lists the features of the index that target cannot express.
// origin is the dialect the index was defined in. The index is not modified.
func (i *Index) ValidateFor(target, origin dialect.Dialect) []Warning {
	var warnings []Warning
	entity := fmt.Sprintf("index %s.%s", i.Table, i.Name)
	add := func(f Feature, format string, args ...any) {
		warnings = append(warnings, Warning{Entity: entity, Feature: f, Message: fmt.Sprintf(format, args...), Dropped: true})
	}

	switch i.Type {
	case IndexFullText:
		if target != origin && (target == dialect.SQLite || target == dialect.Postgres) {
			add(FeatureFullTextIndex, "full-text indexes are not supported on %s", target)
		}
	case IndexSpatial:
		if target == dialect.SQLite {
			add(FeatureSpatialIndex, "spatial indexes are not supported on %s", target)
		}
	}

	if i.Where != "" && !target.SupportsPartialIndexes() {
		add(FeaturePartialIndex, "partial index predicate %q is not supported on %s", i.Where, target)
	}
	if i.Expression != "" && target == dialect.MySQL && origin != dialect.MySQL {
		add(FeatureExpressionIndex, "expression index %q is not supported on %s", i.Expression, target)
	}
	if i.Method != "" && !SupportsMethod(target, i.Method) {
		add(FeatureIndexMethod, "index method %s is not supported on %s", strings.ToUpper(i.Method), target)
	}
	if target != dialect.MySQL {
		for _, c := range i.Columns {
			if c.Length > 0 {
				add(FeaturePrefixLength, "prefix length %d on column %s is not supported on %s", c.Length, c.Name, target)
			}
		}
	}
	return warnings
}
