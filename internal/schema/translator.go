package schema

import (
	"fmt"
	"regexp"
	"strings"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

// Feature names a dialect-dependent construct the translator knows how to map
type Feature string

const (
	FeatureAutoIncrement    Feature = "auto_increment"
	FeatureBigAutoIncrement Feature = "bigint_auto_increment"
	FeatureBoolean          Feature = "boolean"
	FeatureJSON             Feature = "json"
	FeatureDatetime         Feature = "datetime"
	FeatureBlob             Feature = "blob"
	FeatureText             Feature = "text"
	FeatureEnum             Feature = "enum"
	FeatureUnsigned         Feature = "unsigned"
	FeatureUUID             Feature = "uuid"

	FeatureFullTextIndex   Feature = "fulltext_index"
	FeatureSpatialIndex    Feature = "spatial_index"
	FeaturePartialIndex    Feature = "partial_index"
	FeatureExpressionIndex Feature = "expression_index"
	FeatureIndexMethod     Feature = "index_method"
	FeaturePrefixLength    Feature = "prefix_length"
	FeatureUnmappedType    Feature = "unmapped_type"
)

// Warning reports a construct that did not survive translation unchanged.
// Dropped is set when the construct was removed rather than approximated.
type Warning struct {
	Entity  string  `json:"entity" yaml:"entity"`
	Feature Feature `json:"feature" yaml:"feature"`
	Message string  `json:"message" yaml:"message"`
	Dropped bool    `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Entity, w.Message)
}

// MappingKey identifies one row of the type mapping table
type MappingKey struct {
	Feature Feature
	Source  dialect.Dialect
	Target  dialect.Dialect
}

// Mapping is the target rendering for a feature. A non-empty Note is
// reported as a warning because the rendering loses information.
type Mapping struct {
	Type string
	Note string
}

const (
	my = dialect.MySQL
	pg = dialect.Postgres
	sl = dialect.SQLite
)

// TypeMapping is the cross-dialect lookup table. Rows are only defined for
// source != target; a same-dialect translation keeps the raw type.
var TypeMapping = map[MappingKey]Mapping{
	{FeatureAutoIncrement, my, pg}: {Type: "SERIAL"},
	{FeatureAutoIncrement, my, sl}: {Type: "INTEGER"},
	{FeatureAutoIncrement, pg, my}: {Type: "INT"},
	{FeatureAutoIncrement, pg, sl}: {Type: "INTEGER"},
	{FeatureAutoIncrement, sl, my}: {Type: "INT"},
	{FeatureAutoIncrement, sl, pg}: {Type: "SERIAL"},

	{FeatureBigAutoIncrement, my, pg}: {Type: "BIGSERIAL"},
	{FeatureBigAutoIncrement, my, sl}: {Type: "INTEGER"},
	{FeatureBigAutoIncrement, pg, my}: {Type: "BIGINT"},
	{FeatureBigAutoIncrement, pg, sl}: {Type: "INTEGER"},
	{FeatureBigAutoIncrement, sl, my}: {Type: "BIGINT"},
	{FeatureBigAutoIncrement, sl, pg}: {Type: "BIGSERIAL"},

	{FeatureBoolean, my, pg}: {Type: "BOOLEAN"},
	{FeatureBoolean, my, sl}: {Type: "INTEGER"},
	{FeatureBoolean, pg, my}: {Type: "TINYINT(1)"},
	{FeatureBoolean, pg, sl}: {Type: "INTEGER"},
	{FeatureBoolean, sl, my}: {Type: "TINYINT(1)"},
	{FeatureBoolean, sl, pg}: {Type: "BOOLEAN"},

	{FeatureJSON, my, pg}: {Type: "JSONB"},
	{FeatureJSON, my, sl}: {Type: "TEXT", Note: "JSON stored as TEXT"},
	{FeatureJSON, pg, my}: {Type: "JSON"},
	{FeatureJSON, pg, sl}: {Type: "TEXT", Note: "JSON stored as TEXT"},
	{FeatureJSON, sl, my}: {Type: "JSON"},
	{FeatureJSON, sl, pg}: {Type: "JSONB"},

	{FeatureDatetime, my, pg}: {Type: "TIMESTAMP"},
	{FeatureDatetime, my, sl}: {Type: "DATETIME"},
	{FeatureDatetime, pg, my}: {Type: "DATETIME"},
	{FeatureDatetime, pg, sl}: {Type: "DATETIME"},
	{FeatureDatetime, sl, my}: {Type: "DATETIME"},
	{FeatureDatetime, sl, pg}: {Type: "TIMESTAMP"},

	{FeatureBlob, my, pg}: {Type: "BYTEA"},
	{FeatureBlob, my, sl}: {Type: "BLOB"},
	{FeatureBlob, pg, my}: {Type: "LONGBLOB"},
	{FeatureBlob, pg, sl}: {Type: "BLOB"},
	{FeatureBlob, sl, my}: {Type: "LONGBLOB"},
	{FeatureBlob, sl, pg}: {Type: "BYTEA"},

	{FeatureText, my, pg}: {Type: "TEXT"},
	{FeatureText, my, sl}: {Type: "TEXT"},
	{FeatureText, pg, my}: {Type: "LONGTEXT"},
	{FeatureText, pg, sl}: {Type: "TEXT"},
	{FeatureText, sl, my}: {Type: "LONGTEXT"},
	{FeatureText, sl, pg}: {Type: "TEXT"},

	{FeatureEnum, my, pg}: {Type: "TEXT", Note: "enum rendered as TEXT with a CHECK constraint"},
	{FeatureEnum, my, sl}: {Type: "TEXT", Note: "enum rendered as TEXT with a CHECK constraint"},
	{FeatureEnum, pg, my}: {Type: "ENUM"},
	{FeatureEnum, pg, sl}: {Type: "TEXT", Note: "enum rendered as TEXT with a CHECK constraint"},

	{FeatureUnsigned, my, pg}: {Note: "unsigned attribute dropped, integer widened"},
	{FeatureUnsigned, my, sl}: {Type: "INTEGER", Note: "unsigned attribute dropped"},

	{FeatureUUID, my, pg}: {Type: "UUID"},
	{FeatureUUID, my, sl}: {Type: "TEXT"},
	{FeatureUUID, pg, my}: {Type: "CHAR(36)"},
	{FeatureUUID, pg, sl}: {Type: "TEXT"},
	{FeatureUUID, sl, my}: {Type: "CHAR(36)"},
	{FeatureUUID, sl, pg}: {Type: "UUID"},
}

// LookupMapping returns the table row for (feature, source, target)
func LookupMapping(f Feature, source, target dialect.Dialect) (Mapping, bool) {
	m, ok := TypeMapping[MappingKey{Feature: f, Source: source, Target: target}]
	return m, ok
}

var widenUnsigned = map[LogicalType]string{
	TypeSmallInt: "INTEGER",
	TypeInteger:  "BIGINT",
	TypeBigInt:   "NUMERIC(20)",
}

// Translator converts a schema graph between dialects
type Translator struct {
	// Strict makes the first dropped feature fail the translation
	Strict bool
}

// NewTranslator creates a translator
func NewTranslator(strict bool) *Translator {
	return &Translator{Strict: strict}
}

// Translate returns a copy of graph expressed for target, plus every
// warning collected on the way. The input graph is not modified.
func (t *Translator) Translate(graph *Schema, source, target dialect.Dialect) (*Schema, []Warning, error) {
	if graph == nil {
		return nil, nil, apperrors.New(apperrors.KindValidationFailed, "schema graph cannot be nil", nil)
	}
	if !source.Valid() || !target.Valid() {
		return nil, nil, apperrors.New(apperrors.KindValidationFailed,
			fmt.Sprintf("unsupported translation %s -> %s", source, target), nil)
	}

	out := graph.Clone()
	out.Dialect = target
	if source == target {
		return out, nil, nil
	}

	var warnings []Warning
	for _, table := range out.Tables {
		table.Original = ""
		tw := t.translateTable(table, source, target)
		warnings = append(warnings, tw...)
		if t.Strict {
			for _, w := range tw {
				if w.Dropped {
					return nil, warnings, apperrors.New(apperrors.KindValidationFailed,
						fmt.Sprintf("%s cannot be translated to %s: %s", w.Entity, target, w.Message), nil).
						WithContext("entity", w.Entity).
						WithContext("feature", string(w.Feature)).
						WithContext("dialect", string(target))
				}
			}
		}
	}
	return out, warnings, nil
}

func (t *Translator) translateTable(table *Table, source, target dialect.Dialect) []Warning {
	var warnings []Warning

	for _, col := range table.Columns {
		warnings = append(warnings, translateColumn(table, col, source, target)...)
	}

	kept := table.Indexes[:0]
	for _, idx := range table.Indexes {
		iw := idx.ValidateFor(target, source)
		warnings = append(warnings, iw...)
		drop := false
		for _, w := range iw {
			switch w.Feature {
			case FeatureIndexMethod:
				idx.Method = ""
			case FeaturePrefixLength:
				for i := range idx.Columns {
					idx.Columns[i].Length = 0
				}
			default:
				drop = true
			}
		}
		if drop {
			continue
		}
		if target == dialect.MySQL {
			warnings = append(warnings, requirePrefixLengths(table, idx)...)
		}
		kept = append(kept, idx)
	}
	table.Indexes = kept

	return warnings
}

func translateColumn(table *Table, col *Column, source, target dialect.Dialect) []Warning {
	var warnings []Warning
	entity := fmt.Sprintf("column %s.%s", table.Name, col.Name)
	note := func(f Feature, msg string, dropped bool) {
		warnings = append(warnings, Warning{Entity: entity, Feature: f, Message: msg, Dropped: dropped})
	}

	feature, hasFeature := featureOf(col)
	mapped := false
	if hasFeature {
		if m, ok := LookupMapping(feature, source, target); ok {
			mapped = true
			col.RawType = m.Type
			if feature == FeatureEnum && target == dialect.MySQL {
				col.RawType = renderEnum(col.EnumValues)
			}
			if m.Note != "" {
				note(feature, m.Note, false)
			}
			if feature == FeatureEnum && target != dialect.MySQL && len(col.EnumValues) > 0 {
				table.Constraints = append(table.Constraints, enumCheck(table, col, target))
			}
		}
	}
	if !mapped {
		raw, ok := renderGeneric(col, target)
		if !ok {
			note(FeatureUnmappedType, fmt.Sprintf("type %s has no %s mapping and is passed through", col.RawType, target), false)
		}
		col.RawType = raw
	}

	if col.Unsigned && target != dialect.MySQL {
		if m, ok := LookupMapping(FeatureUnsigned, source, target); ok {
			if widened, ok := widenUnsigned[col.Type]; ok && !col.AutoIncrement {
				col.RawType = widened
				if m.Type != "" {
					col.RawType = m.Type
				}
			}
			note(FeatureUnsigned, m.Note, false)
		}
		col.Unsigned = false
	}

	if col.AutoIncrement && target == dialect.SQLite && !sqliteRowidAlias(table, col) {
		col.AutoIncrement = false
		note(FeatureAutoIncrement, "auto-increment requires a single INTEGER PRIMARY KEY on sqlite", true)
	}

	if col.Default != nil {
		translated, keep := translateDefault(*col.Default, col, target)
		if keep {
			col.Default = &translated
		} else {
			col.Default = nil
		}
	}
	return warnings
}

func featureOf(col *Column) (Feature, bool) {
	if col.AutoIncrement {
		switch col.Type {
		case TypeBigInt:
			return FeatureBigAutoIncrement, true
		case TypeSmallInt, TypeInteger:
			return FeatureAutoIncrement, true
		}
	}
	switch col.Type {
	case TypeBoolean:
		return FeatureBoolean, true
	case TypeJSON:
		return FeatureJSON, true
	case TypeDatetime, TypeTimestamp:
		return FeatureDatetime, true
	case TypeBlob:
		return FeatureBlob, true
	case TypeText:
		return FeatureText, true
	case TypeEnum:
		return FeatureEnum, true
	case TypeUUID:
		return FeatureUUID, true
	}
	return "", false
}

// renderGeneric renders the portable logical types. ok is false when the
// raw type was passed through unchanged.
func renderGeneric(col *Column, target dialect.Dialect) (string, bool) {
	args := TypeArgs(col.RawType)
	switch col.Type {
	case TypeSmallInt:
		return "SMALLINT", true
	case TypeInteger:
		if target == dialect.MySQL {
			return "INT", true
		}
		return "INTEGER", true
	case TypeBigInt:
		if target == dialect.SQLite {
			return "INTEGER", true
		}
		return "BIGINT", true
	case TypeDecimal:
		name := "DECIMAL"
		if target != dialect.MySQL {
			name = "NUMERIC"
		}
		switch len(args) {
		case 1:
			return fmt.Sprintf("%s(%d)", name, args[0]), true
		case 2:
			return fmt.Sprintf("%s(%d,%d)", name, args[0], args[1]), true
		}
		return name, true
	case TypeFloat:
		switch target {
		case dialect.MySQL:
			return "DOUBLE", true
		case dialect.Postgres:
			return "DOUBLE PRECISION", true
		}
		return "REAL", true
	case TypeString:
		length := 255
		if len(args) > 0 {
			length = args[0]
		}
		if strings.HasPrefix(BaseType(col.RawType), "char") || BaseType(col.RawType) == "character" || BaseType(col.RawType) == "nchar" {
			return fmt.Sprintf("CHAR(%d)", length), true
		}
		return fmt.Sprintf("VARCHAR(%d)", length), true
	case TypeDate:
		return "DATE", true
	case TypeTime:
		return "TIME", true
	}
	return col.RawType, false
}

func renderEnum(values []string) string {
	if len(values) == 0 {
		return "VARCHAR(255)"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = dialect.MySQL.QuoteString(v)
	}
	return "ENUM(" + strings.Join(quoted, ",") + ")"
}

func enumCheck(table *Table, col *Column, target dialect.Dialect) *Constraint {
	quoted := make([]string, len(col.EnumValues))
	for i, v := range col.EnumValues {
		quoted[i] = target.QuoteString(v)
	}
	return &Constraint{
		Name:            fmt.Sprintf("%s_%s_check", table.Name, col.Name),
		Table:           table.Name,
		Kind:            ConstraintCheck,
		Columns:         []string{col.Name},
		CheckExpression: fmt.Sprintf("%s IN (%s)", target.QuoteIdent(col.Name), strings.Join(quoted, ", ")),
	}
}

func sqliteRowidAlias(table *Table, col *Column) bool {
	return len(table.PrimaryKey) == 1 && strings.EqualFold(table.PrimaryKey[0], col.Name)
}

// requirePrefixLengths gives TEXT/BLOB key parts the prefix length MySQL
// demands for them
func requirePrefixLengths(table *Table, idx *Index) []Warning {
	var warnings []Warning
	for i, part := range idx.Columns {
		col := table.Column(part.Name)
		if col == nil || part.Length > 0 {
			continue
		}
		if col.Type == TypeText || col.Type == TypeBlob || col.Type == TypeJSON {
			idx.Columns[i].Length = 255
			warnings = append(warnings, Warning{
				Entity:  fmt.Sprintf("index %s.%s", table.Name, idx.Name),
				Feature: FeaturePrefixLength,
				Message: fmt.Sprintf("column %s indexed with prefix length 255", part.Name),
			})
		}
	}
	return warnings
}

var (
	pgCast       = regexp.MustCompile(`::[\w\s."]+(\[\])?$`)
	nextvalCall  = regexp.MustCompile(`(?i)^nextval\(`)
	nowFunctions = regexp.MustCompile(`(?i)^(now\(\)|current_timestamp(\(\))?|localtimestamp|datetime\('now'\)|CURRENT_TIMESTAMP)$`)
)

// translateDefault rewrites a default expression for target. keep is false
// when the default is implied by the target column definition.
func translateDefault(expr string, col *Column, target dialect.Dialect) (string, bool) {
	expr = strings.TrimSpace(expr)
	if nextvalCall.MatchString(expr) {
		return "", false
	}
	if target != dialect.Postgres {
		expr = pgCast.ReplaceAllString(expr, "")
		expr = strings.TrimSpace(expr)
	}
	if nowFunctions.MatchString(expr) {
		return "CURRENT_TIMESTAMP", true
	}
	if col.Type == TypeBoolean {
		v := strings.TrimPrefix(strings.ToLower(expr), "b")
		switch strings.Trim(v, "'") {
		case "true", "t", "1":
			if target == dialect.Postgres {
				return "TRUE", true
			}
			return "1", true
		case "false", "f", "0":
			if target == dialect.Postgres {
				return "FALSE", true
			}
			return "0", true
		}
	}
	return expr, true
}
