package schema

import (
	"regexp"
	"strconv"
	"strings"
)

// LogicalType is the dialect-independent meaning of a column type
type LogicalType string

const (
	TypeSmallInt  LogicalType = "smallint"
	TypeInteger   LogicalType = "integer"
	TypeBigInt    LogicalType = "bigint"
	TypeDecimal   LogicalType = "decimal"
	TypeFloat     LogicalType = "float"
	TypeBoolean   LogicalType = "boolean"
	TypeString    LogicalType = "string"
	TypeText      LogicalType = "text"
	TypeBlob      LogicalType = "blob"
	TypeDate      LogicalType = "date"
	TypeTime      LogicalType = "time"
	TypeDatetime  LogicalType = "datetime"
	TypeTimestamp LogicalType = "timestamp"
	TypeJSON      LogicalType = "json"
	TypeUUID      LogicalType = "uuid"
	TypeEnum      LogicalType = "enum"
	TypeOther     LogicalType = "other"
)

var (
	typeArgsPattern = regexp.MustCompile(`\(([^)]*)\)`)
	enumPattern     = regexp.MustCompile(`(?i)^\s*enum\s*\((.*)\)`)
	enumValue       = regexp.MustCompile(`'((?:[^']|'')*)'`)
)

var logicalByBase = map[string]LogicalType{
	"tinyint":                     TypeSmallInt,
	"smallint":                    TypeSmallInt,
	"int2":                        TypeSmallInt,
	"smallserial":                 TypeSmallInt,
	"mediumint":                   TypeInteger,
	"int":                         TypeInteger,
	"integer":                     TypeInteger,
	"int4":                        TypeInteger,
	"serial":                      TypeInteger,
	"bigint":                      TypeBigInt,
	"int8":                        TypeBigInt,
	"bigserial":                   TypeBigInt,
	"decimal":                     TypeDecimal,
	"numeric":                     TypeDecimal,
	"float":                       TypeFloat,
	"double":                      TypeFloat,
	"double precision":            TypeFloat,
	"real":                        TypeFloat,
	"float4":                      TypeFloat,
	"float8":                      TypeFloat,
	"bool":                        TypeBoolean,
	"boolean":                     TypeBoolean,
	"char":                        TypeString,
	"varchar":                     TypeString,
	"character":                   TypeString,
	"character varying":           TypeString,
	"nchar":                       TypeString,
	"nvarchar":                    TypeString,
	"varying character":           TypeString,
	"tinytext":                    TypeText,
	"text":                        TypeText,
	"mediumtext":                  TypeText,
	"longtext":                    TypeText,
	"clob":                        TypeText,
	"citext":                      TypeText,
	"blob":                        TypeBlob,
	"tinyblob":                    TypeBlob,
	"mediumblob":                  TypeBlob,
	"longblob":                    TypeBlob,
	"binary":                      TypeBlob,
	"varbinary":                   TypeBlob,
	"bytea":                       TypeBlob,
	"date":                        TypeDate,
	"time":                        TypeTime,
	"time without time zone":      TypeTime,
	"timetz":                      TypeTime,
	"datetime":                    TypeDatetime,
	"timestamp":                   TypeTimestamp,
	"timestamptz":                 TypeTimestamp,
	"timestamp without time zone": TypeTimestamp,
	"timestamp with time zone":    TypeTimestamp,
	"json":                        TypeJSON,
	"jsonb":                       TypeJSON,
	"uuid":                        TypeUUID,
	"enum":                        TypeEnum,
}

// ParseType derives the logical type of a raw dialect type string and
// whether it carries the MySQL UNSIGNED attribute
func ParseType(raw string) (LogicalType, bool) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	unsigned := strings.Contains(lower, "unsigned")
	base := BaseType(lower)

	if base == "tinyint" {
		if args := TypeArgs(lower); len(args) == 1 && args[0] == 1 {
			return TypeBoolean, unsigned
		}
	}
	if logical, ok := logicalByBase[base]; ok {
		return logical, unsigned
	}
	switch {
	case strings.HasPrefix(base, "timestamp"):
		return TypeTimestamp, unsigned
	case strings.HasPrefix(base, "time"):
		return TypeTime, unsigned
	case strings.Contains(base, "int"):
		return TypeInteger, unsigned
	case strings.Contains(base, "char"), strings.Contains(base, "clob"):
		return TypeString, unsigned
	case strings.Contains(base, "text"):
		return TypeText, unsigned
	case strings.Contains(base, "blob"):
		return TypeBlob, unsigned
	}
	return TypeOther, unsigned
}

// BaseType strips arguments and attributes from a raw type:
// "varchar(255) character set utf8" becomes "varchar"
func BaseType(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(lower, '('); i >= 0 {
		lower = lower[:i]
	}
	for _, attr := range []string{" unsigned", " zerofill", " signed", " character set", " collate", "[]"} {
		if i := strings.Index(lower, attr); i >= 0 {
			lower = lower[:i]
		}
	}
	return strings.Join(strings.Fields(lower), " ")
}

// TypeArgs returns the numeric arguments of a raw type, e.g. (10,2) -> [10 2]
func TypeArgs(raw string) []int {
	m := typeArgsPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	var out []int
	for _, part := range strings.Split(m[1], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}

func parseEnumValues(raw string) []string {
	m := enumPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	var values []string
	for _, v := range enumValue.FindAllStringSubmatch(m[1], -1) {
		values = append(values, strings.ReplaceAll(v[1], "''", "'"))
	}
	return values
}
