package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

func mysqlShop(t *testing.T) *Schema {
	t.Helper()
	s := NewSchema("shop", dialect.MySQL)

	users := NewTable("users")
	id := NewColumn("id", "int(11)", false)
	id.AutoIncrement = true
	require.NoError(t, users.AddColumn(id))
	active := NewColumn("active", "tinyint(1)", false)
	def := "1"
	active.Default = &def
	require.NoError(t, users.AddColumn(active))
	require.NoError(t, users.AddColumn(NewColumn("profile", "json", true)))
	require.NoError(t, users.AddColumn(NewColumn("created_at", "datetime", true)))
	require.NoError(t, users.AddColumn(NewColumn("state", "enum('new','done')", false)))
	require.NoError(t, users.AddColumn(NewColumn("visits", "int(10) unsigned", false)))
	require.NoError(t, users.AddColumn(NewColumn("bio", "mediumtext", true)))
	require.NoError(t, users.SetPrimaryKey("id"))

	ft := NewIndex("ft_bio", "users", IndexFullText, "bio")
	require.NoError(t, users.AddIndex(ft))
	prefix := &Index{Name: "idx_bio", Table: "users", Type: IndexPlain, Columns: []IndexColumn{{Name: "bio", Length: 20}}}
	require.NoError(t, users.AddIndex(prefix))
	hash := NewIndex("idx_visits", "users", IndexPlain, "visits")
	hash.Method = "HASH"
	require.NoError(t, users.AddIndex(hash))

	require.NoError(t, s.AddTable(users))
	return s
}

func TestLookupMapping(t *testing.T) {
	tests := []struct {
		feature Feature
		source  dialect.Dialect
		target  dialect.Dialect
		want    string
	}{
		{FeatureAutoIncrement, dialect.MySQL, dialect.Postgres, "SERIAL"},
		{FeatureBigAutoIncrement, dialect.SQLite, dialect.Postgres, "BIGSERIAL"},
		{FeatureBoolean, dialect.Postgres, dialect.MySQL, "TINYINT(1)"},
		{FeatureJSON, dialect.MySQL, dialect.SQLite, "TEXT"},
		{FeatureDatetime, dialect.MySQL, dialect.Postgres, "TIMESTAMP"},
		{FeatureBlob, dialect.Postgres, dialect.MySQL, "LONGBLOB"},
		{FeatureUUID, dialect.Postgres, dialect.MySQL, "CHAR(36)"},
	}

	for _, tt := range tests {
		m, ok := LookupMapping(tt.feature, tt.source, tt.target)
		require.True(t, ok, "%s %s->%s", tt.feature, tt.source, tt.target)
		assert.Equal(t, tt.want, m.Type)
	}

	_, ok := LookupMapping(FeatureBoolean, dialect.MySQL, dialect.MySQL)
	assert.False(t, ok)
}

func TestTranslateMySQLToPostgres(t *testing.T) {
	source := mysqlShop(t)
	out, warnings, err := NewTranslator(false).Translate(source, dialect.MySQL, dialect.Postgres)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, dialect.Postgres, out.Dialect)
	users := out.Table("users")
	assert.Equal(t, "SERIAL", users.Column("id").RawType)
	assert.Equal(t, "BOOLEAN", users.Column("active").RawType)
	assert.Equal(t, "TRUE", *users.Column("active").Default)
	assert.Equal(t, "JSONB", users.Column("profile").RawType)
	assert.Equal(t, "TIMESTAMP", users.Column("created_at").RawType)
	assert.Equal(t, "TEXT", users.Column("state").RawType)
	assert.Equal(t, "BIGINT", users.Column("visits").RawType)
	assert.False(t, users.Column("visits").Unsigned)

	// enum values survive as a CHECK constraint
	require.Len(t, users.Constraints, 1)
	check := users.Constraints[0]
	assert.Equal(t, ConstraintCheck, check.Kind)
	assert.Equal(t, "users_state_check", check.Name)
	assert.Equal(t, `"state" IN ('new', 'done')`, check.CheckExpression)

	// fulltext dropped, prefix length cleared, HASH kept
	names := make([]string, 0, len(users.Indexes))
	for _, idx := range users.Indexes {
		names = append(names, idx.Name)
	}
	assert.Equal(t, []string{"idx_bio", "idx_visits"}, names)
	assert.Equal(t, 0, users.Indexes[0].Columns[0].Length)
	assert.Equal(t, "HASH", users.Indexes[1].Method)

	features := map[Feature]bool{}
	for _, w := range warnings {
		features[w.Feature] = true
	}
	assert.True(t, features[FeatureFullTextIndex])
	assert.True(t, features[FeaturePrefixLength])
	assert.True(t, features[FeatureEnum])
	assert.True(t, features[FeatureUnsigned])

	// the input graph is untouched
	assert.Equal(t, "int(11)", source.Table("users").Column("id").RawType)
	assert.Len(t, source.Table("users").Indexes, 3)
}

func TestTranslateMySQLToSQLite(t *testing.T) {
	out, _, err := NewTranslator(false).Translate(mysqlShop(t), dialect.MySQL, dialect.SQLite)
	require.NoError(t, err)

	users := out.Table("users")
	assert.Equal(t, "INTEGER", users.Column("id").RawType)
	assert.True(t, users.Column("id").AutoIncrement)
	assert.Equal(t, "INTEGER", users.Column("active").RawType)
	assert.Equal(t, "1", *users.Column("active").Default)
	assert.Equal(t, "TEXT", users.Column("profile").RawType)
	assert.Equal(t, "INTEGER", users.Column("visits").RawType)

	for _, idx := range users.Indexes {
		assert.Empty(t, idx.Method, "sqlite has no index methods")
	}
}

func TestTranslatePostgresToMySQL(t *testing.T) {
	s := NewSchema("public", dialect.Postgres)
	events := NewTable("events")
	id := NewColumn("id", "bigint", false)
	id.AutoIncrement = true
	require.NoError(t, events.AddColumn(id))
	kind := NewColumn("kind", "mood", false)
	kind.Type = TypeEnum
	kind.EnumValues = []string{"happy", "sad"}
	require.NoError(t, events.AddColumn(kind))
	at := NewColumn("at", "timestamp with time zone", false)
	now := "now()"
	at.Default = &now
	require.NoError(t, events.AddColumn(at))
	note := NewColumn("note", "text", true)
	cast := "'none'::text"
	note.Default = &cast
	require.NoError(t, events.AddColumn(note))
	require.NoError(t, events.SetPrimaryKey("id"))

	partial := NewIndex("idx_recent", "events", IndexPlain, "at")
	partial.Where = "at > '2020-01-01'"
	require.NoError(t, events.AddIndex(partial))
	expr := &Index{Name: "idx_lower_note", Type: IndexPlain, Expression: "lower(note)"}
	require.NoError(t, events.AddIndex(expr))
	onNote := NewIndex("idx_note", "events", IndexPlain, "note")
	require.NoError(t, events.AddIndex(onNote))
	require.NoError(t, s.AddTable(events))

	out, warnings, err := NewTranslator(false).Translate(s, dialect.Postgres, dialect.MySQL)
	require.NoError(t, err)

	table := out.Table("events")
	assert.Equal(t, "BIGINT", table.Column("id").RawType)
	assert.Equal(t, "ENUM('happy','sad')", table.Column("kind").RawType)
	assert.Equal(t, "DATETIME", table.Column("at").RawType)
	assert.Equal(t, "CURRENT_TIMESTAMP", *table.Column("at").Default)
	assert.Equal(t, "LONGTEXT", table.Column("note").RawType)
	assert.Equal(t, "'none'", *table.Column("note").Default)

	require.Len(t, table.Indexes, 1, "partial and expression indexes are dropped")
	assert.Equal(t, "idx_note", table.Indexes[0].Name)
	assert.Equal(t, 255, table.Indexes[0].Columns[0].Length)

	dropped := 0
	for _, w := range warnings {
		if w.Dropped {
			dropped++
		}
	}
	assert.Equal(t, 2, dropped)
}

func TestTranslateStrictFailsOnDroppedFeature(t *testing.T) {
	_, warnings, err := NewTranslator(true).Translate(mysqlShop(t), dialect.MySQL, dialect.SQLite)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
	assert.NotEmpty(t, warnings)
	assert.Contains(t, err.Error(), "ft_bio")
}

func TestTranslateSQLiteAutoIncrementOutsidePrimaryKey(t *testing.T) {
	s := NewSchema("app", dialect.Postgres)
	table := NewTable("counters")
	require.NoError(t, table.AddColumn(NewColumn("name", "text", false)))
	seq := NewColumn("seq", "integer", false)
	seq.AutoIncrement = true
	require.NoError(t, table.AddColumn(seq))
	require.NoError(t, table.SetPrimaryKey("name"))
	require.NoError(t, s.AddTable(table))

	out, warnings, err := NewTranslator(false).Translate(s, dialect.Postgres, dialect.SQLite)
	require.NoError(t, err)
	assert.False(t, out.Table("counters").Column("seq").AutoIncrement)
	require.NotEmpty(t, warnings)

	var found bool
	for _, w := range warnings {
		if w.Feature == FeatureAutoIncrement && w.Dropped {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTranslateSameDialectIsCopy(t *testing.T) {
	source := mysqlShop(t)
	out, warnings, err := NewTranslator(true).Translate(source, dialect.MySQL, dialect.MySQL)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, source, out)
	assert.NotSame(t, source.Tables[0], out.Tables[0])
}

func TestTranslateDefault(t *testing.T) {
	boolean := &Column{Name: "b", Type: TypeBoolean}
	text := &Column{Name: "s", Type: TypeText}

	tests := []struct {
		name   string
		expr   string
		col    *Column
		target dialect.Dialect
		want   string
		keep   bool
	}{
		{"nextval dropped", "nextval('t_id_seq'::regclass)", text, dialect.MySQL, "", false},
		{"cast stripped", "'x'::character varying", text, dialect.SQLite, "'x'", true},
		{"cast kept on postgres", "'x'::text", text, dialect.Postgres, "'x'::text", true},
		{"now", "now()", text, dialect.SQLite, "CURRENT_TIMESTAMP", true},
		{"bit literal", "b'1'", boolean, dialect.Postgres, "TRUE", true},
		{"false to sqlite", "false", boolean, dialect.SQLite, "0", true},
		{"plain number", "42", text, dialect.Postgres, "42", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := translateDefault(tt.expr, tt.col, tt.target)
			assert.Equal(t, tt.keep, keep)
			if tt.keep {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestIndexValidateFor(t *testing.T) {
	spatial := NewIndex("sp", "t", IndexSpatial, "g")
	assert.Len(t, spatial.ValidateFor(dialect.SQLite, dialect.MySQL), 1)
	assert.Empty(t, spatial.ValidateFor(dialect.Postgres, dialect.MySQL))

	gin := NewIndex("g", "t", IndexPlain, "doc")
	gin.Method = "gin"
	w := gin.ValidateFor(dialect.MySQL, dialect.Postgres)
	require.Len(t, w, 1)
	assert.Equal(t, FeatureIndexMethod, w[0].Feature)
	assert.True(t, w[0].Dropped)
	assert.Empty(t, gin.ValidateFor(dialect.Postgres, dialect.Postgres))

	partial := NewIndex("p", "t", IndexPlain, "a")
	partial.Where = "a > 0"
	assert.Empty(t, partial.ValidateFor(dialect.SQLite, dialect.Postgres))
	assert.Len(t, partial.ValidateFor(dialect.MySQL, dialect.Postgres), 1)
}
