package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

func TestNewExtractor(t *testing.T) {
	for _, d := range dialect.All() {
		extractor, err := NewExtractor(d)
		if err != nil {
			t.Fatalf("NewExtractor(%s) error = %v", d, err)
		}
		if extractor == nil {
			t.Fatalf("Expected extractor for %s to be created", d)
		}
	}

	if _, err := NewExtractor(dialect.Dialect("oracle")); err == nil {
		t.Error("Expected error for unsupported dialect")
	}
}

func TestNewExtractorWithTimeout(t *testing.T) {
	timeout := 10 * time.Second
	extractor, err := NewExtractorWithTimeout(dialect.MySQL, timeout)
	require.NoError(t, err)
	if got := extractor.(*MySQLExtractor).queryTimeout; got != timeout {
		t.Errorf("Expected timeout to be %v, got %v", timeout, got)
	}
}

func TestExtract_NilDB(t *testing.T) {
	extractor, _ := NewExtractor(dialect.MySQL)
	_, err := extractor.Extract(context.Background(), nil, "test_db")
	if err == nil {
		t.Fatal("Expected error for nil database connection")
	}
	assert.True(t, apperrors.IsKind(err, apperrors.KindDatabaseConnection))
}

func TestExtract_EmptySchemaName(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	extractor, _ := NewExtractor(dialect.Postgres)
	_, err = extractor.Extract(context.Background(), db, "")
	if err == nil {
		t.Error("Expected error for empty schema name")
	}
}

func TestMySQLExtract(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("test_db").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("posts").AddRow("users"))

	// posts
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("test_db", "posts").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "EXTRA"}).
			AddRow("id", "int(11)", "NO", nil, "auto_increment").
			AddRow("user_id", "int(11)", "NO", nil, "").
			AddRow("title", "varchar(200)", "YES", "untitled", "").
			AddRow("published", "tinyint(1)", "NO", "0", "").
			AddRow("created_at", "timestamp", "YES", "CURRENT_TIMESTAMP", "DEFAULT_GENERATED"))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").
		WithArgs("test_db", "posts").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME", "NON_UNIQUE", "INDEX_TYPE", "SEQ_IN_INDEX", "SUB_PART", "COLLATION"}).
			AddRow("PRIMARY", "id", 0, "BTREE", 1, nil, "A").
			AddRow("functional_idx", nil, 1, "BTREE", 1, nil, "A").
			AddRow("idx_title", "title", 1, "BTREE", 1, 50, "A").
			AddRow("idx_user_created", "user_id", 1, "BTREE", 1, nil, "A").
			AddRow("idx_user_created", "created_at", 1, "BTREE", 2, nil, "D"))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		WithArgs("test_db", "posts").
		WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "UPDATE_RULE", "DELETE_RULE"}).
			AddRow("fk_posts_user", "user_id", "users", "id", "NO ACTION", "CASCADE"))

	// users
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("test_db", "users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "EXTRA"}).
			AddRow("id", "int(11)", "NO", nil, "auto_increment").
			AddRow("email", "varchar(255)", "NO", nil, ""))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").
		WithArgs("test_db", "users").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME", "NON_UNIQUE", "INDEX_TYPE", "SEQ_IN_INDEX", "SUB_PART", "COLLATION"}).
			AddRow("PRIMARY", "id", 0, "BTREE", 1, nil, "A").
			AddRow("email", "email", 0, "BTREE", 1, nil, "A"))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		WithArgs("test_db", "users").
		WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "UPDATE_RULE", "DELETE_RULE"}))

	extractor, _ := NewExtractor(dialect.MySQL)
	s, err := extractor.Extract(context.Background(), db, "test_db")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, dialect.MySQL, s.Dialect)
	assert.Equal(t, []string{"posts", "users"}, s.TableNames())

	posts := s.Table("posts")
	assert.True(t, posts.Column("id").AutoIncrement)
	assert.Equal(t, []string{"id"}, posts.PrimaryKey)
	assert.Equal(t, "'untitled'", *posts.Column("title").Default)
	assert.Equal(t, TypeBoolean, posts.Column("published").Type)
	assert.Equal(t, "0", *posts.Column("published").Default)
	assert.Equal(t, "CURRENT_TIMESTAMP", *posts.Column("created_at").Default)

	require.Len(t, posts.Indexes, 2, "functional indexes are skipped")
	assert.Equal(t, 50, posts.Indexes[0].Columns[0].Length)
	assert.Equal(t, []string{"user_id", "created_at"}, posts.Indexes[1].ColumnNames())
	assert.Equal(t, "DESC", posts.Indexes[1].Columns[1].Direction)

	fks := posts.ForeignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, "CASCADE", fks[0].OnDelete)
	assert.Empty(t, fks[0].OnUpdate)

	users := s.Table("users")
	require.Len(t, users.Indexes, 1)
	assert.Equal(t, IndexUnique, users.Indexes[0].Type)
}

func TestMySQLExtract_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("test_db").
		WillReturnError(sql.ErrConnDone)

	extractor, _ := NewExtractor(dialect.MySQL)
	_, err = extractor.Extract(context.Background(), db, "test_db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to extract tables")
}

func TestMySQLDefaultExpression(t *testing.T) {
	tests := []struct {
		value   string
		extra   string
		logical LogicalType
		want    string
	}{
		{"42", "", TypeInteger, "42"},
		{"abc", "", TypeInteger, "'abc'"},
		{"hello", "", TypeString, "'hello'"},
		{"CURRENT_TIMESTAMP(3)", "", TypeTimestamp, "CURRENT_TIMESTAMP(3)"},
		{"(uuid())", "DEFAULT_GENERATED", TypeString, "(uuid())"},
		{"it's", "", TypeText, "'it''s'"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mysqlDefaultExpression(tt.value, tt.extra, tt.logical), tt.value)
	}
}

func TestMySQLCurrentSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT DATABASE\(\)`).WillReturnRows(sqlmock.NewRows([]string{"DATABASE()"}).AddRow("shop"))
	mock.ExpectQuery(`SELECT DATABASE\(\)`).WillReturnRows(sqlmock.NewRows([]string{"DATABASE()"}).AddRow(nil))

	extractor, _ := NewExtractor(dialect.MySQL)
	name, err := extractor.CurrentSchema(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "shop", name)

	_, err = extractor.CurrentSchema(context.Background(), db)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
}

func TestPostgresExtract(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("accounts"))
	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public", "accounts").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt_name", "is_nullable", "column_default",
			"character_maximum_length", "numeric_precision", "numeric_scale", "is_identity"}).
			AddRow("id", "integer", "int4", "NO", "nextval('accounts_id_seq'::regclass)", nil, 32, 0, "NO").
			AddRow("name", "character varying", "varchar", "NO", nil, 100, nil, nil, "NO").
			AddRow("balance", "numeric", "numeric", "YES", "0.00", nil, 12, 2, "NO").
			AddRow("mood", "USER-DEFINED", "mood", "YES", nil, nil, nil, nil, "NO").
			AddRow("tags", "ARRAY", "_text", "YES", nil, nil, nil, nil, "NO"))
	mock.ExpectQuery("FROM pg_type t JOIN pg_enum").
		WithArgs("public", "mood").
		WillReturnRows(sqlmock.NewRows([]string{"enumlabel"}).AddRow("happy").AddRow("sad"))
	mock.ExpectQuery("SELECT a.attname FROM pg_index").
		WithArgs("public", "accounts").
		WillReturnRows(sqlmock.NewRows([]string{"attname"}).AddRow("id"))
	mock.ExpectQuery("NOT ix.indisprimary").
		WithArgs("public", "accounts").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "indisunique", "amname", "pred", "keydef", "isexpr", "desc"}).
			AddRow("accounts_lower_name", true, "btree", "", "lower(name::text)", true, false).
			AddRow("accounts_tags_gin", false, "gin", "", "tags", false, false).
			AddRow("accounts_rich", false, "btree", "balance > 1000::numeric", "balance", false, true))
	mock.ExpectQuery("c.contype = 'f'").
		WithArgs("public", "accounts").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "attname", "relname", "attname", "confupdtype", "confdeltype"}))
	mock.ExpectQuery("c.contype = 'c'").
		WithArgs("public", "accounts").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "def"}).AddRow("accounts_balance_check", "CHECK ((balance >= 0::numeric))"))

	extractor, _ := NewExtractor(dialect.Postgres)
	s, err := extractor.Extract(context.Background(), db, "public")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	accounts := s.Table("accounts")
	require.NotNil(t, accounts)

	id := accounts.Column("id")
	assert.True(t, id.AutoIncrement)
	assert.Nil(t, id.Default)
	assert.Equal(t, []string{"id"}, accounts.PrimaryKey)
	assert.Equal(t, "character varying(100)", accounts.Column("name").RawType)
	assert.Equal(t, "numeric(12,2)", accounts.Column("balance").RawType)
	assert.Equal(t, "text[]", accounts.Column("tags").RawType)

	mood := accounts.Column("mood")
	assert.Equal(t, TypeEnum, mood.Type)
	assert.Equal(t, []string{"happy", "sad"}, mood.EnumValues)

	require.Len(t, accounts.Indexes, 3)
	assert.Equal(t, "lower(name::text)", accounts.Indexes[0].Expression)
	assert.Equal(t, IndexUnique, accounts.Indexes[0].Type)
	assert.Equal(t, "GIN", accounts.Indexes[1].Method)
	assert.Equal(t, "balance > 1000::numeric", accounts.Indexes[2].Where)
	assert.Equal(t, "DESC", accounts.Indexes[2].Columns[0].Direction)

	require.Len(t, accounts.Constraints, 1)
	assert.Equal(t, "(balance >= 0::numeric)", accounts.Constraints[0].CheckExpression)
}

func TestPostgresAction(t *testing.T) {
	assert.Equal(t, "CASCADE", postgresAction("c"))
	assert.Equal(t, "SET NULL", postgresAction("n"))
	assert.Equal(t, "SET DEFAULT", postgresAction("d"))
	assert.Equal(t, "RESTRICT", postgresAction("r"))
	assert.Equal(t, "", postgresAction("a"))
}

func TestSQLiteExtract(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT NOT NULL UNIQUE, name TEXT DEFAULT 'anon')`,
		`CREATE TABLE posts (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_posts_user ON posts(user_id, created_at DESC)`,
		`CREATE INDEX idx_posts_title_lower ON posts(lower(title))`,
		`CREATE INDEX idx_posts_recent ON posts(created_at) WHERE created_at > '2020-01-01'`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	extractor, _ := NewExtractor(dialect.SQLite)
	name, err := extractor.CurrentSchema(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "main", name)

	s, err := extractor.Extract(ctx, db, name)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "users"}, s.TableNames())

	users := s.Table("users")
	assert.True(t, users.Column("id").AutoIncrement)
	assert.Equal(t, []string{"id"}, users.PrimaryKey)
	assert.Equal(t, "'anon'", *users.Column("name").Default)
	assert.Contains(t, users.Original, "AUTOINCREMENT")
	require.Len(t, users.Indexes, 1)
	assert.Equal(t, "users_email_key", users.Indexes[0].Name)
	assert.Equal(t, IndexUnique, users.Indexes[0].Type)

	posts := s.Table("posts")
	fks := posts.ForeignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, "posts_user_id_fkey", fks[0].Name)
	assert.Equal(t, "users", fks[0].ReferencedTable)
	assert.Equal(t, []string{"id"}, fks[0].ReferencedColumns)
	assert.Equal(t, "CASCADE", fks[0].OnDelete)

	byName := map[string]*Index{}
	for _, idx := range posts.Indexes {
		byName[idx.Name] = idx
	}
	require.Len(t, byName, 3)
	assert.Contains(t, byName["idx_posts_recent"].Where, "2020-01-01")
	assert.Contains(t, byName["idx_posts_title_lower"].Expression, "lower")
	assert.Equal(t, []string{"user_id", "created_at"}, byName["idx_posts_user"].ColumnNames())
	assert.Equal(t, "DESC", byName["idx_posts_user"].Columns[1].Direction)
}
