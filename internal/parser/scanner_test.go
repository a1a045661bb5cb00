package parser

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

func texts(stmts []Statement) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.Text
	}
	return out
}

func TestScanner_DelimiterDirective(t *testing.T) {
	script := "DELIMITER $$\nCREATE PROCEDURE p() BEGIN SELECT 1; END$$\nDELIMITER ;\nSELECT 2;"

	stmts, err := New(dialect.MySQL).Parse(script)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	assert.Equal(t, "CREATE PROCEDURE p() BEGIN SELECT 1; END", stmts[0].Text)
	assert.Equal(t, "$$", stmts[0].Terminator)
	assert.True(t, stmts[0].InTaggedBlock)
	assert.Equal(t, KindDDL, stmts[0].Kind)
	assert.Equal(t, 2, stmts[0].Line)

	assert.Equal(t, "SELECT 2", stmts[1].Text)
	assert.Equal(t, ";", stmts[1].Terminator)
	assert.False(t, stmts[1].InTaggedBlock)
	assert.Equal(t, 4, stmts[1].Line)
}

func TestScanner_MySQLDumpTrigger(t *testing.T) {
	script := strings.Join([]string{
		"/*!40101 SET NAMES utf8mb4 */;",
		"DELIMITER ;;",
		"/*!50003 CREATE*/ /*!50003 TRIGGER trg BEFORE INSERT ON `t` FOR EACH ROW BEGIN SET NEW.x = 1; END */;;",
		"DELIMITER ;",
		"INSERT INTO `t` VALUES (1);",
	}, "\n")

	stmts, err := New(dialect.MySQL).Parse(script)
	require.NoError(t, err)
	require.Len(t, stmts, 3)

	assert.Equal(t, "/*!40101 SET NAMES utf8mb4 */", stmts[0].Text)
	assert.Equal(t, KindSet, stmts[0].Kind)
	assert.Equal(t, KindDDL, stmts[1].Kind)
	assert.Equal(t, ";;", stmts[1].Terminator)
	assert.Equal(t, KindDML, stmts[2].Kind)
}

func TestScanner_PostgresDollarQuoting(t *testing.T) {
	script := `CREATE FUNCTION f() RETURNS int AS $$ BEGIN RETURN 1; END; $$ LANGUAGE plpgsql;
CREATE FUNCTION g() RETURNS text AS $fn$ SELECT $$;$$ || 'x;'; $fn$ LANGUAGE sql;
SELECT a$b$ FROM t;
SELECT $1;`

	stmts, err := New(dialect.Postgres).Parse(script)
	require.NoError(t, err)
	require.Len(t, stmts, 4)

	assert.True(t, stmts[0].InTaggedBlock)
	assert.True(t, strings.HasSuffix(stmts[0].Text, "LANGUAGE plpgsql"))
	assert.True(t, stmts[1].InTaggedBlock)
	assert.Contains(t, stmts[1].Text, "$fn$ SELECT $$;$$ || 'x;'; $fn$")
	assert.Equal(t, "SELECT a$b$ FROM t", stmts[2].Text)
	assert.False(t, stmts[2].InTaggedBlock)
	assert.Equal(t, "SELECT $1", stmts[3].Text)
}

func TestScanner_QuotesAndEscapes(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect.Dialect
		script  string
		want    []string
	}{
		{
			name:    "mysql backslash escape",
			dialect: dialect.MySQL,
			script:  `INSERT INTO t VALUES ('a\';b', "c\";d");SELECT 1;`,
			want:    []string{`INSERT INTO t VALUES ('a\';b', "c\";d")`, "SELECT 1"},
		},
		{
			name:    "doubled quotes",
			dialect: dialect.SQLite,
			script:  `INSERT INTO t VALUES ('it''s;');SELECT "a"";b" FROM t;`,
			want:    []string{`INSERT INTO t VALUES ('it''s;')`, `SELECT "a"";b" FROM t`},
		},
		{
			name:    "postgres escape string",
			dialect: dialect.Postgres,
			script:  `SELECT E'a\';b';SELECT 2;`,
			want:    []string{`SELECT E'a\';b'`, "SELECT 2"},
		},
		{
			name:    "backtick identifiers",
			dialect: dialect.MySQL,
			script:  "SELECT `we;ird` FROM t;",
			want:    []string{"SELECT `we;ird` FROM t"},
		},
		{
			name:    "sqlite bracket identifiers",
			dialect: dialect.SQLite,
			script:  "SELECT [a;b] FROM t;SELECT 2;",
			want:    []string{"SELECT [a;b] FROM t", "SELECT 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts, err := New(tt.dialect).Parse(tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(stmts))
		})
	}
}

func TestScanner_Comments(t *testing.T) {
	t.Run("mysql comment styles", func(t *testing.T) {
		script := "-- header; not a statement\n# hash; comment\n/* block; */ SELECT 1;\nSELECT 1--1;\n"
		stmts, err := New(dialect.MySQL).Parse(script)
		require.NoError(t, err)
		assert.Equal(t, []string{"SELECT 1", "SELECT 1--1"}, texts(stmts))
	})

	t.Run("postgres nested block comment", func(t *testing.T) {
		script := "/* outer /* inner; */ still; */ SELECT 1;"
		stmts, err := New(dialect.Postgres).Parse(script)
		require.NoError(t, err)
		assert.Equal(t, []string{"SELECT 1"}, texts(stmts))
	})

	t.Run("comment inside statement is kept", func(t *testing.T) {
		stmts, err := New(dialect.SQLite).Parse("SELECT 1 -- trailing; note\n, 2;")
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, "SELECT 1 -- trailing; note\n, 2", stmts[0].Text)
	})

	t.Run("mysql optimizer hint is opaque", func(t *testing.T) {
		script := "SELECT /*+ SET_VAR(sort_buffer_size = 16M); NO_ICP(t) */ id FROM t;\nSELECT /*!40001 1; */ 2;\n"
		stmts, err := New(dialect.MySQL).Parse(script)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"SELECT /*+ SET_VAR(sort_buffer_size = 16M); NO_ICP(t) */ id FROM t",
			"SELECT /*!40001 1",
			"*/ 2",
		}, texts(stmts))
	})

	t.Run("comments only yields nothing", func(t *testing.T) {
		for _, d := range dialect.All() {
			stmts, err := New(d).Parse("-- one\n/* two */\n\n   \n")
			require.NoError(t, err)
			assert.Empty(t, stmts, string(d))
		}
	})
}

func TestScanner_SQLiteTriggerBody(t *testing.T) {
	script := `CREATE TRIGGER trg AFTER INSERT ON t BEGIN
  UPDATE t SET x = 1;
  INSERT INTO log VALUES (CASE WHEN NEW.x > 0 THEN 'a' END);
END;
CREATE TABLE "trigger" (id INTEGER);
SELECT 1;`

	stmts, err := New(dialect.SQLite).Parse(script)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.True(t, stmts[0].InTaggedBlock)
	assert.True(t, strings.HasSuffix(stmts[0].Text, "END"))
	assert.False(t, stmts[1].InTaggedBlock)
}

func TestScanner_TrailingStatementWithoutTerminator(t *testing.T) {
	stmts, err := New(dialect.Postgres).Parse("SELECT 1;\nSELECT 2  \n")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT 2", stmts[1].Text)
	assert.Equal(t, "", stmts[1].Terminator)
}

func TestScanner_EmptyStatementsAreSkipped(t *testing.T) {
	stmts, err := New(dialect.MySQL).Parse(";;  ;\nSELECT 1;;")
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1"}, texts(stmts))
}

func TestScanner_Offsets(t *testing.T) {
	script := "  -- c\nSELECT 1;\n\n  INSERT INTO t VALUES ('x;y');\nUPDATE t SET a = 2"
	stmts, err := New(dialect.SQLite).Parse(script)
	require.NoError(t, err)
	require.Len(t, stmts, 3)

	for _, s := range stmts {
		assert.Equal(t, s.Text, script[s.Start:s.End])
	}
	assert.Equal(t, []int{2, 4, 5}, []int{stmts[0].Line, stmts[1].Line, stmts[2].Line})
}

func TestScanner_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect.Dialect
		script  string
		offset  int
		line    int
	}{
		{"unterminated single quote", dialect.MySQL, "SELECT 1;\nSELECT 'abc", 17, 2},
		{"unterminated double quote", dialect.Postgres, `SELECT "abc`, 7, 1},
		{"unterminated dollar block", dialect.Postgres, "SELECT 1;\nDO $body$ BEGIN NULL; END;", 13, 2},
		{"unterminated block comment", dialect.SQLite, "SELECT 1; /* oops", 10, 1},
		{"unterminated optimizer hint", dialect.MySQL, "SELECT 1;\nSELECT /*+ BKA(t) id FROM t;", 17, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts, err := New(tt.dialect).Parse(tt.script)
			require.Error(t, err)
			assert.Nil(t, stmts)

			var be *apperrors.BackupError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, apperrors.KindParseError, be.Kind)
			assert.Equal(t, tt.offset, be.Context["offset"])
			assert.Equal(t, tt.line, be.Context["line"])
		})
	}
}

func TestScanner_DelimiterWithoutValue(t *testing.T) {
	_, err := New(dialect.MySQL).Parse("DELIMITER   \nSELECT 1;")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindParseError))
}

var mixedScripts = map[dialect.Dialect]string{
	dialect.MySQL: "-- MySQL dump\n/*!40101 SET NAMES utf8 */;\nCREATE TABLE `a;b` (id INT AUTO_INCREMENT PRIMARY KEY) ENGINE=InnoDB;\n" +
		"INSERT INTO `a;b` VALUES (1,'x\\';y'),(2,\"q;\");\nDELIMITER //\nCREATE PROCEDURE p()\nBEGIN\n  SELECT 1;\n  SELECT 2;\nEND//\n" +
		"DELIMITER ;\n# done\nSELECT 1--1;\nSELECT 3",
	dialect.Postgres: "SET search_path = public;\nCREATE FUNCTION f() RETURNS trigger AS $fn$\nBEGIN\n  RAISE NOTICE 'a;b';\n  RETURN $$x;$$;\nEND;\n$fn$ LANGUAGE plpgsql;\n" +
		"/* a /* nested; */ c */\nINSERT INTO \"t;x\" VALUES (E'it\\'s;', 'o''k;');\nSELECT pg_catalog.setval('public.t_id_seq', 3, true);\n",
	dialect.SQLite: "PRAGMA foreign_keys=OFF;\nBEGIN TRANSACTION;\nCREATE TABLE t(id INTEGER PRIMARY KEY AUTOINCREMENT, v TEXT);\n" +
		"INSERT INTO t VALUES(1,'a;b');\nCREATE TRIGGER tr AFTER DELETE ON t BEGIN DELETE FROM [x;y] WHERE id = OLD.id; END;\n" +
		"DELETE FROM sqlite_sequence;\nINSERT INTO sqlite_sequence VALUES('t',1);\nCOMMIT;\n",
}

func TestScanner_StreamingMatchesWholeInput(t *testing.T) {
	for d, script := range mixedScripts {
		whole, err := New(d).Parse(script)
		require.NoError(t, err, string(d))
		require.NotEmpty(t, whole)

		for _, size := range []int{1, 2, 3, 5, 7, 13, 64} {
			s := New(d)
			s.chunkSize = size
			streamed, err := s.ParseReader(strings.NewReader(script))
			require.NoError(t, err, "%s chunk=%d", d, size)
			assert.Equal(t, whole, streamed, "%s chunk=%d", d, size)
		}

		oneByte, err := New(d).ParseReader(iotest.OneByteReader(strings.NewReader(script)))
		require.NoError(t, err)
		assert.Equal(t, whole, oneByte)
	}
}

func TestScanner_StreamStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	count := 0
	err := New(dialect.SQLite).Stream(strings.NewReader("SELECT 1; SELECT 2; SELECT 3;"), func(Statement) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, count)
}

func TestScanner_Idempotent(t *testing.T) {
	for d, script := range mixedScripts {
		p := New(d)
		first, err := p.Parse(script)
		require.NoError(t, err)
		second, err := p.Parse(script)
		require.NoError(t, err)
		assert.Equal(t, first, second, string(d))
	}
}

func TestScanner_TerminatorCountAndRoundTrip(t *testing.T) {
	expected := map[dialect.Dialect]int{
		dialect.MySQL:    6,
		dialect.Postgres: 4,
		dialect.SQLite:   8,
	}

	for d, script := range mixedScripts {
		stmts, err := New(d).Parse(script)
		require.NoError(t, err)
		assert.Len(t, stmts, expected[d], string(d))

		rendered := Render(stmts, d)
		again, err := New(d).Parse(rendered)
		require.NoError(t, err, string(d))
		assert.Equal(t, texts(stmts), texts(again), string(d))
		for i := range again {
			if stmts[i].Terminator != "" {
				assert.Equal(t, stmts[i].Terminator, again[i].Terminator)
			}
		}
	}
}

func TestLineParser(t *testing.T) {
	t.Run("delimiter scenario", func(t *testing.T) {
		script := "DELIMITER $$\nCREATE PROCEDURE p() BEGIN SELECT 1; END$$\nDELIMITER ;\nSELECT 2;"
		stmts, err := NewLineParser(dialect.MySQL).Parse(script)
		require.NoError(t, err)
		assert.Equal(t, []string{"CREATE PROCEDURE p() BEGIN SELECT 1; END", "SELECT 2"}, texts(stmts))
	})

	t.Run("dollar body across lines", func(t *testing.T) {
		script := "-- header\nCREATE FUNCTION f() RETURNS int AS $$\nBEGIN\n  RETURN 1;\nEND;\n$$ LANGUAGE plpgsql;\nSELECT 1;\n"
		stmts, err := NewLineParser(dialect.Postgres).Parse(script)
		require.NoError(t, err)
		require.Len(t, stmts, 2)
		assert.True(t, stmts[0].InTaggedBlock)
		assert.Equal(t, 2, stmts[0].Line)
		assert.Equal(t, "SELECT 1", stmts[1].Text)
	})

	t.Run("unterminated body", func(t *testing.T) {
		_, err := NewLineParser(dialect.Postgres).Parse("DO $$\nBEGIN NULL;\n")
		assert.True(t, apperrors.IsKind(err, apperrors.KindParseError))
	})

	t.Run("agrees with scanner on simple dumps", func(t *testing.T) {
		script := "CREATE TABLE t (id INTEGER);\nINSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2);\n"
		a, err := NewLineParser(dialect.SQLite).Parse(script)
		require.NoError(t, err)
		b, err := New(dialect.SQLite).Parse(script)
		require.NoError(t, err)
		assert.Equal(t, texts(b), texts(a))
	})
}
