package backup

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlferry/internal/database"
	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/metrics"
	"sqlferry/internal/restore"
)

var sqliteFixture = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, score REAL)`,
	`CREATE TABLE notes (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id), body TEXT)`,
	`INSERT INTO users (name, score) VALUES ('alice', 1.5), ('bob', NULL), ('o''brien', 3)`,
	`INSERT INTO notes (id, user_id, body) VALUES (1, 1, 'first'), (2, 3, 'semi;colon')`,
}

func openSQLite(t *testing.T, name string, fixture ...string) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range fixture {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db, path
}

func sqliteConfig(db *sql.DB, path, passphrase string) StrategyConfig {
	return StrategyConfig{
		DB:         db,
		Connection: database.DatabaseConfig{Dialect: dialect.SQLite, Path: path},
		Passphrase: passphrase,
		Metrics:    metrics.NewRecorder(),
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSQLiteNative_BackupAndRestore(t *testing.T) {
	ctx := context.Background()
	src, srcPath := openSQLite(t, "source.db", sqliteFixture...)
	output := filepath.Join(t.TempDir(), "nightly.db.gz")

	strategy := NewSQLiteNativeStrategy(sqliteConfig(src, srcPath, "s3cret"))
	result, err := strategy.CreateBackup(ctx, output, Options{Compression: CompressionGzip})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, FormatSQLiteNative, result.Metadata.Format)
	assert.Equal(t, TypeSQLiteNative, result.Metadata.Strategy)
	assert.True(t, result.Metadata.Encrypted)
	assert.Contains(t, result.Message, "sqlite-native backup")

	format, err := strategy.DetectBackupFormat(output)
	require.NoError(t, err)
	assert.Equal(t, FormatSQLiteNative, format)

	report, err := strategy.ValidateBackupFile(ctx, output)
	require.NoError(t, err)
	assert.True(t, report.Valid, "%v", report.Problems)
	assert.True(t, report.ChecksumVerified)
	assert.Equal(t, []string{"notes", "users"}, report.Tables)

	dst, dstPath := openSQLite(t, "target.db")
	target := NewSQLiteNativeStrategy(sqliteConfig(dst, dstPath, "s3cret"))
	restored, err := target.RestoreBackup(ctx, output, restore.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, restored.Success)
	assert.Equal(t, 1, restored.Stats.Executed)
	assert.Equal(t, 3, countRows(t, dst, "users"))
	assert.Equal(t, 2, countRows(t, dst, "notes"))

	_, err = target.PartialRestore(ctx, output, []string{"users"}, restore.DefaultOptions())
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
}

func TestSQLiteNative_RejectsTableSubset(t *testing.T) {
	src, srcPath := openSQLite(t, "source.db", sqliteFixture...)
	output := filepath.Join(t.TempDir(), "subset.db")

	result, err := NewSQLiteNativeStrategy(sqliteConfig(src, srcPath, "")).
		CreateBackup(context.Background(), output, Options{Tables: []string{"users"}})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSQLGeneration_DefaultBatchSize(t *testing.T) {
	src, srcPath := openSQLite(t, "source.db", sqliteFixture...)
	output := filepath.Join(t.TempDir(), "plain.sql")

	result, err := NewSQLGenerationStrategy(sqliteConfig(src, srcPath, "")).
		CreateBackup(context.Background(), output, Options{})
	require.NoError(t, err)
	require.True(t, result.Success)

	content, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), `INSERT INTO "users"`))
	assert.Equal(t, 1, strings.Count(string(content), `INSERT INTO "notes"`))
}

func TestSQLGeneration_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, srcPath := openSQLite(t, "source.db", sqliteFixture...)
	output := filepath.Join(t.TempDir(), "nightly.sql.zst")

	strategy := NewSQLGenerationStrategy(sqliteConfig(src, srcPath, ""))
	report := strategy.TestCapabilities(ctx)
	require.True(t, report.Passed(), "%v", report.Failed())

	result, err := strategy.CreateBackup(ctx, output, Options{Compression: CompressionZstd, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, FormatSQLiteSQL, result.Metadata.Format)
	assert.Equal(t, CompressionZstd, result.Metadata.Compression)
	assert.Empty(t, result.Metadata.TargetDialect)

	validation, err := strategy.ValidateBackupFile(ctx, output)
	require.NoError(t, err)
	assert.True(t, validation.Valid, "%v", validation.Problems)
	assert.Equal(t, dialect.SQLite, validation.Dialect)
	assert.Equal(t, []string{"notes", "users"}, validation.Tables)
	// both INTEGER PRIMARY KEY columns count as auto-increment
	assert.Equal(t, 2, validation.Sequences)
	assert.Positive(t, validation.DDL)
	assert.Positive(t, validation.DML)

	opts, err := strategy.GetRestoreOptions(ctx, output)
	require.NoError(t, err)
	assert.True(t, opts.ResetSequences)
	assert.True(t, opts.ExecuteInTransaction)

	dst, dstPath := openSQLite(t, "target.db")
	target := NewSQLGenerationStrategy(sqliteConfig(dst, dstPath, ""))
	restored, err := target.RestoreBackup(ctx, output, opts)
	require.NoError(t, err)
	require.True(t, restored.Success, restored.Message)
	assert.Zero(t, restored.Stats.Failed)
	assert.NoError(t, restored.Stats.Check())

	assert.Equal(t, 3, countRows(t, dst, "users"))
	assert.Equal(t, 2, countRows(t, dst, "notes"))

	var name string
	var score sql.NullFloat64
	require.NoError(t, dst.QueryRow("SELECT name, score FROM users WHERE id = 3").Scan(&name, &score))
	assert.Equal(t, "o'brien", name)
	assert.Equal(t, 3.0, score.Float64)

	var body string
	require.NoError(t, dst.QueryRow("SELECT body FROM notes WHERE id = 2").Scan(&body))
	assert.Equal(t, "semi;colon", body)

	// the auto-increment counter continues past the restored keys
	res, err := dst.Exec("INSERT INTO users (name) VALUES ('carol')")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
}

func TestSQLGeneration_PartialBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	src, srcPath := openSQLite(t, "source.db", sqliteFixture...)
	strategy := NewSQLGenerationStrategy(sqliteConfig(src, srcPath, ""))

	_, err := strategy.CreateBackup(ctx, filepath.Join(t.TempDir(), "bad.sql"), Options{Tables: []string{"ghosts"}})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed), "got %v", err)

	full := filepath.Join(t.TempDir(), "full.sql")
	_, err = strategy.CreateBackup(ctx, full, Options{})
	require.NoError(t, err)

	dst, dstPath := openSQLite(t, "target.db")
	target := NewSQLGenerationStrategy(sqliteConfig(dst, dstPath, ""))

	_, err = target.PartialRestore(ctx, full, nil, restore.DefaultOptions())
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))

	restored, err := target.PartialRestore(ctx, full, []string{"users"}, restore.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, restored.Success)
	assert.Positive(t, restored.Stats.Skipped)
	assert.Equal(t, 3, countRows(t, dst, "users"))

	var tables int
	require.NoError(t, dst.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'notes'").Scan(&tables))
	assert.Zero(t, tables)
}

func TestSQLGeneration_RejectsOtherDialect(t *testing.T) {
	ctx := context.Background()
	dst, dstPath := openSQLite(t, "target.db")
	target := NewSQLGenerationStrategy(sqliteConfig(dst, dstPath, ""))

	dump := writeTempFile(t, "mysql.sql", []byte("-- MySQL dump 10.13\nCREATE TABLE `t` (`id` int) ENGINE=InnoDB;\n"))
	result, err := target.RestoreBackup(ctx, dump, restore.DefaultOptions())
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, FormatMySQLSQL, result.Format)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))

	report, err := target.ValidateBackupFile(ctx, dump)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Problems)
}

func TestValidateBackupFile_RejectedStatements(t *testing.T) {
	dst, dstPath := openSQLite(t, "target.db")
	strategy := NewSQLGenerationStrategy(sqliteConfig(dst, dstPath, ""))

	script := writeTempFile(t, "evil.sql", []byte(strings.Join([]string{
		"CREATE TABLE t (id INTEGER PRIMARY KEY);",
		"INSERT INTO t VALUES (1);",
		"ATTACH DATABASE '/tmp/other.db' AS other;",
		"DELETE FROM t;",
	}, "\n")))

	report, err := strategy.ValidateBackupFile(context.Background(), script)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Len(t, report.Rejected, 2)
	assert.Equal(t, 3, report.Rejected[0].Line)

	_, err = strategy.ValidateBackupFile(context.Background(), writeTempFile(t, "empty.sql", nil))
	assert.True(t, apperrors.IsKind(err, apperrors.KindFileEmpty))
}

func TestGetRestoreOptions_MySQLDDL(t *testing.T) {
	strategy := NewSQLGenerationStrategy(StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.MySQL}})

	withDDL := writeTempFile(t, "schema.sql", []byte("CREATE TABLE t (id int);\nINSERT INTO t VALUES (1);\n"))
	opts, err := strategy.GetRestoreOptions(context.Background(), withDDL)
	require.NoError(t, err)
	assert.False(t, opts.ExecuteInTransaction)
	assert.False(t, opts.ResetSequences)

	dataOnly := writeTempFile(t, "data.sql", []byte("INSERT INTO t VALUES (1);\nALTER TABLE t AUTO_INCREMENT=2;\n"))
	opts, err = strategy.GetRestoreOptions(context.Background(), dataOnly)
	require.NoError(t, err)
	assert.False(t, opts.ExecuteInTransaction, "ALTER TABLE is DDL")
	assert.True(t, opts.ResetSequences)

	wrapped := writeTempFile(t, "tx.sql", []byte("START TRANSACTION;\nINSERT INTO t VALUES (1);\nCOMMIT;\n"))
	opts, err = strategy.GetRestoreOptions(context.Background(), wrapped)
	require.NoError(t, err)
	assert.False(t, opts.ExecuteInTransaction)
}

func TestEstimateBackupSize_SQLite(t *testing.T) {
	src, srcPath := openSQLite(t, "source.db", sqliteFixture...)
	strategy := NewSQLiteNativeStrategy(sqliteConfig(src, srcPath, ""))

	size, err := strategy.EstimateBackupSize(context.Background())
	require.NoError(t, err)
	assert.Positive(t, size)

	d, err := strategy.EstimateBackupTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = NewSQLiteNativeStrategy(StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.SQLite}}).
		EstimateBackupSize(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindDatabaseConnection))
}
