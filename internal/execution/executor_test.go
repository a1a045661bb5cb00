package execution

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlferry/internal/backup"
	"sqlferry/internal/config"
	"sqlferry/internal/confirmation"
	"sqlferry/internal/database"
	"sqlferry/internal/dialect"
	appErrors "sqlferry/internal/errors"
	"sqlferry/internal/logging"
	"sqlferry/internal/metrics"
	"sqlferry/internal/restore"
)

var fixture = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`,
	`CREATE TABLE notes (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id), body TEXT)`,
	`INSERT INTO users (name) VALUES ('alice'), ('bob'), ('carol')`,
	`INSERT INTO notes (id, user_id, body) VALUES (1, 1, 'first'), (2, 3, 'second')`,
}

func createSQLite(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

func countRows(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func tableExists(t *testing.T, path, table string) bool {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n))
	return n == 1
}

// testConfig returns a configuration with a populated sqlite source, an
// empty sqlite target and a local store, all under temporary directories
func testConfig(t *testing.T) (*config.Config, string, string) {
	t.Helper()
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "app.db")
	targetPath := filepath.Join(dir, "restored.db")
	createSQLite(t, sourcePath, fixture...)

	cfg := config.Default()
	cfg.Connections.SourceDB = database.DatabaseConfig{Dialect: dialect.SQLite, Path: sourcePath}
	cfg.Connections.TargetDB = database.DatabaseConfig{Dialect: dialect.SQLite, Path: targetPath}
	cfg.Backup.OutputDir = filepath.Join(dir, "out")
	cfg.Storage.Local.BasePath = filepath.Join(dir, "store")
	return cfg, sourcePath, targetPath
}

func newTestExecutor(cfg *config.Config) *Executor {
	return NewExecutor(cfg, logging.NewNopLogger(), metrics.NewRecorder())
}

func TestNewExecutor(t *testing.T) {
	executor := NewExecutor(config.Default(), nil, nil)
	require.NotNil(t, executor)
	assert.NotNil(t, executor.GetLogger())
	assert.NotNil(t, executor.dbService)
	assert.NotNil(t, executor.connections)
	assert.NotNil(t, executor.newStore)
}

func TestBackupAndRestoreNative(t *testing.T) {
	ctx := context.Background()
	cfg, _, targetPath := testConfig(t)
	executor := newTestExecutor(cfg)

	outcome, err := executor.Backup(ctx, BackupRequest{})
	require.NoError(t, err)
	assert.Equal(t, backup.TypeSQLiteNative, outcome.Strategy)
	require.True(t, outcome.Result.Success, outcome.Result.Message)
	assert.Equal(t, cfg.Backup.OutputDir, filepath.Dir(outcome.Result.Path))
	assert.Regexp(t, `^app-\d{8}-\d{6}\.db$`, filepath.Base(outcome.Result.Path))
	assert.FileExists(t, backup.MetadataPath(outcome.Result.Path))
	assert.Empty(t, outcome.Location)

	result, err := executor.Restore(ctx, RestoreRequest{Input: outcome.Result.Path})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, backup.TypeSQLiteNative, result.Strategy)

	assert.Equal(t, 3, countRows(t, targetPath, "users"))
	assert.Equal(t, 2, countRows(t, targetPath, "notes"))
}

func TestBackupSQLGenerationAndPartialRestore(t *testing.T) {
	ctx := context.Background()
	cfg, _, targetPath := testConfig(t)
	cfg.Backup.Strategy = backup.TypeSQLGeneration
	cfg.Backup.Compression = "gzip"
	executor := newTestExecutor(cfg)

	var progressCalls int
	outcome, err := executor.Backup(ctx, BackupRequest{
		Output:   filepath.Join(cfg.Backup.OutputDir, "nightly.sql.gz"),
		Progress: func(int64, time.Duration) { progressCalls++ },
	})
	require.NoError(t, err)
	assert.Equal(t, backup.TypeSQLGeneration, outcome.Strategy)
	assert.Equal(t, backup.CompressionGzip, outcome.Result.Metadata.Compression)
	assert.Positive(t, progressCalls)

	var reports []restore.Progress
	result, err := executor.Restore(ctx, RestoreRequest{
		Input:    outcome.Result.Path,
		Tables:   []string{"users"},
		Progress: func(p restore.Progress) { reports = append(reports, p) },
	})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Message)
	assert.Positive(t, result.Stats.Skipped)
	assert.NotEmpty(t, reports)

	assert.Equal(t, 3, countRows(t, targetPath, "users"))
	assert.False(t, tableExists(t, targetPath, "notes"))
}

func TestRestoreOverridesAndInference(t *testing.T) {
	ctx := context.Background()
	cfg, _, targetPath := testConfig(t)
	cfg.Backup.Strategy = backup.TypeSQLGeneration
	cfg.Restore.InferOptions = true
	executor := newTestExecutor(cfg)

	outcome, err := executor.Backup(ctx, BackupRequest{})
	require.NoError(t, err)
	assert.Regexp(t, `^app-\d{8}-\d{6}\.sql$`, filepath.Base(outcome.Result.Path))

	var applied restore.Options
	result, err := executor.Restore(ctx, RestoreRequest{
		Input: outcome.Result.Path,
		Overrides: func(o *restore.Options) {
			o.ExecuteInTransaction = false
			applied = *o
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Message)
	assert.False(t, applied.ExecuteInTransaction)
	// inferred from the sqlite auto-increment columns
	assert.True(t, applied.ResetSequences)
	assert.Equal(t, cfg.Restore.ProgressInterval, applied.ProgressInterval)
	assert.Equal(t, 3, countRows(t, targetPath, "users"))
}

func TestBackupUploadAndRetention(t *testing.T) {
	ctx := context.Background()
	cfg, _, _ := testConfig(t)
	cfg.Retention.MaxBackups = 1
	executor := newTestExecutor(cfg)

	require.NoError(t, os.MkdirAll(cfg.Storage.Local.BasePath, 0755))
	old := filepath.Join(cfg.Storage.Local.BasePath, "app-20200101-000000.db")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(backup.MetadataPath(old), []byte("id: old\n"), 0644))
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	other := filepath.Join(cfg.Storage.Local.BasePath, "billing-20200101-000000.db")
	require.NoError(t, os.WriteFile(other, []byte("other"), 0644))
	require.NoError(t, os.Chtimes(other, past, past))

	outcome, err := executor.Backup(ctx, BackupRequest{Upload: true})
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Location)

	uploaded := filepath.Join(cfg.Storage.Local.BasePath, filepath.Base(outcome.Result.Path))
	assert.FileExists(t, uploaded)
	assert.FileExists(t, backup.MetadataPath(uploaded))

	require.NotNil(t, outcome.Retention)
	require.Len(t, outcome.Retention.Removed, 1)
	assert.Equal(t, "app-20200101-000000.db", outcome.Retention.Removed[0].Key)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, backup.MetadataPath(old))
	// other databases' artifacts are outside the prefix
	assert.FileExists(t, other)
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	cfg, _, targetPath := testConfig(t)
	executor := newTestExecutor(cfg)

	outcome, err := executor.Backup(ctx, BackupRequest{Upload: true})
	require.NoError(t, err)
	require.NoError(t, os.Remove(outcome.Result.Path))

	result, err := executor.Restore(ctx, RestoreRequest{From: filepath.Base(outcome.Result.Path)})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, 3, countRows(t, targetPath, "users"))
}

func TestBackupEncrypted(t *testing.T) {
	ctx := context.Background()
	cfg, _, targetPath := testConfig(t)
	cfg.Backup.Encrypt = true
	cfg.Backup.PassphraseEnv = "SQLFERRY_EXECUTION_TEST_PASSPHRASE"
	t.Setenv("SQLFERRY_EXECUTION_TEST_PASSPHRASE", "correct horse")
	executor := newTestExecutor(cfg)

	outcome, err := executor.Backup(ctx, BackupRequest{})
	require.NoError(t, err)
	assert.True(t, outcome.Result.Metadata.Encrypted)
	assert.Regexp(t, `\.db\.enc$`, outcome.Result.Path)

	result, err := executor.Restore(ctx, RestoreRequest{Input: outcome.Result.Path})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, 2, countRows(t, targetPath, "notes"))

	t.Setenv("SQLFERRY_EXECUTION_TEST_PASSPHRASE", "")
	_, err = executor.Backup(ctx, BackupRequest{})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)
}

func TestBackupErrors(t *testing.T) {
	ctx := context.Background()

	cfg, _, _ := testConfig(t)
	cfg.Connections.SourceDB = database.DatabaseConfig{}
	_, err := newTestExecutor(cfg).Backup(ctx, BackupRequest{})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)

	cfg, _, _ = testConfig(t)
	cfg.Backup.Strategy = "mysql-dump"
	_, err = newTestExecutor(cfg).Backup(ctx, BackupRequest{})
	assert.True(t, appErrors.IsKind(err, appErrors.KindStrategyUnavailable), "got %v", err)
}

func TestRestoreErrors(t *testing.T) {
	ctx := context.Background()
	cfg, _, _ := testConfig(t)
	executor := newTestExecutor(cfg)

	_, err := executor.Restore(ctx, RestoreRequest{})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)

	_, err = executor.Restore(ctx, RestoreRequest{Input: filepath.Join(t.TempDir(), "missing.sql")})
	assert.True(t, appErrors.IsKind(err, appErrors.KindFileNotFound), "got %v", err)

	script := filepath.Join(t.TempDir(), "data.sql")
	require.NoError(t, os.WriteFile(script, []byte("CREATE TABLE t (id INTEGER);\n"), 0644))
	cfg.Connections.TargetDB = database.DatabaseConfig{}
	_, err = executor.Restore(ctx, RestoreRequest{Input: script})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	cfg, _, _ := testConfig(t)
	cfg.Connections.TargetDB = database.DatabaseConfig{}
	executor := newTestExecutor(cfg)

	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.sql")
	require.NoError(t, os.WriteFile(plain, []byte("CREATE TABLE t (id INTEGER);\nINSERT INTO t VALUES (1);\n"), 0644))

	_, err := executor.Validate(ctx, ValidateRequest{Path: plain})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)

	report, err := executor.Validate(ctx, ValidateRequest{Path: plain, Dialect: "sqlite"})
	require.NoError(t, err)
	assert.True(t, report.Valid, "%v", report.Problems)
	assert.Equal(t, 2, report.Statements)

	evil := filepath.Join(dir, "evil.sql")
	require.NoError(t, os.WriteFile(evil, []byte("CREATE TABLE t (id INTEGER);\nATTACH DATABASE '/tmp/x.db' AS x;\n"), 0644))
	report, err = executor.Validate(ctx, ValidateRequest{Path: evil, Dialect: "sqlite"})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)
	require.NotNil(t, report)
	assert.False(t, report.Valid)

	_, err = executor.Validate(ctx, ValidateRequest{Path: filepath.Join(dir, "missing.sql")})
	assert.True(t, appErrors.IsKind(err, appErrors.KindFileNotFound), "got %v", err)

	_, err = executor.Validate(ctx, ValidateRequest{Path: plain, Dialect: "oracle"})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)
}

func TestValidateUsesSidecarDialect(t *testing.T) {
	ctx := context.Background()
	cfg, _, _ := testConfig(t)
	executor := newTestExecutor(cfg)

	outcome, err := executor.Backup(ctx, BackupRequest{})
	require.NoError(t, err)

	cfg.Connections.TargetDB = database.DatabaseConfig{}
	report, err := executor.Validate(ctx, ValidateRequest{Path: outcome.Result.Path})
	require.NoError(t, err)
	assert.True(t, report.Valid, "%v", report.Problems)
	assert.Equal(t, backup.FormatSQLiteNative, report.Format)
	assert.True(t, report.ChecksumVerified)
}

func TestTest(t *testing.T) {
	ctx := context.Background()
	cfg, _, _ := testConfig(t)
	executor := newTestExecutor(cfg)

	report, err := executor.Test(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	require.Len(t, report.Connections, 2)
	assert.Equal(t, "source", report.Connections[0].Role)
	assert.True(t, report.Connections[0].Connected)
	assert.NotEmpty(t, report.Connections[0].Version)
	assert.Equal(t, "target", report.Connections[1].Role)
	assert.Equal(t, config.Healthy, report.Health.OverallHealth)

	require.NotEmpty(t, report.Capabilities)
	assert.Equal(t, backup.TypeSQLiteNative, report.Capabilities[0].Strategy)
	assert.True(t, report.Capabilities[0].Passed())

	cfg.Connections = database.CLIConfig{}
	_, err = executor.Test(ctx)
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)
}

func TestEstimate(t *testing.T) {
	cfg, _, _ := testConfig(t)
	estimates, err := newTestExecutor(cfg).Estimate(context.Background())
	require.NoError(t, err)

	names := make([]string, len(estimates))
	for i, e := range estimates {
		names[i] = e.Strategy
	}
	assert.Equal(t, []string{backup.TypeSQLiteNative, backup.TypeSQLiteDump, backup.TypeSQLGeneration}, names)
	assert.True(t, estimates[0].Available)
	assert.Positive(t, estimates[0].Size)
	assert.Positive(t, estimates[0].Duration)
	assert.Empty(t, estimates[0].Error)
}

func TestStrategies(t *testing.T) {
	executor := newTestExecutor(config.Default())

	all, err := executor.Strategies("")
	require.NoError(t, err)
	types := map[string]bool{}
	for _, d := range all {
		types[d.Type] = true
	}
	for _, want := range []string{backup.TypeMySQLDump, backup.TypePostgresDump, backup.TypeSQLiteNative, backup.TypeSQLiteDump, backup.TypeSQLGeneration} {
		assert.True(t, types[want], want)
	}

	sqlite, err := executor.Strategies("sqlite3")
	require.NoError(t, err)
	require.Len(t, sqlite, 3)
	for _, d := range sqlite {
		assert.Equal(t, dialect.SQLite, d.Dialect)
	}

	_, err = executor.Strategies("oracle")
	assert.Error(t, err)
}

func TestArtifactName(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	native := backup.NewDescriptor(backup.TypeSQLiteNative, "", dialect.SQLite, 10, true, false)
	sqlgen := backup.NewDescriptor(backup.TypeSQLGeneration, "", dialect.MySQL, 50, true, true)

	tests := []struct {
		name        string
		conn        database.DatabaseConfig
		desc        backup.Descriptor
		target      dialect.Dialect
		compression backup.Compression
		encrypted   bool
		want        string
	}{
		{"sqlite path", database.DatabaseConfig{Dialect: dialect.SQLite, Path: "/data/app.db"}, native, "", backup.CompressionNone, false, "app-20260304-050607.db"},
		{"compressed and encrypted", database.DatabaseConfig{Dialect: dialect.MySQL, Database: "shop"}, sqlgen, "", backup.CompressionZstd, true, "shop-20260304-050607.sql.zst.enc"},
		{"cross dialect", database.DatabaseConfig{Dialect: dialect.MySQL, Database: "shop"}, sqlgen, dialect.Postgres, backup.CompressionNone, false, "shop-20260304-050607.postgres.sql"},
		{"no name", database.DatabaseConfig{Dialect: dialect.MySQL}, sqlgen, "", backup.CompressionGzip, false, "backup-20260304-050607.sql.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, artifactName(tt.conn, tt.desc, tt.target, tt.compression, tt.encrypted, now))
		})
	}
}

func TestTimeout(t *testing.T) {
	cfg, _, _ := testConfig(t)
	cfg.Timeout = time.Nanosecond
	executor := newTestExecutor(cfg)

	err := executor.run(context.Background(), "backup", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, appErrors.IsKind(err, appErrors.KindTimeout), "got %v", err)
}

func TestRestoreAsksBeforeWritingIntoNonEmptyTarget(t *testing.T) {
	ctx := context.Background()
	cfg, _, targetPath := testConfig(t)
	createSQLite(t, targetPath, `CREATE TABLE users (id INTEGER PRIMARY KEY)`, `CREATE TABLE audit (id INTEGER)`)

	script := filepath.Join(t.TempDir(), "extra.sql")
	require.NoError(t, os.WriteFile(script, []byte("CREATE TABLE extra (id INTEGER);\nINSERT INTO extra VALUES (1);\n"), 0644))

	var asked confirmation.Request
	decline := func(req confirmation.Request) (bool, error) {
		asked = req
		return false, nil
	}
	_, err := newTestExecutor(cfg).Restore(ctx, RestoreRequest{Input: script, Confirm: decline})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	assert.ElementsMatch(t, []string{"users", "audit"}, asked.Existing)
	assert.Equal(t, "sqlite:"+targetPath, asked.Target)
	assert.False(t, tableExists(t, targetPath, "extra"))

	approve := func(req confirmation.Request) (bool, error) {
		asked = req
		return true, nil
	}
	result, err := newTestExecutor(cfg).Restore(ctx, RestoreRequest{Input: script, Tables: []string{"extra", "users"}, Confirm: approve})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, []string{"users"}, asked.Existing)
	assert.Equal(t, 1, countRows(t, targetPath, "extra"))
}

func TestSchema(t *testing.T) {
	ctx := context.Background()
	cfg, _, _ := testConfig(t)
	executor := newTestExecutor(cfg)

	outcome, err := executor.Schema(ctx, SchemaRequest{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users", "notes"}, outcome.Source.TableNames())
	assert.Nil(t, outcome.Translated)

	outcome, err = executor.Schema(ctx, SchemaRequest{Tables: []string{"users"}, TargetDialect: "postgres"})
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, outcome.Source.TableNames())
	require.NotNil(t, outcome.Translated)
	assert.Equal(t, dialect.Postgres, outcome.Translated.Dialect)
	assert.Equal(t, dialect.SQLite, outcome.Source.Dialect)

	_, err = executor.Schema(ctx, SchemaRequest{Tables: []string{"missing"}})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)

	_, err = executor.Schema(ctx, SchemaRequest{TargetDialect: "oracle"})
	assert.True(t, appErrors.IsKind(err, appErrors.KindValidationFailed), "got %v", err)
}
