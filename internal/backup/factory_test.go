package backup

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlferry/internal/database"
	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/restore"
)

// fakeStrategy passes or fails its probe on demand and counts probes
type fakeStrategy struct {
	desc   Descriptor
	pass   bool
	probes int
}

func newFake(typ string, priority int, pass bool) *fakeStrategy {
	return &fakeStrategy{desc: NewDescriptor(typ, "fake", dialect.SQLite, priority, false, false), pass: pass}
}

func (f *fakeStrategy) Descriptor() Descriptor { return f.desc }

func (f *fakeStrategy) TestCapabilities(ctx context.Context) CapabilityReport {
	f.probes++
	report := CapabilityReport{Strategy: f.desc.Type}
	report.add("fake", f.pass, "")
	return report
}

func (f *fakeStrategy) CreateBackup(ctx context.Context, outputPath string, opts Options) (*BackupResult, error) {
	return &BackupResult{Success: true, Path: outputPath}, nil
}

func (f *fakeStrategy) RestoreBackup(ctx context.Context, backupPath string, opts restore.Options) (*RestoreResult, error) {
	return &RestoreResult{Success: true, Strategy: f.desc.Type}, nil
}

func (f *fakeStrategy) EstimateBackupSize(ctx context.Context) (int64, error)         { return 0, nil }
func (f *fakeStrategy) EstimateBackupTime(ctx context.Context) (time.Duration, error) { return 0, nil }
func (f *fakeStrategy) SupportsCompression() bool                                     { return false }
func (f *fakeStrategy) DetectBackupFormat(path string) (Format, error)                { return DetectFormat(path) }

func TestFactorySelect_LowestPriorityPassingWins(t *testing.T) {
	factory := NewFactoryWithCandidates(nil,
		newFake("slow", 100, true),
		newFake("fast", 10, false),
		newFake("medium-a", 20, true),
		newFake("medium-b", 20, true),
	)

	for i := 0; i < 5; i++ {
		selected, err := factory.Select(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "medium-a", selected.Descriptor().Type)
	}
}

func TestFactorySelect_Forced(t *testing.T) {
	preferred := newFake("preferred", 10, true)
	fallback := newFake("fallback", 100, true)
	broken := newFake("broken", 1, false)
	factory := NewFactoryWithCandidates(nil, preferred, fallback, broken)

	selected, err := factory.Select(context.Background(), "fallback")
	require.NoError(t, err)
	assert.Same(t, fallback, selected)
	assert.Zero(t, preferred.probes, "forcing a strategy should only probe that strategy")

	_, err = factory.Select(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStrategyUnavailable))

	_, err = factory.Select(context.Background(), "missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindStrategyUnavailable))
}

func TestFactorySelect_NoneAvailable(t *testing.T) {
	factory := NewFactoryWithCandidates(nil, newFake("a", 1, false), newFake("b", 2, false))
	_, err := factory.Select(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStrategyUnavailable))
}

func TestFactoryProbeAndGet(t *testing.T) {
	factory := NewFactoryWithCandidates(nil, newFake("a", 1, true), newFake("b", 2, false))

	reports := factory.Probe(context.Background())
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Passed())
	assert.False(t, reports[1].Passed())
	assert.Equal(t, []CapabilityCheck{{Name: "fake", Passed: false}}, reports[1].Failed())

	_, ok := factory.Get("b")
	assert.True(t, ok)
	_, ok = factory.Get("c")
	assert.False(t, ok)
	assert.Len(t, factory.Candidates(), 2)
}

func TestNewFactory_Registration(t *testing.T) {
	types := func(f *Factory) []string {
		var out []string
		for _, s := range f.Candidates() {
			out = append(out, s.Descriptor().Type)
		}
		return out
	}

	tests := []struct {
		name   string
		cfg    StrategyConfig
		expect []string
	}{
		{
			name:   "sqlite",
			cfg:    StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.SQLite, Path: "app.db"}},
			expect: []string{TypeSQLiteNative, TypeSQLiteDump, TypeSQLGeneration},
		},
		{
			name:   "mysql",
			cfg:    StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.MySQL}},
			expect: []string{TypeMySQLDump, TypeSQLGeneration},
		},
		{
			name:   "postgres",
			cfg:    StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.Postgres}},
			expect: []string{TypePostgresDump, TypeSQLGeneration},
		},
		{
			name:   "cross dialect",
			cfg:    StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.MySQL}, TargetDialect: dialect.Postgres},
			expect: []string{TypeSQLGeneration},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := NewFactory(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, types(factory))
		})
	}

	_, err := NewFactory(StrategyConfig{Connection: database.DatabaseConfig{Dialect: "oracle"}})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
	_, err = NewFactory(StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.MySQL}, TargetDialect: "db2"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
}

func TestNewFactory_SelectsSQLiteNative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	factory, err := NewFactory(StrategyConfig{DB: db, Connection: database.DatabaseConfig{Dialect: dialect.SQLite, Path: path}})
	require.NoError(t, err)

	selected, err := factory.Select(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, TypeSQLiteNative, selected.Descriptor().Type)

	report := selected.TestCapabilities(context.Background())
	assert.Equal(t, map[string]bool{CheckConnection: true, CheckVacuumInto: true, CheckTempWritable: true}, report.Map())
}

func TestFactoryForRestore(t *testing.T) {
	factory, err := NewFactory(StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.SQLite, Path: "app.db"}})
	require.NoError(t, err)

	sqlFile := writeTempFile(t, "dump.sql", []byte(sampleDump))
	s, format, err := factory.ForRestore(sqlFile)
	require.NoError(t, err)
	assert.Equal(t, TypeSQLGeneration, s.Descriptor().Type)
	assert.Equal(t, FormatSQL, format)

	native := writeTempFile(t, "app.db", []byte("SQLite format 3\x00rest-of-header"))
	s, format, err = factory.ForRestore(native)
	require.NoError(t, err)
	assert.Equal(t, TypeSQLiteNative, s.Descriptor().Type)
	assert.Equal(t, FormatSQLiteNative, format)

	dumped := writeTempFile(t, "dumped.sql", []byte(sampleDump))
	require.NoError(t, WriteMetadata(dumped, &Metadata{Strategy: TypeSQLiteDump, Format: FormatSQLiteSQL}))
	s, format, err = factory.ForRestore(dumped)
	require.NoError(t, err)
	assert.Equal(t, TypeSQLiteDump, s.Descriptor().Type)
	assert.Equal(t, FormatSQLiteSQL, format)

	mysqlFactory, err := NewFactory(StrategyConfig{Connection: database.DatabaseConfig{Dialect: dialect.MySQL}})
	require.NoError(t, err)
	_, _, err = mysqlFactory.ForRestore(native)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStrategyUnavailable))

	_, _, err = factory.ForRestore(filepath.Join(t.TempDir(), "missing.sql"))
	assert.True(t, apperrors.IsKind(err, apperrors.KindFileNotFound))
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, time.Second, estimateDuration(10, 1<<20))
	assert.Equal(t, 10*time.Second, estimateDuration(100<<20, 10<<20))
	assert.Equal(t, time.Second, estimateDuration(0, 0))
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, versionAtLeast("3.27.0", vacuumIntoVersion))
	assert.True(t, versionAtLeast("3.45.1", vacuumIntoVersion))
	assert.True(t, versionAtLeast("4.0", vacuumIntoVersion))
	assert.False(t, versionAtLeast("3.26.9", vacuumIntoVersion))
	assert.False(t, versionAtLeast("3.x", vacuumIntoVersion))
}
