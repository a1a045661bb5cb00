package backup

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/logging"
	"sqlferry/internal/parser"
	"sqlferry/internal/restore"
)

// Strategy type identifiers
const (
	TypeSQLiteNative  = "sqlite-native"
	TypeMySQLDump     = "mysql-dump"
	TypePostgresDump  = "postgres-dump"
	TypeSQLiteDump    = "sqlite-dump"
	TypeSQLGeneration = "sql-generation"
)

// Capability check names
const (
	CheckConnection    = "connection"
	CheckTempWritable  = "temp-writable"
	CheckVacuumInto    = "vacuum-into"
	CheckSourceFile    = "source-file"
	CheckIntrospection = "introspection"
	checkBinaryPrefix  = "binary:"
)

// baseStrategy carries what every variant shares: configuration, the
// artifact pipeline, the SQL restore path and size estimates
type baseStrategy struct {
	desc      Descriptor
	cfg       StrategyConfig
	logger    *logging.Logger
	artifacts artifactBuilder
	// throughput is the assumed bytes per second used by EstimateBackupTime
	throughput float64
}

func newBaseStrategy(desc Descriptor, cfg StrategyConfig, throughput float64) baseStrategy {
	return baseStrategy{
		desc:   desc,
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger),
		artifacts: artifactBuilder{
			compression: NewCompressionManager(),
			encryption:  NewEncryptionManager(cfg.Passphrase),
		},
		throughput: throughput,
	}
}

func (b *baseStrategy) Descriptor() Descriptor {
	return b.desc
}

func (b *baseStrategy) SupportsCompression() bool {
	return b.desc.Compression
}

func (b *baseStrategy) dialect() dialect.Dialect {
	return b.cfg.Connection.Dialect
}

// DetectBackupFormat returns the payload format. The sidecar is trusted when
// present; otherwise compressed and encrypted layers are unwrapped.
func (b *baseStrategy) DetectBackupFormat(path string) (Format, error) {
	if meta, err := ReadMetadata(path); err == nil && meta.Format != "" {
		return meta.Format, nil
	}
	format, err := DetectFormat(path)
	if err != nil {
		return FormatUnknown, err
	}
	if _, wrapped := compressionFormat(format); !wrapped && format != FormatEncrypted {
		return format, nil
	}
	if format == FormatEncrypted && !b.artifacts.encryption.Enabled() {
		return FormatEncrypted, nil
	}
	art, err := b.artifacts.open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer art.Close()
	return art.Format, nil
}

func (b *baseStrategy) probeConnection(ctx context.Context, report *CapabilityReport) {
	if b.cfg.DB == nil {
		report.add(CheckConnection, false, "no database connection")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := b.cfg.DB.PingContext(ctx); err != nil {
		report.add(CheckConnection, false, logging.RedactSecrets(err.Error(), b.cfg.Connection.Password))
		return
	}
	report.add(CheckConnection, true, b.cfg.Connection.Target())
}

func (b *baseStrategy) probeBinary(ctx context.Context, report *CapabilityReport, name string) {
	if b.cfg.Executor == nil {
		report.add(checkBinaryPrefix+name, false, "no process executor")
		return
	}
	ok := b.cfg.Executor.Available(ctx, name)
	detail := "found on PATH"
	if !ok {
		detail = "not found on PATH"
	}
	report.add(checkBinaryPrefix+name, ok, detail)
}

func (b *baseStrategy) probeTempWritable(report *CapabilityReport) {
	f, err := os.CreateTemp("", "sqlferry-probe-*")
	if err != nil {
		report.add(CheckTempWritable, false, err.Error())
		return
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	report.add(CheckTempWritable, true, os.TempDir())
}

// create wraps the artifact pipeline with logging and metrics
func (b *baseStrategy) create(ctx context.Context, outputPath string, opts Options, meta *Metadata, write payloadWriter) (*BackupResult, error) {
	opts.setDefaults()
	if opts.Compression != CompressionNone && !b.desc.Compression {
		err := apperrors.New(apperrors.KindValidationFailed,
			fmt.Sprintf("strategy %s does not support compression", b.desc.Type), nil)
		return &BackupResult{Path: outputPath, Message: apperrors.FormatUserError(err)}, err
	}

	meta.Strategy = b.desc.Type
	meta.Dialect = b.dialect()
	if meta.Database == "" {
		meta.Database = b.cfg.Connection.Database
		if meta.Database == "" {
			meta.Database = b.cfg.Connection.Path
		}
	}
	meta.Tables = append([]string(nil), opts.Tables...)

	start := time.Now()
	done := b.logger.LogOperationStart("backup", map[string]interface{}{
		"strategy":    b.desc.Type,
		"dialect":     b.dialect().String(),
		"output":      outputPath,
		"compression": string(opts.Compression),
	})

	meta, err := b.artifacts.create(ctx, outputPath, opts, meta, write)
	duration := time.Since(start)
	done(err)

	var size int64
	if meta != nil {
		size = meta.Size
	}
	b.cfg.Metrics.ObserveBackup(b.desc.Type, size, duration, err)

	if err != nil {
		wrapped := apperrors.Wrap(err, apperrors.KindBackupFailed, "backup failed")
		if be, ok := wrapped.(*apperrors.BackupError); ok {
			be.WithContext("strategy", b.desc.Type).WithContext("path", outputPath)
		}
		return &BackupResult{Path: outputPath, Duration: duration, Message: apperrors.FormatUserError(wrapped)}, wrapped
	}
	return &BackupResult{
		Success:  true,
		Path:     outputPath,
		Metadata: meta,
		Duration: duration,
		Message:  fmt.Sprintf("wrote %s (%s)", describeArtifact(meta), humanize.Bytes(uint64(meta.Size))),
	}, nil
}

func (b *baseStrategy) failedRestore(err error, format Format) (*RestoreResult, error) {
	return &RestoreResult{
		Strategy: b.desc.Type,
		Format:   format,
		Message:  apperrors.FormatUserError(err),
	}, err
}

// checkDialect rejects SQL written for a different engine than the target
func (b *baseStrategy) checkDialect(format Format, meta *Metadata) error {
	written, known := format.Dialect()
	if meta != nil {
		if meta.TargetDialect != "" {
			written, known = meta.TargetDialect, true
		} else if meta.Dialect != "" && !known {
			written, known = meta.Dialect, true
		}
	}
	if known && written != b.dialect() {
		return apperrors.New(apperrors.KindValidationFailed,
			fmt.Sprintf("backup was written for %s but the target is %s", written, b.dialect()), nil).
			WithContext("strategy", b.desc.Type)
	}
	return nil
}

// restoreSQL unwraps a SQL artifact and replays it through the orchestrator
func (b *baseStrategy) restoreSQL(ctx context.Context, path string, opts restore.Options) (*RestoreResult, error) {
	if b.cfg.DB == nil {
		return b.failedRestore(apperrors.New(apperrors.KindDatabaseConnection, "no target database connection", nil), FormatUnknown)
	}
	art, err := b.artifacts.open(path)
	if err != nil {
		return b.failedRestore(err, FormatUnknown)
	}
	defer art.Close()

	if !art.Format.IsSQL() {
		return b.failedRestore(apperrors.New(apperrors.KindValidationFailed,
			fmt.Sprintf("strategy %s cannot restore %s backups", b.desc.Type, art.Format), nil), art.Format)
	}
	if err := b.checkDialect(art.Format, art.Metadata); err != nil {
		return b.failedRestore(err, art.Format)
	}

	orchestrator := restore.NewOrchestrator(b.dialect(), b.logger).WithMetrics(b.cfg.Metrics)
	res, err := orchestrator.Restore(ctx, b.cfg.DB, art.Path, opts)
	result := &RestoreResult{Strategy: b.desc.Type, Format: art.Format}
	if res != nil {
		result.Success, result.Message, result.Stats = res.Success, res.Message, res.Stats
	}
	if err != nil {
		wrapped := apperrors.Wrap(err, apperrors.KindRestoreFailed, "restore failed")
		if be, ok := wrapped.(*apperrors.BackupError); ok {
			be.WithContext("strategy", b.desc.Type).WithContext("path", path)
		}
		result.Success = false
		return result, wrapped
	}
	return result, nil
}

// PartialRestore replays only statements targeting tables
func (b *baseStrategy) PartialRestore(ctx context.Context, path string, tables []string, opts restore.Options) (*RestoreResult, error) {
	if len(tables) == 0 {
		return b.failedRestore(apperrors.New(apperrors.KindValidationFailed, "partial restore needs at least one table", nil), FormatUnknown)
	}
	opts.Tables = append([]string(nil), tables...)
	return b.restoreSQL(ctx, path, opts)
}

// scanStatements parses a SQL payload into a validation report
func (b *baseStrategy) scanStatements(art *openedArtifact, report *ValidationReport) []parser.Statement {
	d, known := art.Format.Dialect()
	if !known {
		d = b.dialect()
	}
	report.Dialect = d

	f, err := os.Open(art.Path)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return nil
	}
	defer f.Close()

	stmts, err := parser.New(d).ParseReader(f)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return nil
	}

	tables := map[string]bool{}
	for i, stmt := range stmts {
		report.Statements++
		switch stmt.Kind {
		case parser.KindDDL:
			report.DDL++
		case parser.KindDML:
			report.DML++
		}
		if parser.IsSequenceSet(stmt) {
			// names a sequence or the counter table, not a data table
			report.Sequences++
		} else if name := parser.TableName(stmt); name != "" {
			tables[name] = true
		}
		if err := restore.ValidateStatement(stmt); err != nil {
			report.Rejected = append(report.Rejected, restore.Failure{
				Index:   i,
				Line:    stmt.Line,
				Preview: logging.SanitizeSQL(logging.Preview(stmt.Text, 120)),
				Message: err.Error(),
			})
		}
	}
	for name := range tables {
		report.Tables = append(report.Tables, name)
	}
	sort.Strings(report.Tables)
	return stmts
}

// ValidateBackupFile checks an artifact without touching the database.
// Missing, empty and undecryptable files are errors; content problems are
// reported with Valid false.
func (b *baseStrategy) ValidateBackupFile(ctx context.Context, path string) (*ValidationReport, error) {
	art, err := b.artifacts.open(path)
	if err != nil {
		return nil, err
	}
	defer art.Close()

	report := &ValidationReport{Path: path, Format: art.Format, ChecksumVerified: art.Verified}
	switch {
	case art.Format.IsSQL():
		b.scanStatements(art, report)
		if report.Statements == 0 && len(report.Problems) == 0 {
			report.Problems = append(report.Problems, "backup contains no statements")
		}
		if len(report.Rejected) > 0 {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%d statements would be rejected by statement validation", len(report.Rejected)))
		}
	case art.Format == FormatSQLiteNative:
		report.Dialect = dialect.SQLite
		if err := inspectSQLiteFile(ctx, art.Path, report); err != nil {
			report.Problems = append(report.Problems, err.Error())
		}
	default:
		report.Problems = append(report.Problems, "unrecognized backup format")
	}
	if err := b.checkDialect(art.Format, art.Metadata); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}
	report.Valid = len(report.Problems) == 0
	return report, nil
}

// GetRestoreOptions infers options from the backup content
func (b *baseStrategy) GetRestoreOptions(ctx context.Context, path string) (restore.Options, error) {
	opts := restore.DefaultOptions()
	art, err := b.artifacts.open(path)
	if err != nil {
		return opts, err
	}
	defer art.Close()
	if !art.Format.IsSQL() {
		return opts, nil
	}

	report := &ValidationReport{}
	stmts := b.scanStatements(art, report)
	opts.ResetSequences = report.Sequences > 0
	// MySQL commits implicitly on DDL, so a transaction only helps data-only files
	opts.ExecuteInTransaction = b.dialect().SupportsTransactionalDDL() || report.DDL == 0
	for _, stmt := range stmts {
		if parser.IsTransactionControl(stmt) {
			// the file manages its own transaction
			opts.ExecuteInTransaction = false
			break
		}
	}
	return opts, nil
}

// EstimateBackupSize asks the engine for the on-disk size of the database
func (b *baseStrategy) EstimateBackupSize(ctx context.Context) (int64, error) {
	if b.cfg.DB == nil {
		return 0, apperrors.New(apperrors.KindDatabaseConnection, "no database connection", nil)
	}
	var query string
	var args []any
	switch b.dialect() {
	case dialect.MySQL:
		query = `SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.tables WHERE table_schema = ?`
		args = append(args, b.cfg.Connection.Database)
	case dialect.Postgres:
		query = `SELECT pg_database_size(current_database())`
	case dialect.SQLite:
		query = `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`
	default:
		return 0, apperrors.New(apperrors.KindValidationFailed, fmt.Sprintf("unsupported dialect %q", b.dialect()), nil)
	}

	var size int64
	if err := b.cfg.DB.QueryRowContext(ctx, query, args...).Scan(&size); err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindDatabaseConnection, "failed to estimate database size")
	}
	return size, nil
}

// EstimateBackupTime divides the size estimate by the strategy throughput
func (b *baseStrategy) EstimateBackupTime(ctx context.Context) (time.Duration, error) {
	size, err := b.EstimateBackupSize(ctx)
	if err != nil {
		return 0, err
	}
	return estimateDuration(size, b.throughput), nil
}

func estimateDuration(size int64, throughput float64) time.Duration {
	if throughput <= 0 {
		throughput = 1 << 20
	}
	d := time.Duration(float64(size) / throughput * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}
