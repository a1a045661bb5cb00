// Package execution runs sqlferry's commands: it connects to the configured
// databases, picks strategies and moves artifacts to and from storage.
package execution

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sqlferry/internal/backup"
	"sqlferry/internal/config"
	"sqlferry/internal/confirmation"
	"sqlferry/internal/database"
	"sqlferry/internal/dialect"
	"sqlferry/internal/errors"
	"sqlferry/internal/logging"
	"sqlferry/internal/metrics"
	"sqlferry/internal/process"
	"sqlferry/internal/restore"
	"sqlferry/internal/schema"
)

// StoreFactory opens an artifact store; backup.NewStore in production
type StoreFactory func(ctx context.Context, cfg backup.StorageConfig) (backup.Store, error)

// Executor handles the command execution flow with error recovery
type Executor struct {
	config          *config.Config
	logger          *logging.Logger
	metrics         *metrics.Recorder
	dbService       database.DatabaseService
	connections     *database.ConnectionManager
	processExecutor *process.Executor
	newStore        StoreFactory
}

// NewExecutor creates an executor over cfg. rec may be nil.
func NewExecutor(cfg *config.Config, logger *logging.Logger, rec *metrics.Recorder) *Executor {
	logger = logging.OrNop(logger)
	dbService := database.NewServiceWithOptions(logger, 30*time.Second, 3, 2*time.Second)
	return &Executor{
		config:          cfg,
		logger:          logger,
		metrics:         rec,
		dbService:       dbService,
		connections:     database.NewConnectionManager(dbService),
		processExecutor: process.NewExecutor(logger),
		newStore:        backup.NewStore,
	}
}

// WithDatabaseService replaces the service used to open connections
func (e *Executor) WithDatabaseService(service database.DatabaseService) *Executor {
	e.dbService = service
	e.connections = database.NewConnectionManager(service)
	return e
}

// WithStoreFactory replaces the artifact store constructor
func (e *Executor) WithStoreFactory(fn StoreFactory) *Executor {
	e.newStore = fn
	return e
}

// GetLogger returns the logger instance
func (e *Executor) GetLogger() *logging.Logger {
	return e.logger
}

// run wraps one command with the configured timeout, signal handling,
// connection cleanup and a duration metric
func (e *Executor) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.config.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, e.config.Timeout)
		defer cancelTimeout()
	}

	shutdownHandler := errors.NewGracefulShutdownHandler()
	shutdownHandler.RegisterShutdownFunc(func() error {
		e.logger.WithField("operation", operation).Warn("Interrupted, cancelling")
		cancel()
		return nil
	})
	shutdownHandler.Start()
	defer shutdownHandler.Stop()
	defer e.connections.Close()

	start := time.Now()
	err := fn(ctx)
	// strategies record backup and restore themselves; this is the whole command
	e.metrics.ObserveDuration("command_"+operation, time.Since(start))
	if err != nil && ctx.Err() == context.DeadlineExceeded && e.config.Timeout > 0 {
		return errors.NewTimeout(operation+" exceeded the configured timeout", e.config.Timeout)
	}
	return err
}

func (e *Executor) source() (*database.DatabaseConfig, error) {
	cfg, err := e.config.Connections.Source()
	if err != nil {
		return nil, errors.New(errors.KindValidationFailed, "source connection is not configured", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

func (e *Executor) target() (*database.DatabaseConfig, error) {
	cfg, err := e.config.Connections.Target()
	if err != nil {
		return nil, errors.New(errors.KindValidationFailed, "target connection is not configured", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// factory builds the strategy set for one connection. Backups only encrypt
// when asked to; restores and validation use any passphrase available.
func (e *Executor) factory(db *sql.DB, conn database.DatabaseConfig, targetDialect dialect.Dialect, forBackup bool) (*backup.Factory, error) {
	passphrase, err := e.config.Passphrase()
	if err != nil {
		return nil, errors.New(errors.KindValidationFailed, "encryption passphrase is missing", err)
	}
	if forBackup && !e.config.Backup.Encrypt {
		passphrase = ""
	}
	return backup.NewFactory(backup.StrategyConfig{
		DB:            db,
		Connection:    conn,
		TargetDialect: targetDialect,
		Passphrase:    passphrase,
		Executor:      e.processExecutor,
		Logger:        e.logger,
		Metrics:       e.metrics,
	})
}

func (e *Executor) backupTargetDialect() (dialect.Dialect, error) {
	if e.config.Backup.TargetDialect == "" {
		return "", nil
	}
	d, err := dialect.Parse(e.config.Backup.TargetDialect)
	if err != nil {
		return "", errors.New(errors.KindValidationFailed, "invalid target dialect", err)
	}
	return d, nil
}

func (e *Executor) openStore(ctx context.Context) (backup.Store, func(), error) {
	store, err := e.newStore(ctx, e.config.Storage)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.KindPermissionDenied, "failed to open artifact store")
	}
	closeFn := func() {
		if c, ok := store.(io.Closer); ok {
			c.Close()
		}
	}
	return store, closeFn, nil
}

// BackupRequest carries the per-invocation backup inputs. Strategy,
// compression and target dialect come from the configuration.
type BackupRequest struct {
	// Output is the artifact path; empty derives one in backup.output_dir
	Output string
	Tables []string
	// Upload copies the artifact to the configured store and applies retention
	Upload   bool
	Progress backup.ProgressFunc
}

// BackupOutcome reports a backup run
type BackupOutcome struct {
	Strategy  string
	Result    *backup.BackupResult
	Location  string
	Retention *backup.RetentionResult
}

// Backup selects a strategy for the source connection and writes an artifact
func (e *Executor) Backup(ctx context.Context, req BackupRequest) (*BackupOutcome, error) {
	outcome := &BackupOutcome{}
	err := e.run(ctx, "backup", func(ctx context.Context) error {
		source, err := e.source()
		if err != nil {
			return err
		}
		targetDialect, err := e.backupTargetDialect()
		if err != nil {
			return err
		}
		opts, err := e.config.BackupOptions()
		if err != nil {
			return errors.New(errors.KindValidationFailed, "invalid backup options", err)
		}
		opts.Tables = req.Tables
		opts.Progress = req.Progress

		db, err := e.connections.ConnectToSource(ctx, *source)
		if err != nil {
			return err
		}
		factory, err := e.factory(db, *source, targetDialect, true)
		if err != nil {
			return err
		}
		strategy, err := factory.Select(ctx, e.config.Backup.Strategy)
		if err != nil {
			return err
		}
		outcome.Strategy = strategy.Descriptor().Type

		output := req.Output
		if output == "" {
			output = filepath.Join(e.config.Backup.OutputDir,
				artifactName(*source, strategy.Descriptor(), targetDialect, opts.Compression, e.config.Backup.Encrypt, time.Now()))
		}

		result, err := strategy.CreateBackup(ctx, output, opts)
		outcome.Result = result
		if err != nil {
			return err
		}

		e.logger.WithFields(map[string]interface{}{
			"strategy": outcome.Strategy,
			"path":     result.Path,
			"duration": result.Duration.String(),
		}).Info("Backup completed successfully")

		if req.Upload {
			return e.upload(ctx, result.Path, artifactStem(*source), outcome)
		}
		return nil
	})
	return outcome, err
}

func (e *Executor) upload(ctx context.Context, path, stem string, outcome *BackupOutcome) error {
	store, closeStore, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	location, err := backup.UploadArtifact(ctx, store, path)
	if err != nil {
		return errors.Wrap(err, errors.KindBackupFailed, "failed to upload backup")
	}
	outcome.Location = location
	e.logger.WithFields(map[string]interface{}{
		"provider": string(e.config.Storage.Provider),
		"location": location,
	}).Info("Backup uploaded")

	if !e.config.Retention.Enabled() {
		return nil
	}
	retention, err := backup.ApplyRetention(ctx, store, stem+"-", e.config.Retention, false, e.logger)
	outcome.Retention = retention
	if err != nil {
		return errors.Wrap(err, errors.KindBackupFailed, "failed to apply retention policy")
	}
	return nil
}

// artifactStem names a database's artifacts; retention works per stem
func artifactStem(conn database.DatabaseConfig) string {
	name := conn.Database
	if name == "" && conn.Path != "" {
		name = strings.TrimSuffix(filepath.Base(conn.Path), filepath.Ext(conn.Path))
	}
	if name == "" {
		name = "backup"
	}
	return name
}

// artifactName derives <stem>-<timestamp>.<payload>[.<compression>][.enc]
func artifactName(conn database.DatabaseConfig, desc backup.Descriptor, targetDialect dialect.Dialect, compression backup.Compression, encrypted bool, now time.Time) string {
	ext := ".sql"
	if desc.Type == backup.TypeSQLiteNative {
		ext = ".db"
	}
	if targetDialect != "" && targetDialect != conn.Dialect {
		ext = "." + targetDialect.String() + ext
	}
	name := fmt.Sprintf("%s-%s%s%s", artifactStem(conn), now.UTC().Format("20060102-150405"), ext, compression.Extension())
	if encrypted {
		name += ".enc"
	}
	return name
}

// RestoreRequest carries the per-invocation restore inputs
type RestoreRequest struct {
	// Input is a local artifact path
	Input string
	// From is a store key downloaded before restoring; it wins over Input
	From   string
	Tables []string
	// Overrides applies options given explicitly on the command line. They
	// win over options inferred from the backup.
	Overrides func(*restore.Options)
	Progress  restore.ProgressFunc
	// Confirm is asked before writing into a target that already has
	// tables; nil restores without asking
	Confirm func(confirmation.Request) (bool, error)
}

// Restore replays an artifact into the target connection
func (e *Executor) Restore(ctx context.Context, req RestoreRequest) (*backup.RestoreResult, error) {
	var result *backup.RestoreResult
	err := e.run(ctx, "restore", func(ctx context.Context) error {
		path := req.Input
		if req.From != "" {
			dir, err := os.MkdirTemp("", "sqlferry-restore-*")
			if err != nil {
				return errors.Wrap(err, errors.KindPermissionDenied, "failed to create download directory")
			}
			defer os.RemoveAll(dir)

			store, closeStore, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			path, err = backup.DownloadArtifact(ctx, store, req.From, dir)
			closeStore()
			if err != nil {
				return err
			}
			e.logger.WithField("key", req.From).Info("Backup downloaded")
		}
		if path == "" {
			return errors.New(errors.KindValidationFailed, "a backup file is required", nil)
		}
		if _, err := os.Stat(path); err != nil {
			return errors.NewFileNotFound(path, err)
		}

		target, err := e.target()
		if err != nil {
			return err
		}
		db, err := e.connections.ConnectToTarget(ctx, *target)
		if err != nil {
			return err
		}
		factory, err := e.factory(db, *target, "", false)
		if err != nil {
			return err
		}
		strategy, format, err := factory.ForRestore(path)
		if err != nil {
			return err
		}
		rs, extended := strategy.(backup.RestoreStrategy)

		opts := e.config.RestoreOptions()
		if e.config.Restore.InferOptions && extended {
			inferred, err := rs.GetRestoreOptions(ctx, path)
			if err != nil {
				e.logger.WithField("error", err.Error()).Warn("Could not infer restore options, using configured ones")
			} else {
				inferred.ProgressInterval = opts.ProgressInterval
				inferred.MaxFailureRecords = opts.MaxFailureRecords
				inferred.StopOnError = opts.StopOnError
				inferred.Parser = opts.Parser
				opts = inferred
			}
		}
		if req.Overrides != nil {
			req.Overrides(&opts)
		}
		opts.Progress = req.Progress

		if req.Confirm != nil {
			if err := e.confirmRestore(ctx, db, target, strategy.Descriptor().Type, req); err != nil {
				return err
			}
		}

		e.logger.WithFields(map[string]interface{}{
			"strategy":    strategy.Descriptor().Type,
			"format":      string(format),
			"path":        path,
			"transaction": opts.ExecuteInTransaction,
			"tables":      len(req.Tables),
		}).Info("Starting restore")

		if len(req.Tables) > 0 {
			if !extended {
				return errors.NewStrategyUnavailable(strategy.Descriptor().Type, fmt.Errorf("partial restore is not supported"))
			}
			result, err = rs.PartialRestore(ctx, path, req.Tables, opts)
		} else {
			result, err = strategy.RestoreBackup(ctx, path, opts)
		}
		return err
	})
	return result, err
}

// confirmRestore lists the target tables the restore may touch and asks
// req.Confirm when there are any
func (e *Executor) confirmRestore(ctx context.Context, db *sql.DB, target *database.DatabaseConfig, strategy string, req RestoreRequest) error {
	extractor, err := schema.NewExtractor(target.Dialect)
	if err != nil {
		return err
	}
	name, err := extractor.CurrentSchema(ctx, db)
	if err != nil {
		return err
	}
	existing, err := extractor.Extract(ctx, db, name)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(req.Tables))
	for _, t := range req.Tables {
		wanted[strings.ToLower(t)] = true
	}
	var tables []string
	for _, t := range existing.Tables {
		if len(wanted) == 0 || wanted[strings.ToLower(t.Name)] {
			tables = append(tables, t.Name)
		}
	}

	ok, err := req.Confirm(confirmation.Request{Target: target.Target(), Strategy: strategy, Existing: tables})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.KindGeneral, "restore cancelled by user", nil)
	}
	if len(tables) > 0 {
		e.logger.WithField("tables", len(tables)).Info("Restoring into a non-empty target")
	}
	return nil
}

// ValidateRequest names the artifact to check and, optionally, its dialect
type ValidateRequest struct {
	Path    string
	Dialect string
}

// Validate checks an artifact without connecting to a database. An invalid
// artifact returns its report together with a validation error.
func (e *Executor) Validate(ctx context.Context, req ValidateRequest) (*backup.ValidationReport, error) {
	var report *backup.ValidationReport
	err := e.run(ctx, "validate", func(ctx context.Context) error {
		if req.Path == "" {
			return errors.New(errors.KindValidationFailed, "a backup file is required", nil)
		}
		if _, err := os.Stat(req.Path); err != nil {
			return errors.NewFileNotFound(req.Path, err)
		}
		d, err := e.validationDialect(req)
		if err != nil {
			return err
		}

		factory, err := e.factory(nil, database.DatabaseConfig{Dialect: d}, "", false)
		if err != nil {
			return err
		}
		strategy, _, err := factory.ForRestore(req.Path)
		if err != nil {
			return err
		}
		rs, ok := strategy.(backup.RestoreStrategy)
		if !ok {
			return errors.NewStrategyUnavailable(strategy.Descriptor().Type, fmt.Errorf("validation is not supported"))
		}
		report, err = rs.ValidateBackupFile(ctx, req.Path)
		if err != nil {
			return err
		}
		e.logger.WithFields(map[string]interface{}{
			"path":       req.Path,
			"format":     string(report.Format),
			"statements": report.Statements,
			"valid":      report.Valid,
		}).Info("Backup validated")
		if !report.Valid {
			return errors.New(errors.KindValidationFailed,
				fmt.Sprintf("backup has %d problem(s)", len(report.Problems)), nil).
				WithContext("path", req.Path)
		}
		return nil
	})
	return report, err
}

// validationDialect picks the dialect to validate against: the request,
// the target connection, the sidecar, then the detected format
func (e *Executor) validationDialect(req ValidateRequest) (dialect.Dialect, error) {
	if req.Dialect != "" {
		d, err := dialect.Parse(req.Dialect)
		if err != nil {
			return "", errors.New(errors.KindValidationFailed, "invalid dialect", err)
		}
		return d, nil
	}
	if target, err := e.config.Connections.Target(); err == nil {
		return target.Dialect, nil
	}
	if meta, err := backup.ReadMetadata(req.Path); err == nil {
		if meta.TargetDialect != "" {
			return meta.TargetDialect, nil
		}
		if meta.Dialect != "" {
			return meta.Dialect, nil
		}
	}
	if format, err := backup.DetectFormat(req.Path); err == nil {
		if d, ok := format.Dialect(); ok {
			return d, nil
		}
	}
	return "", errors.New(errors.KindValidationFailed,
		"cannot tell which dialect the backup is for; pass --dialect or configure a target", nil)
}

// ConnectionCheck is the result of connecting to one side
type ConnectionCheck struct {
	Role      string        `json:"role" yaml:"role"`
	Dialect   string        `json:"dialect" yaml:"dialect"`
	Target    string        `json:"target" yaml:"target"`
	Connected bool          `json:"connected" yaml:"connected"`
	Version   string        `json:"version,omitempty" yaml:"version,omitempty"`
	Latency   time.Duration `json:"latency" yaml:"latency"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// TestReport is the outcome of the test command
type TestReport struct {
	Connections  []ConnectionCheck         `json:"connections" yaml:"connections"`
	Capabilities []backup.CapabilityReport `json:"capabilities" yaml:"capabilities"`
	Health       *config.HealthCheckResult `json:"health" yaml:"health"`
}

// Healthy reports whether every connection succeeded and the
// configuration is not unhealthy
func (r *TestReport) Healthy() bool {
	for _, c := range r.Connections {
		if !c.Connected {
			return false
		}
	}
	return r.Health == nil || r.Health.OverallHealth != config.Unhealthy
}

// Test connects to every configured side, probes the source's strategies
// and checks the rest of the configuration
func (e *Executor) Test(ctx context.Context) (*TestReport, error) {
	report := &TestReport{}
	err := e.run(ctx, "test", func(ctx context.Context) error {
		report.Health = config.CheckHealth(ctx, e.config, e.newStore)

		source, sourceErr := e.config.Connections.Source()
		target, targetErr := e.config.Connections.Target()
		if sourceErr != nil && targetErr != nil {
			return errors.New(errors.KindValidationFailed, "no connection is configured", nil)
		}

		if sourceErr == nil {
			source.SetDefaults()
			db, check := e.check(ctx, "source", *source, e.connections.ConnectToSource)
			report.Connections = append(report.Connections, check)
			if db != nil {
				targetDialect, err := e.backupTargetDialect()
				if err != nil {
					return err
				}
				factory, err := e.factory(db, *source, targetDialect, true)
				if err != nil {
					return err
				}
				report.Capabilities = factory.Probe(ctx)
			}
		}
		if targetErr == nil {
			target.SetDefaults()
			_, check := e.check(ctx, "target", *target, e.connections.ConnectToTarget)
			report.Connections = append(report.Connections, check)
		}

		if !report.Healthy() {
			return errors.New(errors.KindDatabaseConnection, "one or more checks failed", nil)
		}
		return nil
	})
	return report, err
}

func (e *Executor) check(ctx context.Context, role string, conn database.DatabaseConfig,
	connect func(context.Context, database.DatabaseConfig) (*sql.DB, error)) (*sql.DB, ConnectionCheck) {
	check := ConnectionCheck{Role: role, Dialect: conn.Dialect.String(), Target: conn.Target()}
	start := time.Now()
	db, err := connect(ctx, conn)
	check.Latency = time.Since(start)
	if err != nil {
		check.Error = errors.FormatUserError(err)
		return nil, check
	}
	check.Connected = true
	if version, err := e.dbService.GetVersion(ctx, db, conn.Dialect); err == nil {
		check.Version = version
	}
	return db, check
}

// StrategyEstimate is one candidate's size and duration estimate
type StrategyEstimate struct {
	Strategy  string        `json:"strategy" yaml:"strategy"`
	Available bool          `json:"available" yaml:"available"`
	Size      int64         `json:"size" yaml:"size"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Estimate sizes a backup of the source with every candidate strategy
func (e *Executor) Estimate(ctx context.Context) ([]StrategyEstimate, error) {
	var estimates []StrategyEstimate
	err := e.run(ctx, "estimate", func(ctx context.Context) error {
		source, err := e.source()
		if err != nil {
			return err
		}
		targetDialect, err := e.backupTargetDialect()
		if err != nil {
			return err
		}
		db, err := e.connections.ConnectToSource(ctx, *source)
		if err != nil {
			return err
		}
		factory, err := e.factory(db, *source, targetDialect, true)
		if err != nil {
			return err
		}

		for _, s := range factory.Candidates() {
			estimate := StrategyEstimate{
				Strategy:  s.Descriptor().Type,
				Available: s.TestCapabilities(ctx).Passed(),
			}
			size, err := s.EstimateBackupSize(ctx)
			if err == nil {
				estimate.Size = size
				estimate.Duration, err = s.EstimateBackupTime(ctx)
			}
			if err != nil {
				estimate.Error = errors.FormatUserError(err)
			}
			estimates = append(estimates, estimate)
		}
		return nil
	})
	return estimates, err
}

// SchemaRequest selects the source tables to describe and an optional
// dialect to translate them into
type SchemaRequest struct {
	Tables        []string
	TargetDialect string
}

// SchemaOutcome is the introspected source schema and, when translated, the
// target rendition with its warnings
type SchemaOutcome struct {
	Source     *schema.Schema   `json:"source" yaml:"source"`
	Translated *schema.Schema   `json:"translated,omitempty" yaml:"translated,omitempty"`
	Warnings   []schema.Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Schema introspects the source database and optionally previews its
// translation into another dialect
func (e *Executor) Schema(ctx context.Context, req SchemaRequest) (*SchemaOutcome, error) {
	var outcome *SchemaOutcome
	err := e.run(ctx, "schema", func(ctx context.Context) error {
		source, err := e.source()
		if err != nil {
			return err
		}
		targetDialect, err := e.backupTargetDialect()
		if err != nil {
			return err
		}
		if req.TargetDialect != "" {
			if targetDialect, err = dialect.Parse(req.TargetDialect); err != nil {
				return errors.New(errors.KindValidationFailed, "invalid target dialect", err)
			}
		}

		db, err := e.connections.ConnectToSource(ctx, *source)
		if err != nil {
			return err
		}
		extractor, err := schema.NewExtractor(source.Dialect)
		if err != nil {
			return err
		}
		name, err := extractor.CurrentSchema(ctx, db)
		if err != nil {
			return err
		}
		graph, err := extractor.Extract(ctx, db, name)
		if err != nil {
			return err
		}
		if len(req.Tables) > 0 {
			filtered := schema.NewSchema(graph.Name, graph.Dialect)
			for _, t := range req.Tables {
				table := graph.Table(t)
				if table == nil {
					return errors.New(errors.KindValidationFailed, fmt.Sprintf("table %q not found in %s", t, source.Target()), nil)
				}
				if err := filtered.AddTable(table); err != nil {
					return err
				}
			}
			graph = filtered
		}

		outcome = &SchemaOutcome{Source: graph}
		if targetDialect != "" && targetDialect != source.Dialect {
			translated, warnings, err := schema.NewTranslator(false).Translate(graph, source.Dialect, targetDialect)
			if err != nil {
				return err
			}
			outcome.Translated = translated
			outcome.Warnings = warnings
		}
		e.logger.WithFields(map[string]interface{}{
			"tables":   len(graph.Tables),
			"warnings": len(outcome.Warnings),
		}).Debug("Schema extracted")
		return nil
	})
	return outcome, err
}

// Strategies lists the strategy descriptors for one dialect, or for every
// dialect when name is empty. Nothing is probed.
func (e *Executor) Strategies(name string) ([]backup.Descriptor, error) {
	dialects := []dialect.Dialect{dialect.MySQL, dialect.Postgres, dialect.SQLite}
	if name != "" {
		d, err := dialect.Parse(name)
		if err != nil {
			return nil, errors.New(errors.KindValidationFailed, "invalid dialect", err)
		}
		dialects = []dialect.Dialect{d}
	}

	var descriptors []backup.Descriptor
	for _, d := range dialects {
		factory, err := backup.NewFactory(backup.StrategyConfig{
			Connection: database.DatabaseConfig{Dialect: d},
			Executor:   e.processExecutor,
			Logger:     e.logger,
		})
		if err != nil {
			return nil, err
		}
		for _, s := range factory.Candidates() {
			descriptors = append(descriptors, s.Descriptor())
		}
	}
	return descriptors, nil
}
