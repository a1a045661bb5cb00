package restore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/logging"
	"sqlferry/internal/metrics"
	"sqlferry/internal/parser"
)

const savepointName = "sqlferry_stmt"

// Result is returned by every restore entry point
type Result struct {
	Success bool
	Message string
	Stats   *Stats
}

// Orchestrator executes statements sequentially, in file order, against one
// connection. It holds no per-run state and can be reused.
type Orchestrator struct {
	dialect dialect.Dialect
	parser  parser.Parser
	logger  *logging.Logger
	metrics *metrics.Recorder
}

// NewOrchestrator creates an orchestrator for the target dialect
func NewOrchestrator(d dialect.Dialect, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		dialect: d,
		parser:  parser.New(d),
		logger:  logging.OrNop(logger),
	}
}

// WithParser replaces the statement parser, e.g. with the line-oriented fallback
func (o *Orchestrator) WithParser(p parser.Parser) *Orchestrator {
	o.parser = p
	return o
}

// WithMetrics records run outcomes into m
func (o *Orchestrator) WithMetrics(m *metrics.Recorder) *Orchestrator {
	o.metrics = m
	return o
}

// Dialect returns the target dialect
func (o *Orchestrator) Dialect() dialect.Dialect {
	return o.dialect
}

// Restore reads and parses a plain SQL file, then replays it
func (o *Orchestrator) Restore(ctx context.Context, db *sql.DB, path string, opts Options) (*Result, error) {
	p := o.parser
	if opts.Parser != "" {
		var err error
		if p, err = parser.ForMode(opts.Parser, o.dialect); err != nil {
			err = apperrors.New(apperrors.KindValidationFailed, err.Error(), nil)
			return &Result{Message: apperrors.FormatUserError(err)}, err
		}
	}
	stmts, err := o.readStatements(path, p)
	if err != nil {
		return &Result{Message: apperrors.FormatUserError(err)}, err
	}
	return o.RestoreStatements(ctx, db, stmts, opts)
}

// ReadStatements parses a backup file. An empty file fails before parsing.
func (o *Orchestrator) ReadStatements(path string) ([]parser.Statement, error) {
	return o.readStatements(path, o.parser)
}

func (o *Orchestrator) readStatements(path string, p parser.Parser) ([]parser.Statement, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewFileNotFound(path, err)
		}
		return nil, apperrors.Wrap(err, apperrors.KindFileCorrupt, fmt.Sprintf("cannot stat %s", path))
	}
	if info.IsDir() {
		return nil, apperrors.New(apperrors.KindFileCorrupt, fmt.Sprintf("%s is a directory", path), nil).
			WithContext("path", path)
	}
	if info.Size() == 0 {
		return nil, apperrors.NewFileEmpty(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPermissionDenied, fmt.Sprintf("cannot open %s", path))
	}
	defer file.Close()

	stmts, err := p.ParseReader(file)
	if err != nil {
		var be *apperrors.BackupError
		if errors.As(err, &be) {
			be.WithContext("path", path)
		}
		return nil, err
	}
	return stmts, nil
}

// RestoreStatements replays already parsed statements
func (o *Orchestrator) RestoreStatements(ctx context.Context, db *sql.DB, stmts []parser.Statement, opts Options) (*Result, error) {
	opts.SetDefaults()
	r := &run{
		o:     o,
		opts:  opts,
		stmts: stmts,
		stats: newStats(uuid.NewString(), len(stmts), opts.MaxFailureRecords),
	}
	if len(opts.Tables) > 0 {
		r.tables = make(map[string]bool, len(opts.Tables))
		for _, t := range opts.Tables {
			r.tables[strings.ToLower(t)] = true
		}
	}

	start := time.Now()
	done := o.logger.LogOperationStart("restore", map[string]interface{}{
		"run_id":     r.stats.RunID,
		"dialect":    o.dialect.String(),
		"statements": len(stmts),
	})

	err := r.execute(ctx, db)
	if err != nil {
		// statements never reached count as skipped
		if missing := r.stats.Total - r.stats.Executed - r.stats.Failed - r.stats.Skipped; missing > 0 {
			r.stats.Skipped += missing
		}
	}

	r.stats.Duration = time.Since(start)
	done(err)
	o.logger.LogRestoreSummary(r.stats.RunID, r.stats.Total, r.stats.Executed, r.stats.Failed,
		r.stats.Skipped, r.stats.Duration, err)
	o.metrics.ObserveRestore(o.dialect.String(), r.stats.Executed, r.stats.Failed, r.stats.Skipped,
		r.stats.Duration, err)

	if checkErr := r.stats.Check(); checkErr != nil && err == nil {
		err = apperrors.New(apperrors.KindGeneral, "restore accounting failed", checkErr)
	}

	result := &Result{Success: err == nil, Stats: r.stats}
	switch {
	case err != nil:
		result.Message = apperrors.FormatUserError(err)
	case r.stats.Failed > 0:
		result.Message = fmt.Sprintf("restored with %d failed statements", r.stats.Failed)
	default:
		result.Message = fmt.Sprintf("restored %d statements", r.stats.Executed)
	}
	return result, err
}

// run is the state of one restore invocation
type run struct {
	o      *Orchestrator
	opts   Options
	stmts  []parser.Statement
	stats  *Stats
	tables map[string]bool

	processed int
}

func (r *run) execute(ctx context.Context, db *sql.DB) error {
	if len(r.stmts) == 0 {
		r.opts.report(Progress{Percent: 100, Operation: "completed"})
		return nil
	}
	if db == nil {
		return apperrors.New(apperrors.KindDatabaseConnection, "no database connection", nil)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindDatabaseConnection, "failed to acquire a database connection")
	}
	defer conn.Close()

	r.opts.report(Progress{Percent: 0, Operation: "setup"})

	var (
		steps     = sessionSteps(r.o.dialect, r.opts)
		applied   []sessionStep
		fallbacks []sessionStep
	)
	for _, step := range steps {
		if step.inTx {
			continue
		}
		if _, err := conn.ExecContext(ctx, step.apply); err != nil {
			r.o.logger.WithFields(map[string]interface{}{
				"setting": step.name,
				"error":   err.Error(),
			}).Warn("Session setup failed")
			if step.fallback != "" {
				fallbacks = append(fallbacks, step)
			}
			continue
		}
		applied = append(applied, step)
	}
	defer r.revert(context.WithoutCancel(ctx), conn, applied)

	var (
		target    execer = conn
		tx        *sql.Tx
		txApplied []sessionStep
	)
	if r.opts.ExecuteInTransaction {
		if !r.o.dialect.SupportsTransactionalDDL() {
			r.o.logger.Debugf("%s commits DDL implicitly; rollback only covers data statements", r.o.dialect)
		}
		tx, err = conn.BeginTx(ctx, nil)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindRestoreFailed, "failed to begin restore transaction")
		}
		target = tx

		for _, step := range steps {
			if !step.inTx {
				continue
			}
			if _, err := tx.ExecContext(ctx, step.apply); err != nil {
				r.o.logger.WithField("setting", step.name).Warnf("Session setup failed: %v", err)
				continue
			}
			txApplied = append(txApplied, step)
		}
		for _, step := range fallbacks {
			if _, err := tx.ExecContext(ctx, step.fallback); err != nil {
				r.o.logger.WithField("setting", step.name).Warnf("Session setup fallback failed: %v", err)
			}
		}
	} else {
		for _, step := range fallbacks {
			r.o.logger.WithField("setting", step.name).Warn("Session setup fallback needs a transaction; skipped")
		}
	}

	r.opts.report(Progress{Percent: r.opts.ProgressRange.Start, Operation: "executing"})

	if err := r.executeAll(ctx, target, tx != nil); err != nil {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.o.logger.Errorf("Rollback failed: %v", rbErr)
			}
		}
		return err
	}

	if r.opts.ResetSequences {
		r.replaySequences(ctx, target, tx != nil)
	}

	if tx != nil {
		r.revert(ctx, tx, txApplied)
		if err := tx.Commit(); err != nil {
			if r.o.dialect == dialect.SQLite {
				// a COMMIT refused by deferred foreign keys leaves the transaction open
				_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
			}
			return apperrors.Wrap(err, apperrors.KindRestoreFailed, "failed to commit restore transaction")
		}
	}

	r.opts.report(Progress{
		Percent:   100,
		Operation: "completed",
		Executed:  r.stats.Executed,
		Failed:    r.stats.Failed,
	})
	return nil
}

// executeAll runs the main pass. Sequence statements are deferred to the
// replay pass when sequences are reset.
func (r *run) executeAll(ctx context.Context, target execer, inTx bool) error {
	deferred := 0
	useSavepoints := inTx && !r.opts.StopOnError && r.o.dialect == dialect.Postgres

	for i, stmt := range r.stmts {
		if err := ctx.Err(); err != nil {
			r.stats.Skipped += len(r.stmts) - i + deferred
			return apperrors.Wrap(err, apperrors.KindRestoreFailed, "restore interrupted")
		}

		switch {
		case r.skip(stmt, inTx):
			r.stats.Skipped++
		case r.opts.ResetSequences && parser.IsSequenceSet(stmt):
			deferred++
		default:
			if err := r.executeOne(ctx, target, i, stmt, useSavepoints); err != nil {
				r.stats.recordFailure(i, stmt.Line, stmt.Text, err)
				if r.opts.StopOnError {
					r.stats.Skipped += len(r.stmts) - i - 1 + deferred
					be := apperrors.New(apperrors.KindRestoreFailed,
						fmt.Sprintf("statement %d at line %d failed", i+1, stmt.Line), err).
						WithContext("statement_index", i).
						WithContext("line", stmt.Line).
						WithContext("dialect", r.o.dialect.String())
					return be
				}
			} else {
				r.stats.Executed++
			}
		}

		r.processed = i + 1
		if r.processed%r.opts.ProgressInterval == 0 || r.processed == len(r.stmts) {
			r.opts.report(Progress{
				Percent:   r.opts.scale(r.processed, len(r.stmts)),
				Operation: "executing",
				Executed:  r.stats.Executed,
				Failed:    r.stats.Failed,
			})
		}
	}
	return nil
}

func (r *run) executeOne(ctx context.Context, target execer, index int, stmt parser.Statement, savepoint bool) error {
	if r.opts.ValidateStatements {
		if err := ValidateStatement(stmt); err != nil {
			r.o.logger.LogStatementExecution(index, stmt.Text, 0, err)
			return err
		}
	}

	started := time.Now()
	var err error
	if savepoint {
		err = execWithSavepoint(ctx, target, stmt.Text)
	} else {
		_, err = target.ExecContext(ctx, stmt.Text)
	}
	r.o.logger.LogStatementExecution(index, stmt.Text, time.Since(started), err)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindRestoreFailed, fmt.Sprintf("statement at line %d failed", stmt.Line))
	}
	return nil
}

// replaySequences scans the original statement list again and executes every
// sequence-set statement on its own. Failures are logged and skipped.
func (r *run) replaySequences(ctx context.Context, target execer, inTx bool) {
	savepoint := inTx && r.o.dialect == dialect.Postgres
	for i, stmt := range r.stmts {
		if r.skip(stmt, inTx) || !parser.IsSequenceSet(stmt) {
			continue
		}

		started := time.Now()
		var err error
		if savepoint {
			err = execWithSavepoint(ctx, target, stmt.Text)
		} else {
			_, err = target.ExecContext(ctx, stmt.Text)
		}
		r.o.logger.LogStatementExecution(i, stmt.Text, time.Since(started), err)
		if err != nil {
			r.o.logger.WithField("line", stmt.Line).Warnf("Sequence reset skipped: %v", err)
			r.stats.Skipped++
			continue
		}
		r.stats.Executed++
		r.stats.SequencesReplayed++
	}
	r.opts.report(Progress{
		Percent:   r.opts.ProgressRange.End,
		Operation: "sequences",
		Executed:  r.stats.Executed,
		Failed:    r.stats.Failed,
	})
}

// skip reports statements that are counted but never executed: transaction
// control when the orchestrator owns the transaction, and statements for
// tables outside a partial restore
func (r *run) skip(stmt parser.Statement, inTx bool) bool {
	if inTx && parser.IsTransactionControl(stmt) {
		return true
	}
	if r.tables == nil || stmt.Kind == parser.KindSet || stmt.Kind == parser.KindTransaction {
		return false
	}

	name := strings.ToLower(parser.TableName(stmt))
	if name == "" || r.tables[name] {
		return false
	}
	if parser.IsSequenceSet(stmt) {
		if name == "sqlite_sequence" {
			return false
		}
		for table := range r.tables {
			if strings.HasPrefix(name, table+"_") {
				return false
			}
		}
	}
	return true
}

// revert undoes applied session steps in reverse order
func (r *run) revert(ctx context.Context, target execer, steps []sessionStep) {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].revert == "" {
			continue
		}
		if _, err := target.ExecContext(ctx, steps[i].revert); err != nil {
			r.o.logger.WithField("setting", steps[i].name).Warnf("Session teardown failed: %v", err)
		}
	}
}

func execWithSavepoint(ctx context.Context, target execer, query string) error {
	if _, err := target.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
		return err
	}
	if _, err := target.ExecContext(ctx, query); err != nil {
		if _, rbErr := target.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := target.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName)
	return err
}
