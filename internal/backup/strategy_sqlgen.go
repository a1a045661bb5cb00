package backup

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/restore"
	"sqlferry/internal/schema"
)

// SQLGenerationStrategy reads the schema and rows over the connection and
// writes them as SQL for the target dialect. It needs no external tools and
// is the only strategy that can translate between dialects.
type SQLGenerationStrategy struct {
	baseStrategy
	target dialect.Dialect
}

// NewSQLGenerationStrategy creates the in-process fallback. An empty
// cfg.TargetDialect means the source dialect.
func NewSQLGenerationStrategy(cfg StrategyConfig) *SQLGenerationStrategy {
	target := cfg.TargetDialect
	if target == "" {
		target = cfg.Connection.Dialect
	}
	desc := NewDescriptor(TypeSQLGeneration, "in-process SQL generation from schema introspection", cfg.Connection.Dialect, 100, true, true,
		Criterion{Name: CheckConnection, Description: "the source database accepts connections"},
		Criterion{Name: CheckIntrospection, Description: "the catalog can be read"},
		Criterion{Name: CheckTempWritable, Description: "the temporary directory is writable"},
	)
	return &SQLGenerationStrategy{baseStrategy: newBaseStrategy(desc, cfg, 10<<20), target: target}
}

// TestCapabilities pings and reads the current schema name
func (s *SQLGenerationStrategy) TestCapabilities(ctx context.Context) CapabilityReport {
	report := CapabilityReport{Strategy: s.desc.Type}
	s.probeConnection(ctx, &report)
	if s.cfg.DB == nil {
		report.add(CheckIntrospection, false, "no database connection")
	} else if extractor, err := schema.NewExtractor(s.dialect()); err != nil {
		report.add(CheckIntrospection, false, err.Error())
	} else if name, err := extractor.CurrentSchema(ctx, s.cfg.DB); err != nil {
		report.add(CheckIntrospection, false, err.Error())
	} else {
		report.add(CheckIntrospection, true, "schema "+name)
	}
	s.probeTempWritable(&report)
	return report
}

// CreateBackup writes DDL, batched INSERTs and sequence resets
func (s *SQLGenerationStrategy) CreateBackup(ctx context.Context, outputPath string, opts Options) (*BackupResult, error) {
	opts.setDefaults()
	meta := &Metadata{Format: FormatForDialect(s.target)}
	if s.target != s.dialect() {
		meta.TargetDialect = s.target
	}
	return s.create(ctx, outputPath, opts, meta, func(ctx context.Context, payload string) error {
		if s.cfg.DB == nil {
			return apperrors.New(apperrors.KindDatabaseConnection, "no database connection", nil)
		}
		out, err := os.OpenFile(payload, os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to open payload")
		}
		defer out.Close()

		buf := bufio.NewWriterSize(out, 256*1024)
		w := &progressWriter{w: buf, progress: opts.Progress, start: time.Now()}
		warnings, err := s.generate(ctx, w, opts)
		if err != nil {
			return err
		}
		meta.Warnings = warnings
		if err := buf.Flush(); err != nil {
			return apperrors.Wrap(err, apperrors.KindDiskSpace, "failed to write payload")
		}
		return out.Sync()
	})
}

func (s *SQLGenerationStrategy) generate(ctx context.Context, w io.Writer, opts Options) ([]schema.Warning, error) {
	source, err := s.extract(ctx, opts.Tables)
	if err != nil {
		return nil, err
	}

	translated, warnings, err := schema.NewTranslator(false).Translate(source, s.dialect(), s.target)
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		s.logger.WithField("entity", warning.Entity).Warn(warning.Message)
	}

	gen := schema.NewGenerator(s.target)
	ddl, err := gen.GenerateSchema(translated, schema.GenerateOptions{DropExisting: true})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to generate DDL")
	}

	fmt.Fprintf(w, "%s%s\n", DialectMarker, s.target)
	fmt.Fprintf(w, "-- source: %s %s\n", s.dialect(), source.Name)
	fmt.Fprintf(w, "-- generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	for _, warning := range warnings {
		fmt.Fprintf(w, "-- warning: %s\n", strings.ReplaceAll(warning.String(), "\n", " "))
	}
	for _, stmt := range ddl {
		if err := writeStatement(w, stmt); err != nil {
			return nil, err
		}
	}

	var resets []string
	for _, table := range source.Tables {
		target := translated.Table(table.Name)
		if err := s.dumpRows(ctx, w, gen, table, target, opts.BatchSize); err != nil {
			return nil, err
		}
		reset, err := s.sequenceReset(ctx, gen, table, target)
		if err != nil {
			return nil, err
		}
		if reset != "" {
			resets = append(resets, reset)
		}
	}
	for _, stmt := range resets {
		if err := writeStatement(w, stmt); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

// extract reads the current schema, limited to tables when given
func (s *SQLGenerationStrategy) extract(ctx context.Context, tables []string) (*schema.Schema, error) {
	extractor, err := schema.NewExtractor(s.dialect())
	if err != nil {
		return nil, err
	}
	name, err := extractor.CurrentSchema(ctx, s.cfg.DB)
	if err != nil {
		return nil, err
	}
	full, err := extractor.Extract(ctx, s.cfg.DB, name)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return full, nil
	}

	subset := schema.NewSchema(full.Name, full.Dialect)
	for _, t := range tables {
		table := full.Table(t)
		if table == nil {
			return nil, apperrors.New(apperrors.KindValidationFailed, fmt.Sprintf("table %s does not exist", t), nil).
				WithContext("schema", full.Name)
		}
		if err := subset.AddTable(table); err != nil {
			return nil, apperrors.New(apperrors.KindValidationFailed, err.Error(), err)
		}
	}
	return subset, nil
}

// dumpRows writes the rows of one table as batched INSERTs, ordered by
// primary key when there is one
func (s *SQLGenerationStrategy) dumpRows(ctx context.Context, w io.Writer, gen *schema.Generator, source, target *schema.Table, batchSize int) error {
	d := s.dialect()
	columns := source.ColumnNames()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), d.QuoteIdent(source.Name))
	if len(source.PrimaryKey) > 0 {
		order := make([]string, len(source.PrimaryKey))
		for i, c := range source.PrimaryKey {
			order[i] = d.QuoteIdent(c)
		}
		query += " ORDER BY " + strings.Join(order, ", ")
	}

	rows, err := s.cfg.DB.QueryContext(ctx, query)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to read "+source.Name)
	}
	defer rows.Close()

	batch := make([][]any, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stmt, err := gen.GenerateInsertSQL(target, columns, batch)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to render rows of "+source.Name)
		}
		batch = batch[:0]
		return writeStatement(w, stmt)
	}

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to scan "+source.Name)
		}
		batch = append(batch, values)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to read "+source.Name)
	}
	return flush()
}

// sequenceReset returns the statement that moves the auto-increment counter
// past the highest stored key, or "" when there is nothing to move
func (s *SQLGenerationStrategy) sequenceReset(ctx context.Context, gen *schema.Generator, source, target *schema.Table) (string, error) {
	var column *schema.Column
	for _, c := range target.Columns {
		if c.AutoIncrement {
			column = c
			break
		}
	}
	if column == nil {
		return "", nil
	}

	d := s.dialect()
	var highest sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", d.QuoteIdent(column.Name), d.QuoteIdent(source.Name))
	if err := s.cfg.DB.QueryRowContext(ctx, query).Scan(&highest); err != nil {
		return "", apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to read sequence of "+source.Name)
	}
	if !highest.Valid || highest.Int64 <= 0 {
		return "", nil
	}
	return gen.GenerateSequenceResetSQL(target.Name, column.Name, highest.Int64), nil
}

func writeStatement(w io.Writer, stmt string) error {
	if _, err := io.WriteString(w, strings.TrimRight(stmt, "; \n")+";\n\n"); err != nil {
		return apperrors.Wrap(err, apperrors.KindDiskSpace, "failed to write payload")
	}
	return nil
}

// RestoreBackup replays any SQL artifact for the target dialect
func (s *SQLGenerationStrategy) RestoreBackup(ctx context.Context, path string, opts restore.Options) (*RestoreResult, error) {
	return s.restoreSQL(ctx, path, opts)
}

// progressWriter counts bytes and reports them to an optional callback
type progressWriter struct {
	w        io.Writer
	n        int64
	progress ProgressFunc
	start    time.Time
	last     time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.n += int64(n)
	if p.progress != nil && time.Since(p.last) >= time.Second {
		p.last = time.Now()
		p.progress(p.n, time.Since(p.start))
	}
	return n, err
}
