package backup

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/process"
	"sqlferry/internal/restore"
)

// dumpCommand builds the external invocation for one dump tool
type dumpCommand func(cfg StrategyConfig, opts Options) process.Command

// DumpStrategy runs a dialect-native dump utility and restores its output
// in-process through the restore orchestrator
type DumpStrategy struct {
	baseStrategy
	tool    string
	command dumpCommand
	// filter rewrites the tool's output while it is written, may be nil
	filter func(io.Writer) io.Writer
	format Format
}

// NewMySQLDumpStrategy uses mysqldump. The password travels in MYSQL_PWD.
func NewMySQLDumpStrategy(cfg StrategyConfig) *DumpStrategy {
	desc := NewDescriptor(TypeMySQLDump, "mysqldump logical dump", dialect.MySQL, 20, true, false,
		Criterion{Name: checkBinaryPrefix + "mysqldump", Description: "mysqldump is on PATH"},
		Criterion{Name: CheckConnection, Description: "the source database accepts connections"},
		Criterion{Name: CheckTempWritable, Description: "the temporary directory is writable"},
	)
	return &DumpStrategy{
		baseStrategy: newBaseStrategy(desc, cfg, 40<<20),
		tool:         "mysqldump",
		format:       FormatMySQLSQL,
		command: func(cfg StrategyConfig, opts Options) process.Command {
			c := cfg.Connection
			args := []string{
				"--single-transaction",
				"--routines",
				"--triggers",
				"--no-tablespaces",
				"--hex-blob",
				"--default-character-set=utf8mb4",
				"--host=" + c.Host,
				"--port=" + strconv.Itoa(c.Port),
				"--user=" + c.Username,
				c.Database,
			}
			args = append(args, opts.Tables...)
			return process.Command{
				Path:    "mysqldump",
				Args:    args,
				Env:     passwordEnv("MYSQL_PWD", c.Password),
				Secrets: secrets(c.Password),
				Timeout: opts.Timeout,
			}
		},
	}
}

// NewPostgresDumpStrategy uses pg_dump with INSERT statements so the output
// replays through a plain connection. The password travels in PGPASSWORD.
func NewPostgresDumpStrategy(cfg StrategyConfig) *DumpStrategy {
	desc := NewDescriptor(TypePostgresDump, "pg_dump plain-text dump with INSERT statements", dialect.Postgres, 20, true, false,
		Criterion{Name: checkBinaryPrefix + "pg_dump", Description: "pg_dump is on PATH"},
		Criterion{Name: CheckConnection, Description: "the source database accepts connections"},
		Criterion{Name: CheckTempWritable, Description: "the temporary directory is writable"},
	)
	return &DumpStrategy{
		baseStrategy: newBaseStrategy(desc, cfg, 25<<20),
		tool:         "pg_dump",
		format:       FormatPostgresSQL,
		filter:       newMetaCommandFilter,
		command: func(cfg StrategyConfig, opts Options) process.Command {
			c := cfg.Connection
			args := []string{
				"--inserts",
				"--no-owner",
				"--no-privileges",
				"--no-password",
				"--host", c.Host,
				"--port", strconv.Itoa(c.Port),
				"--username", c.Username,
				"--dbname", c.Database,
			}
			for _, t := range opts.Tables {
				args = append(args, "--table", t)
			}
			return process.Command{
				Path:    "pg_dump",
				Args:    args,
				Env:     passwordEnv("PGPASSWORD", c.Password),
				Secrets: secrets(c.Password),
				Timeout: opts.Timeout,
			}
		},
	}
}

// NewSQLiteDumpStrategy uses the sqlite3 shell's .dump command
func NewSQLiteDumpStrategy(cfg StrategyConfig) *DumpStrategy {
	desc := NewDescriptor(TypeSQLiteDump, "sqlite3 shell .dump", dialect.SQLite, 20, true, false,
		Criterion{Name: checkBinaryPrefix + "sqlite3", Description: "sqlite3 is on PATH"},
		Criterion{Name: CheckSourceFile, Description: "the database is a readable file"},
		Criterion{Name: CheckTempWritable, Description: "the temporary directory is writable"},
	)
	return &DumpStrategy{
		baseStrategy: newBaseStrategy(desc, cfg, 60<<20),
		tool:         "sqlite3",
		format:       FormatSQLiteSQL,
		command: func(cfg StrategyConfig, opts Options) process.Command {
			dump := ".dump"
			for _, t := range opts.Tables {
				dump += " " + t
			}
			return process.Command{
				Path:    "sqlite3",
				Args:    []string{"-batch", "-readonly", cfg.Connection.Path, dump},
				Timeout: opts.Timeout,
			}
		},
	}
}

func passwordEnv(name, password string) []string {
	if password == "" {
		return nil
	}
	return []string{name + "=" + password}
}

func secrets(password string) []string {
	if password == "" {
		return nil
	}
	return []string{password}
}

// TestCapabilities probes the tool and either the connection or the file
func (s *DumpStrategy) TestCapabilities(ctx context.Context) CapabilityReport {
	report := CapabilityReport{Strategy: s.desc.Type}
	s.probeBinary(ctx, &report, s.tool)
	if s.desc.Dialect == dialect.SQLite {
		probeSourceFile(s.cfg.Connection.Path, &report)
	} else {
		s.probeConnection(ctx, &report)
	}
	s.probeTempWritable(&report)
	return report
}

func probeSourceFile(path string, report *CapabilityReport) {
	if path == "" || path == ":memory:" {
		report.add(CheckSourceFile, false, "database is not a file")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		report.add(CheckSourceFile, false, err.Error())
		return
	}
	f.Close()
	report.add(CheckSourceFile, true, path)
}

// CreateBackup streams the tool's stdout into the artifact payload
func (s *DumpStrategy) CreateBackup(ctx context.Context, outputPath string, opts Options) (*BackupResult, error) {
	opts.setDefaults()
	meta := &Metadata{Format: s.format}
	return s.create(ctx, outputPath, opts, meta, func(ctx context.Context, payload string) error {
		if s.cfg.Executor == nil {
			return apperrors.NewStrategyUnavailable(s.desc.Type, nil)
		}
		out, err := os.OpenFile(payload, os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to open payload")
		}
		defer out.Close()

		var sink io.Writer = out
		if s.filter != nil {
			sink = s.filter(out)
		}

		executor := *s.cfg.Executor
		if opts.Progress != nil {
			executor.Progress = func(elapsed time.Duration, stdoutBytes, _ int64) {
				opts.Progress(stdoutBytes, elapsed)
			}
		}
		command := s.command(s.cfg, opts)
		command.Stdout = sink
		if _, err := executor.Run(ctx, command); err != nil {
			return err
		}
		return out.Sync()
	})
}

// RestoreBackup replays the dump through the orchestrator
func (s *DumpStrategy) RestoreBackup(ctx context.Context, path string, opts restore.Options) (*RestoreResult, error) {
	return s.restoreSQL(ctx, path, opts)
}

// metaCommandFilter drops psql backslash meta-commands (such as \restrict)
// that recent pg_dump versions emit and a plain connection cannot execute.
// It only looks at line starts, which is safe for --inserts output.
type metaCommandFilter struct {
	w       io.Writer
	atStart bool
	drop    bool
	pending bytes.Buffer
}

func newMetaCommandFilter(w io.Writer) io.Writer {
	return &metaCommandFilter{w: w, atStart: true}
}

func (f *metaCommandFilter) Write(p []byte) (int, error) {
	f.pending.Reset()
	for _, c := range p {
		if f.atStart {
			f.drop = c == '\\'
		}
		if !f.drop {
			f.pending.WriteByte(c)
		}
		f.atStart = c == '\n'
		if f.atStart {
			f.drop = false
		}
	}
	if _, err := f.w.Write(f.pending.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
