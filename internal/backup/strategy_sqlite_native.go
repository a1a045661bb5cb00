package backup

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/restore"
)

// minimum engine version for VACUUM INTO
var vacuumIntoVersion = [3]int{3, 27, 0}

// SQLiteNativeStrategy copies the database file through the engine:
// VACUUM INTO for backups and the online backup API for restores
type SQLiteNativeStrategy struct {
	baseStrategy
}

// NewSQLiteNativeStrategy creates the preferred sqlite strategy
func NewSQLiteNativeStrategy(cfg StrategyConfig) *SQLiteNativeStrategy {
	desc := NewDescriptor(TypeSQLiteNative, "native database file copy (VACUUM INTO)", dialect.SQLite, 10, true, false,
		Criterion{Name: CheckConnection, Description: "the database accepts connections"},
		Criterion{Name: CheckVacuumInto, Description: "the engine supports VACUUM INTO (3.27+)"},
		Criterion{Name: CheckTempWritable, Description: "the temporary directory is writable"},
	)
	return &SQLiteNativeStrategy{baseStrategy: newBaseStrategy(desc, cfg, 200<<20)}
}

// TestCapabilities checks the connection and engine version
func (s *SQLiteNativeStrategy) TestCapabilities(ctx context.Context) CapabilityReport {
	report := CapabilityReport{Strategy: s.desc.Type}
	s.probeConnection(ctx, &report)
	if s.cfg.DB == nil {
		report.add(CheckVacuumInto, false, "no database connection")
	} else {
		var version string
		if err := s.cfg.DB.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
			report.add(CheckVacuumInto, false, err.Error())
		} else {
			report.add(CheckVacuumInto, versionAtLeast(version, vacuumIntoVersion), "sqlite "+version)
		}
	}
	s.probeTempWritable(&report)
	return report
}

func versionAtLeast(version string, min [3]int) bool {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	for i := 0; i < 3; i++ {
		n := 0
		if i < len(parts) {
			var err error
			if n, err = strconv.Atoi(parts[i]); err != nil {
				return false
			}
		}
		if n != min[i] {
			return n > min[i]
		}
	}
	return true
}

// CreateBackup writes a compacted copy of the live database
func (s *SQLiteNativeStrategy) CreateBackup(ctx context.Context, outputPath string, opts Options) (*BackupResult, error) {
	if len(opts.Tables) > 0 {
		err := apperrors.New(apperrors.KindValidationFailed, "native copies always contain every table", nil).
			WithContext("strategy", s.desc.Type)
		return &BackupResult{Path: outputPath, Message: apperrors.FormatUserError(err)}, err
	}
	meta := &Metadata{Format: FormatSQLiteNative}
	return s.create(ctx, outputPath, opts, meta, func(ctx context.Context, payload string) error {
		if s.cfg.DB == nil {
			return apperrors.New(apperrors.KindDatabaseConnection, "no database connection", nil)
		}
		if _, err := s.cfg.DB.ExecContext(ctx, "VACUUM INTO ?", payload); err != nil {
			return apperrors.Wrap(err, apperrors.KindBackupFailed, "VACUUM INTO failed")
		}
		return nil
	})
}

// RestoreBackup replaces the target database with the backup's pages.
// SQL artifacts are replayed instead.
func (s *SQLiteNativeStrategy) RestoreBackup(ctx context.Context, path string, opts restore.Options) (*RestoreResult, error) {
	if s.cfg.DB == nil {
		return s.failedRestore(apperrors.New(apperrors.KindDatabaseConnection, "no target database connection", nil), FormatUnknown)
	}
	art, err := s.artifacts.open(path)
	if err != nil {
		return s.failedRestore(err, FormatUnknown)
	}
	defer art.Close()

	if art.Format.IsSQL() {
		art.Close()
		return s.restoreSQL(ctx, path, opts)
	}
	if art.Format != FormatSQLiteNative {
		return s.failedRestore(apperrors.New(apperrors.KindValidationFailed,
			fmt.Sprintf("strategy %s cannot restore %s backups", s.desc.Type, art.Format), nil), art.Format)
	}

	stats := &restore.Stats{Total: 1}
	done := s.logger.LogOperationStart("restore", map[string]interface{}{
		"strategy": s.desc.Type,
		"path":     path,
	})
	err = copyDatabase(ctx, s.cfg.DB, art.Path)
	done(err)
	if err != nil {
		stats.Failed = 1
		s.cfg.Metrics.ObserveRestore(dialect.SQLite.String(), 0, 1, 0, 0, err)
		result, _ := s.failedRestore(err, art.Format)
		result.Stats = stats
		return result, err
	}
	stats.Executed = 1
	s.cfg.Metrics.ObserveRestore(dialect.SQLite.String(), 1, 0, 0, 0, nil)
	return &RestoreResult{
		Success:  true,
		Message:  "database restored from native copy",
		Strategy: s.desc.Type,
		Format:   art.Format,
		Stats:    stats,
	}, nil
}

// PartialRestore is not possible from a page-level copy
func (s *SQLiteNativeStrategy) PartialRestore(ctx context.Context, path string, tables []string, opts restore.Options) (*RestoreResult, error) {
	format, err := s.DetectBackupFormat(path)
	if err != nil {
		return s.failedRestore(err, FormatUnknown)
	}
	if format.IsSQL() {
		return s.baseStrategy.PartialRestore(ctx, path, tables, opts)
	}
	return s.failedRestore(apperrors.New(apperrors.KindValidationFailed,
		"native copies can only be restored as a whole", nil), format)
}

// copyDatabase runs the online backup API from the file at src into db
func copyDatabase(ctx context.Context, db *sql.DB, src string) error {
	srcDB, err := sql.Open("sqlite3", "file:"+src+"?mode=ro")
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindFileCorrupt, "failed to open backup")
	}
	defer srcDB.Close()

	srcConn, err := srcDB.Conn(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindFileCorrupt, "failed to open backup")
	}
	defer srcConn.Close()

	dstConn, err := db.Conn(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindDatabaseConnection, "failed to acquire target connection")
	}
	defer dstConn.Close()

	return dstConn.Raw(func(dst any) error {
		dstLite, ok := dst.(*sqlite3.SQLiteConn)
		if !ok {
			return apperrors.New(apperrors.KindValidationFailed, "target is not a sqlite connection", nil)
		}
		return srcConn.Raw(func(src any) error {
			srcLite, ok := src.(*sqlite3.SQLiteConn)
			if !ok {
				return apperrors.New(apperrors.KindFileCorrupt, "backup is not a sqlite database", nil)
			}
			bk, err := dstLite.Backup("main", srcLite, "main")
			if err != nil {
				return apperrors.Wrap(err, apperrors.KindRestoreFailed, "failed to start database copy")
			}
			if _, err := bk.Step(-1); err != nil {
				bk.Finish()
				return apperrors.Wrap(err, apperrors.KindRestoreFailed, "database copy failed")
			}
			if err := bk.Finish(); err != nil {
				return apperrors.Wrap(err, apperrors.KindRestoreFailed, "failed to finish database copy")
			}
			return nil
		})
	})
}

// inspectSQLiteFile runs an integrity check and lists the tables of a
// native copy without modifying it
func inspectSQLiteFile(ctx context.Context, path string, report *ValidationReport) error {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	var status string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&status); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if status != "ok" {
		report.Problems = append(report.Problems, "integrity check: "+status)
	}

	rows, err := db.QueryContext(ctx,
		"SELECT type, name FROM sqlite_master WHERE name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var typ, name string
		if err := rows.Scan(&typ, &name); err != nil {
			return err
		}
		report.Statements++
		report.DDL++
		if typ == "table" {
			report.Tables = append(report.Tables, name)
		}
	}
	return rows.Err()
}
