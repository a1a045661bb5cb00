package backup

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

// Format identifies what a backup file contains
type Format string

const (
	FormatUnknown      Format = "unknown"
	FormatSQLiteNative Format = "sqlite-native"
	FormatMySQLSQL     Format = "mysql-sql"
	FormatPostgresSQL  Format = "postgres-sql"
	FormatSQLiteSQL    Format = "sqlite-sql"
	// FormatSQL is a plain SQL script with no dialect-specific markers
	FormatSQL       Format = "sql"
	FormatGzip      Format = "gzip"
	FormatZstd      Format = "zstd"
	FormatLZ4       Format = "lz4"
	FormatEncrypted Format = "encrypted"
)

// IsSQL reports whether the format is a SQL script
func (f Format) IsSQL() bool {
	switch f {
	case FormatMySQLSQL, FormatPostgresSQL, FormatSQLiteSQL, FormatSQL:
		return true
	}
	return false
}

// Dialect returns the dialect a SQL or native format belongs to
func (f Format) Dialect() (dialect.Dialect, bool) {
	switch f {
	case FormatMySQLSQL:
		return dialect.MySQL, true
	case FormatPostgresSQL:
		return dialect.Postgres, true
	case FormatSQLiteSQL, FormatSQLiteNative:
		return dialect.SQLite, true
	}
	return "", false
}

// FormatForDialect is the SQL format written for d
func FormatForDialect(d dialect.Dialect) Format {
	switch d {
	case dialect.MySQL:
		return FormatMySQLSQL
	case dialect.Postgres:
		return FormatPostgresSQL
	case dialect.SQLite:
		return FormatSQLiteSQL
	}
	return FormatSQL
}

// compressionFormat maps a wrapper format back to its algorithm
func compressionFormat(f Format) (Compression, bool) {
	switch f {
	case FormatGzip:
		return CompressionGzip, true
	case FormatZstd:
		return CompressionZstd, true
	case FormatLZ4:
		return CompressionLZ4, true
	}
	return "", false
}

var magics = []struct {
	prefix []byte
	format Format
}{
	{[]byte("SQLite format 3\x00"), FormatSQLiteNative},
	{[]byte(EncryptionMagic), FormatEncrypted},
	{[]byte{0x1f, 0x8b}, FormatGzip},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, FormatZstd},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, FormatLZ4},
}

// DialectMarker is the header comment sql-generation backups start with
const DialectMarker = "-- sqlferry dialect: "

const sniffLines = 40

type formatHint struct {
	pattern *regexp.Regexp
	format  Format
	weight  int
}

var formatHints = []formatHint{
	{regexp.MustCompile(`(?i)^-- MySQL dump`), FormatMySQLSQL, 10},
	{regexp.MustCompile(`(?i)^-- MariaDB dump`), FormatMySQLSQL, 10},
	{regexp.MustCompile(`^/\*!\d{5}`), FormatMySQLSQL, 5},
	{regexp.MustCompile("(?i)ENGINE\\s*=\\s*InnoDB"), FormatMySQLSQL, 3},
	{regexp.MustCompile("(?i)^LOCK TABLES `"), FormatMySQLSQL, 3},
	{regexp.MustCompile("AUTO_INCREMENT"), FormatMySQLSQL, 1},
	{regexp.MustCompile("`[A-Za-z_][A-Za-z0-9_$]*`"), FormatMySQLSQL, 1},
	{regexp.MustCompile(`(?i)^-- PostgreSQL database dump`), FormatPostgresSQL, 10},
	{regexp.MustCompile(`(?i)^SET (statement_timeout|client_encoding|standard_conforming_strings)`), FormatPostgresSQL, 4},
	{regexp.MustCompile(`(?i)^SET\s+search_path\b`), FormatPostgresSQL, 4},
	{regexp.MustCompile(`(?i)pg_catalog\.`), FormatPostgresSQL, 4},
	{regexp.MustCompile(`(?i)\bSERIAL\b|::regclass|\bnextval\(`), FormatPostgresSQL, 2},
	{regexp.MustCompile(`(?i)^PRAGMA `), FormatSQLiteSQL, 5},
	{regexp.MustCompile(`(?i)sqlite_sequence`), FormatSQLiteSQL, 4},
	{regexp.MustCompile(`(?i)AUTOINCREMENT`), FormatSQLiteSQL, 2},
	{regexp.MustCompile(`(?i)^BEGIN TRANSACTION;`), FormatSQLiteSQL, 2},
}

var sqlKeywords = regexp.MustCompile(`(?i)^\s*(CREATE|INSERT|DROP|ALTER|SET|BEGIN|COMMIT|UPDATE|DELETE|--)`)

// DetectFormat inspects the first bytes of path. Binary formats are
// recognized by magic bytes; SQL scripts by a weighted scan of the
// leading lines. An empty file is a file-empty error.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FormatUnknown, apperrors.NewFileNotFound(path, err)
		}
		return FormatUnknown, apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to open "+path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FormatUnknown, err
	}
	if info.Size() == 0 {
		return FormatUnknown, apperrors.NewFileEmpty(path)
	}
	return DetectFormatReader(f)
}

// DetectFormatReader classifies the stream without requiring a file
func DetectFormatReader(r io.Reader) (Format, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(16)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return FormatUnknown, err
	}
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			return m.format, nil
		}
	}

	scores := map[Format]int{}
	sqlish := false
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for i := 0; i < sniffLines && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, DialectMarker) {
			if d, err := dialect.Parse(strings.TrimSpace(strings.TrimPrefix(line, DialectMarker))); err == nil {
				return FormatForDialect(d), nil
			}
		}
		if sqlKeywords.MatchString(line) {
			sqlish = true
		}
		for _, h := range formatHints {
			if h.pattern.MatchString(line) {
				scores[h.format] += h.weight
			}
		}
	}
	if err := scanner.Err(); err != nil && err != bufio.ErrTooLong {
		return FormatUnknown, err
	}

	best, bestScore := FormatUnknown, 0
	// fixed order keeps ties deterministic
	for _, f := range []Format{FormatMySQLSQL, FormatPostgresSQL, FormatSQLiteSQL} {
		if scores[f] > bestScore {
			best, bestScore = f, scores[f]
		}
	}
	if best != FormatUnknown {
		return best, nil
	}
	if sqlish {
		return FormatSQL, nil
	}
	return FormatUnknown, nil
}
