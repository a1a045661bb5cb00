package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose config",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
		{
			name:   "empty level falls back to normal",
			config: Config{Format: "text"},
			want:   LogLevelNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Errorf("NewLogger() error = %v", err)
				return
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func newBufferLogger(t *testing.T, level LogLevel) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: level, Output: &buf, Format: "text", NoColor: true})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return logger, &buf
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := OrNop(nil)
	logger.Error("nothing should happen")
	logger.LogRestoreSummary("run", 1, 1, 0, 0, time.Second, nil)

	assert.Equal(t, LogLevelQuiet, logger.GetLevel())
	assert.False(t, logger.IsLevelEnabled(LogLevelQuiet))
}

func TestLogStatementExecution(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelVerbose)

	logger.LogStatementExecution(3, "INSERT INTO users VALUES (1)", 5*time.Millisecond, nil)
	output := buf.String()
	assert.Contains(t, output, "Statement executed")
	assert.Contains(t, output, "index=3")

	buf.Reset()
	logger.LogStatementExecution(4, strings.Repeat("x", 300), time.Millisecond, errors.New("syntax error"))
	output = buf.String()
	assert.Contains(t, output, "Statement failed")
	assert.Contains(t, output, "sql_length=300")
	assert.Contains(t, output, "syntax error")
}

func TestLogStatementExecution_NormalLevelHidesSuccess(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal)

	logger.LogStatementExecution(0, "SELECT 1", time.Millisecond, nil)
	assert.Empty(t, buf.String())
}

func TestLogProcessExecutionRedactsSecrets(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelDebug)

	args := []string{"--host", "db", "-psup3rs3cret", "--password=hunter2", "--password", "letmein", "shop"}
	env := []string{"PGPASSWORD=topsecret", "PATH=/usr/bin"}
	logger.LogProcessExecution("mysqldump", args, env, 0, time.Second, nil)

	output := buf.String()
	for _, secret := range []string{"sup3rs3cret", "hunter2", "letmein", "topsecret"} {
		assert.NotContains(t, output, secret)
	}
	assert.Contains(t, output, "External process completed")
	assert.Contains(t, output, "PATH=/usr/bin")
	assert.Contains(t, output, RedactedMarker)
}

func TestLogStrategySelection(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal)

	logger.LogStrategySelection("sqlite-native", []string{"sqlite-native", "sql-generation"}, false)
	output := buf.String()
	assert.Contains(t, output, "selected=sqlite-native")
	assert.Contains(t, output, "forced=false")
}

func TestLogRestoreSummary(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal)

	logger.LogRestoreSummary("abc", 10, 8, 2, 0, time.Second, nil)
	assert.Contains(t, buf.String(), "Restore completed with failed statements")

	buf.Reset()
	logger.LogRestoreSummary("abc", 10, 10, 0, 0, time.Second, nil)
	assert.Contains(t, buf.String(), "level=info")
	assert.Contains(t, buf.String(), "Restore completed")

	buf.Reset()
	logger.LogRestoreSummary("abc", 10, 0, 1, 0, time.Second, errors.New("rolled back"))
	assert.Contains(t, buf.String(), "Restore failed")
}

func TestLogDatabaseConnectionSanitizesTarget(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal)

	logger.LogDatabaseConnection("postgres", "postgres://app:pa55word@db:5432/shop", true, 100*time.Millisecond, nil)
	output := buf.String()
	assert.Contains(t, output, "Database connection established")
	assert.NotContains(t, output, "pa55word")
}

func TestSetLevel(t *testing.T) {
	logger := NewDefaultLogger()

	logger.SetLevel(LogLevelVerbose)
	if logger.GetLevel() != LogLevelVerbose {
		t.Errorf("SetLevel() failed, got %v, want %v", logger.GetLevel(), LogLevelVerbose)
	}

	logger.SetLevel(LogLevelQuiet)
	if logger.GetLevel() != LogLevelQuiet {
		t.Errorf("SetLevel() failed, got %v, want %v", logger.GetLevel(), LogLevelQuiet)
	}
}

func TestIsLevelEnabled(t *testing.T) {
	tests := []struct {
		name        string
		loggerLevel LogLevel
		testLevel   LogLevel
		want        bool
	}{
		{"quiet logger, error level", LogLevelQuiet, LogLevelQuiet, true},
		{"quiet logger, normal level", LogLevelQuiet, LogLevelNormal, false},
		{"normal logger, normal level", LogLevelNormal, LogLevelNormal, true},
		{"normal logger, verbose level", LogLevelNormal, LogLevelVerbose, false},
		{"verbose logger, verbose level", LogLevelVerbose, LogLevelVerbose, true},
		{"verbose logger, debug level", LogLevelVerbose, LogLevelDebug, false},
		{"debug logger, debug level", LogLevelDebug, LogLevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := newBufferLogger(t, tt.loggerLevel)
			if got := logger.IsLevelEnabled(tt.testLevel); got != tt.want {
				t.Errorf("IsLevelEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogOperationStart(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelVerbose)

	finish := logger.LogOperationStart("backup", map[string]interface{}{"strategy": "sqlite-native"})
	assert.Contains(t, buf.String(), "Operation started")
	assert.Contains(t, buf.String(), "strategy=sqlite-native")

	buf.Reset()
	finish(nil)
	assert.Contains(t, buf.String(), "Operation completed")
	assert.Contains(t, buf.String(), "success=true")

	finish2 := logger.LogOperationStart("restore", nil)
	buf.Reset()
	finish2(errors.New("operation failed"))
	assert.Contains(t, buf.String(), "Operation failed")
	assert.Contains(t, buf.String(), "success=false")
}

func TestRedactArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"mysql short flag", []string{"-uroot", "-psecret"}, []string{"-uroot", "-p***"}},
		{"long flag with value", []string{"--password=secret"}, []string{"--password=***"}},
		{"long flag separate value", []string{"--password", "secret", "db"}, []string{"--password", "***", "db"}},
		{"bare -p is untouched", []string{"-p", "5432"}, []string{"-p", "5432"}},
		{"url credentials", []string{"postgres://u:secret@h/db"}, []string{"postgres://u:***@h/db"}},
		{"plain args", []string{"--single-transaction", "shop"}, []string{"--single-transaction", "shop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactArgs(tt.in))
		})
	}
}

func TestRedactEnv(t *testing.T) {
	got := RedactEnv([]string{"PGPASSWORD=x1", "MYSQL_PWD=x2", "AWS_SECRET_ACCESS_KEY=x3", "HOME=/root"})
	assert.Equal(t, []string{"PGPASSWORD=***", "MYSQL_PWD=***", "AWS_SECRET_ACCESS_KEY=***", "HOME=/root"}, got)
}

func TestRedactSecrets(t *testing.T) {
	assert.Equal(t, "error near *** at line 1", RedactSecrets("error near hunter2 at line 1", "hunter2", ""))
}

func TestSanitizeSQL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "normal SQL",
			input: "SELECT * FROM users",
			want:  "SELECT * FROM users",
		},
		{
			name:  "password assignment",
			input: "CREATE USER 'test'@'localhost' IDENTIFIED BY password='secret123'",
			want:  "CREATE USER 'test'@'localhost' IDENTIFIED BY password=***",
		},
		{
			name:  "identified by",
			input: "CREATE USER 'app' IDENTIFIED BY 'secret123'",
			want:  "CREATE USER 'app' IDENTIFIED BY ***",
		},
		{
			name:  "postgres role password",
			input: "ALTER ROLE app WITH PASSWORD 'secret123'",
			want:  "ALTER ROLE app WITH PASSWORD ***",
		},
		{
			name:  "connection string",
			input: "host=db user=app password=secret123 dbname=shop",
			want:  "host=db user=app password=*** dbname=shop",
		},
		{
			name:  "very long SQL",
			input: strings.Repeat("SELECT * FROM very_long_table_name ", 20),
			want:  strings.Repeat("SELECT * FROM very_long_table_name ", 20)[:500] + "... [truncated]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeSQL(tt.input); got != tt.want {
				t.Errorf("SanitizeSQL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", Preview("  abc  ", 10))
	assert.Equal(t, "abcde...", Preview("abcdefgh", 5))
}
