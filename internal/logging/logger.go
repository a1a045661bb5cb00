package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RedactedMarker replaces every credential value before it reaches a log line
const RedactedMarker = "***"

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows per-statement and per-process detail
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows everything
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel  `yaml:"level"`
	Output     io.Writer `yaml:"-"`
	Format     string    `yaml:"format"` // "text" or "json"
	ShowCaller bool      `yaml:"show_caller"`
	LogFile    string    `yaml:"log_file"`
	NoColor    bool      `yaml:"no_color"`
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	logger.SetOutput(output)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   config.NoColor,
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   config.NoColor,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		logger.SetOutput(io.MultiWriter(output, file))
	}

	level := config.Level
	if level == "" {
		level = LogLevelNormal
	}

	return &Logger{
		logger: logger,
		level:  level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stderr,
		Format: "text",
	})
	return logger
}

// NewNopLogger returns a logger that discards everything. Components use it
// when no logger is injected.
func NewNopLogger() *Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return &Logger{logger: logger, level: LogLevelQuiet}
}

// OrNop returns l, or a discarding logger when l is nil
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogDatabaseConnection logs database connection attempts
func (l *Logger) LogDatabaseConnection(dialect, target string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"dialect":   dialect,
		"target":    SanitizeSQL(target),
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Info("Database connection established")
		return
	}
	if err != nil {
		fields["error"] = SanitizeSQL(err.Error())
	}
	l.logger.WithFields(fields).Error("Database connection failed")
}

// LogStatementExecution logs one restored statement. Successful statements are
// only visible at verbose level and above.
func (l *Logger) LogStatementExecution(index int, sql string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "statement_execution",
		"index":     index,
		"duration":  duration.String(),
		"sql":       SanitizeSQL(Preview(sql, 200)),
	}
	if len(sql) > 200 {
		fields["sql_length"] = len(sql)
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Warn("Statement failed")
		return
	}
	l.logger.WithFields(fields).Debug("Statement executed")
}

// LogProcessExecution logs an external tool invocation. args and env are
// redacted here so callers can pass them unmodified.
func (l *Logger) LogProcessExecution(path string, args, env []string, exitCode int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "process_execution",
		"command":   path,
		"args":      strings.Join(RedactArgs(args), " "),
		"exit_code": exitCode,
		"duration":  duration.String(),
	}
	if len(env) > 0 {
		fields["env"] = strings.Join(RedactEnv(env), " ")
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("External process failed")
		return
	}
	l.logger.WithFields(fields).Debug("External process completed")
}

// LogStrategySelection logs the outcome of strategy probing
func (l *Logger) LogStrategySelection(selected string, candidates []string, forced bool) {
	l.logger.WithFields(logrus.Fields{
		"operation":  "strategy_selection",
		"selected":   selected,
		"candidates": strings.Join(candidates, ","),
		"forced":     forced,
	}).Info("Backup strategy selected")
}

// LogRestoreSummary logs the counters of a finished restore run
func (l *Logger) LogRestoreSummary(runID string, total, executed, failed, skipped int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "restore",
		"run_id":    runID,
		"total":     total,
		"executed":  executed,
		"failed":    failed,
		"skipped":   skipped,
		"duration":  duration.String(),
	}

	switch {
	case err != nil:
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Restore failed")
	case failed > 0:
		l.logger.WithFields(fields).Warn("Restore completed with failed statements")
	default:
		l.logger.WithFields(fields).Info("Restore completed")
	}
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return l.logger.IsLevelEnabled(toLogrusLevel(level))
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
			return
		}
		logFields["success"] = true
		l.logger.WithFields(logFields).Info("Operation completed")
	}
}

// Preview shortens s to at most n bytes, appending an ellipsis when cut
func Preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	// flags that take the secret as the following argument
	passwordFlags = map[string]bool{
		"--password": true,
		"-password":  true,
		"--pass":     true,
	}

	passwordEnvVars = map[string]bool{
		"PGPASSWORD": true,
		"MYSQL_PWD":  true,
	}

	sqlPasswordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|"[^"]*"|[^\s;&]+)`),
		regexp.MustCompile(`(?i)(identified\s+by\s+)('[^']*'|"[^"]*")`),
		regexp.MustCompile(`(?i)(password\s+)('[^']*')`),
		regexp.MustCompile(`(://[^:/@\s]+:)([^@\s]+)(@)`),
	}
)

// RedactArgs returns a copy of args with every password value replaced by the
// marker. It recognizes -p<value>, --password=<value>, --password <value> and
// URLs with embedded credentials.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	redactNext := false
	for i, arg := range args {
		switch {
		case redactNext:
			out[i] = RedactedMarker
			redactNext = false
		case passwordFlags[arg]:
			out[i] = arg
			redactNext = true
		case strings.HasPrefix(arg, "--password="), strings.HasPrefix(arg, "--pass="):
			out[i] = arg[:strings.Index(arg, "=")+1] + RedactedMarker
		case len(arg) > 2 && strings.HasPrefix(arg, "-p") && !strings.HasPrefix(arg, "--"):
			out[i] = "-p" + RedactedMarker
		default:
			out[i] = SanitizeSQL(arg)
		}
	}
	return out
}

// RedactEnv returns a copy of KEY=VALUE pairs with credential values replaced
func RedactEnv(env []string) []string {
	out := make([]string, len(env))
	for i, kv := range env {
		key, _, found := strings.Cut(kv, "=")
		upper := strings.ToUpper(key)
		if found && (passwordEnvVars[upper] || strings.Contains(upper, "PASSWORD") || strings.Contains(upper, "SECRET")) {
			out[i] = key + "=" + RedactedMarker
			continue
		}
		out[i] = kv
	}
	return out
}

// RedactSecrets replaces every occurrence of the given literal values in s
func RedactSecrets(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, RedactedMarker)
	}
	return s
}

// SanitizeSQL sanitizes SQL or connection strings for logging by masking
// password values
func SanitizeSQL(sql string) string {
	for _, re := range sqlPasswordPatterns {
		if re.NumSubexp() == 3 {
			sql = re.ReplaceAllString(sql, "${1}"+RedactedMarker+"${3}")
			continue
		}
		sql = re.ReplaceAllString(sql, "${1}"+RedactedMarker)
	}

	if len(sql) > 500 {
		return sql[:500] + "... [truncated]"
	}
	return sql
}
