package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Kind represents the category of a backup/restore failure
type Kind string

const (
	KindFileNotFound        Kind = "file_not_found"
	KindFileEmpty           Kind = "file_empty"
	KindFileCorrupt         Kind = "file_corrupt"
	KindPermissionDenied    Kind = "permission_denied"
	KindDiskSpace           Kind = "disk_space"
	KindStrategyUnavailable Kind = "strategy_unavailable"
	KindDatabaseConnection  Kind = "database_connection"
	KindValidationFailed    Kind = "validation_failed"
	KindRestoreFailed       Kind = "restore_failed"
	KindBackupFailed        Kind = "backup_failed"
	KindTimeout             Kind = "timeout"
	KindParseError          Kind = "parse_error"
	KindGeneral             Kind = "general"
)

// userMessages holds the fixed, user-facing text for every kind
var userMessages = map[Kind]string{
	KindFileNotFound:        "The backup file could not be found. Check the path and try again.",
	KindFileEmpty:           "The backup file is empty and cannot be restored.",
	KindFileCorrupt:         "The backup file is corrupt or in an unrecognized format.",
	KindPermissionDenied:    "Permission denied. Check file permissions and database privileges.",
	KindDiskSpace:           "There is not enough disk space to complete the operation.",
	KindStrategyUnavailable: "The requested backup strategy is not available on this system.",
	KindDatabaseConnection:  "Could not connect to the database. Check the connection settings.",
	KindValidationFailed:    "Validation failed. The input does not meet the required checks.",
	KindRestoreFailed:       "The restore operation failed. See the log for failed statements.",
	KindBackupFailed:        "The backup operation failed. No backup file was written.",
	KindTimeout:             "The operation timed out.",
	KindParseError:          "The SQL script could not be parsed.",
	KindGeneral:             "An unexpected error occurred. Please check the logs for more details.",
}

// Kinds returns every kind in the taxonomy in a stable order
func Kinds() []Kind {
	return []Kind{
		KindFileNotFound, KindFileEmpty, KindFileCorrupt, KindPermissionDenied,
		KindDiskSpace, KindStrategyUnavailable, KindDatabaseConnection,
		KindValidationFailed, KindRestoreFailed, KindBackupFailed,
		KindTimeout, KindParseError, KindGeneral,
	}
}

// BackupError is the single error type crossing strategy and orchestrator boundaries
type BackupError struct {
	Kind        Kind
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the fixed message for the error's kind
func (e *BackupError) UserMessage() string {
	if msg, ok := userMessages[e.Kind]; ok {
		return msg
	}
	return userMessages[KindGeneral]
}

// IsRecoverable returns whether the error is recoverable
func (e *BackupError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new backup error
func New(kind Kind, message string, cause error) *BackupError {
	return &BackupError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverable creates a new recoverable backup error
func NewRecoverable(kind Kind, message string, cause error) *BackupError {
	e := New(kind, message, cause)
	e.Recoverable = true
	return e
}

// Common constructors

func NewFileNotFound(path string, cause error) *BackupError {
	return New(KindFileNotFound, fmt.Sprintf("file not found: %s", path), cause).WithContext("path", path)
}

func NewFileEmpty(path string) *BackupError {
	return New(KindFileEmpty, fmt.Sprintf("file is empty: %s", path), nil).WithContext("path", path)
}

func NewParseError(message string, offset, line int) *BackupError {
	return New(KindParseError, message, nil).
		WithContext("offset", offset).
		WithContext("line", line)
}

func NewStrategyUnavailable(strategy string, cause error) *BackupError {
	return New(KindStrategyUnavailable, fmt.Sprintf("strategy %s is not available", strategy), cause).
		WithContext("strategy", strategy)
}

func NewTimeout(message string, timeout time.Duration) *BackupError {
	return New(KindTimeout, message, context.DeadlineExceeded).WithContext("timeout", timeout.String())
}

// KindOf returns the kind of an error, or KindGeneral if it is not a BackupError
func KindOf(err error) Kind {
	var be *BackupError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindGeneral
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Wrap wraps an error with a message. An existing BackupError keeps its kind;
// anything else is classified first and falls back to the given kind.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}

	var be *BackupError
	if errors.As(err, &be) {
		wrapped := New(be.Kind, message, err)
		wrapped.Recoverable = be.Recoverable
		return wrapped
	}

	classified := NewClassifier().Classify(err)
	if classified.Kind == KindGeneral {
		classified.Kind = kind
	}
	classified.Message = message
	return classified
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var be *BackupError
	if errors.As(err, &be) {
		return be.UserMessage()
	}
	return userMessages[KindGeneral]
}

// Classifier maps low-level driver, network, context and file system errors into the taxonomy
type Classifier struct{}

// NewClassifier creates a new error classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify analyzes an error and returns a BackupError with appropriate classification
func (c *Classifier) Classify(err error) *BackupError {
	if err == nil {
		return nil
	}

	var be *BackupError
	if errors.As(err, &be) {
		return be
	}

	if classified := c.classifyMySQLError(err); classified != nil {
		return classified
	}
	if classified := c.classifyPostgresError(err); classified != nil {
		return classified
	}
	if classified := c.classifySQLiteError(err); classified != nil {
		return classified
	}
	if classified := c.classifyContextError(err); classified != nil {
		return classified
	}
	if classified := c.classifyNetworkError(err); classified != nil {
		return classified
	}
	if classified := c.classifyFileSystemError(err); classified != nil {
		return classified
	}

	return New(KindGeneral, "An unexpected error occurred", err)
}

func (c *Classifier) classifyMySQLError(err error) *BackupError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1044, 1045, 1142, 1227:
			return New(KindPermissionDenied, "database access denied", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049:
			return New(KindDatabaseConnection, "database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1064:
			return New(KindValidationFailed, "SQL syntax error", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1021, 1114:
			return New(KindDiskSpace, "server ran out of space", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003, 2006, 2013:
			return NewRecoverable(KindDatabaseConnection, "MySQL server connection lost or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return New(KindRestoreFailed, fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, mysql.ErrInvalidConn) {
		return NewRecoverable(KindDatabaseConnection, "MySQL connection is invalid", err)
	}
	if errors.Is(err, sql.ErrTxDone) {
		return New(KindRestoreFailed, "transaction has already been committed or rolled back", err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewRecoverable(KindDatabaseConnection, "database connection is closed", err)
	}

	return nil
}

func (c *Classifier) classifyPostgresError(err error) *BackupError {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return NewRecoverable(KindDatabaseConnection, "cannot connect to PostgreSQL server", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := ""
		if len(pgErr.Code) >= 2 {
			class = pgErr.Code[:2]
		}
		switch {
		case pgErr.Code == "28P01" || pgErr.Code == "28000":
			return New(KindDatabaseConnection, "PostgreSQL authentication failed", err).
				WithContext("pg_error_code", pgErr.Code)
		case pgErr.Code == "42501":
			return New(KindPermissionDenied, "insufficient privilege", err).
				WithContext("pg_error_code", pgErr.Code)
		case pgErr.Code == "53100":
			return New(KindDiskSpace, "server disk is full", err).
				WithContext("pg_error_code", pgErr.Code)
		case pgErr.Code == "57014":
			return New(KindTimeout, "statement canceled by server timeout", err).
				WithContext("pg_error_code", pgErr.Code)
		case class == "08":
			return NewRecoverable(KindDatabaseConnection, "PostgreSQL connection exception", err).
				WithContext("pg_error_code", pgErr.Code)
		case class == "42":
			return New(KindValidationFailed, fmt.Sprintf("PostgreSQL syntax or access rule violation: %s", pgErr.Message), err).
				WithContext("pg_error_code", pgErr.Code)
		default:
			return New(KindRestoreFailed, fmt.Sprintf("PostgreSQL error: %s", pgErr.Message), err).
				WithContext("pg_error_code", pgErr.Code)
		}
	}

	return nil
}

func (c *Classifier) classifySQLiteError(err error) *BackupError {
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return nil
	}

	code := int(liteErr.Code)
	switch liteErr.Code {
	case sqlite3.ErrCantOpen:
		return New(KindDatabaseConnection, "unable to open SQLite database file", err).WithContext("sqlite_error_code", code)
	case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
		return New(KindPermissionDenied, "SQLite access denied", err).WithContext("sqlite_error_code", code)
	case sqlite3.ErrFull:
		return New(KindDiskSpace, "SQLite database or disk is full", err).WithContext("sqlite_error_code", code)
	case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		return New(KindFileCorrupt, "SQLite database file is corrupt", err).WithContext("sqlite_error_code", code)
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return NewRecoverable(KindDatabaseConnection, "SQLite database is locked", err).WithContext("sqlite_error_code", code)
	default:
		return New(KindRestoreFailed, fmt.Sprintf("SQLite error: %s", liteErr.Error()), err).WithContext("sqlite_error_code", code)
	}
}

func (c *Classifier) classifyNetworkError(err error) *BackupError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverable(KindTimeout, "network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverable(KindDatabaseConnection, "failed to establish network connection", err)
		case "read", "write":
			return NewRecoverable(KindDatabaseConnection, "network I/O error", err)
		}
	}

	return nil
}

func (c *Classifier) classifyContextError(err error) *BackupError {
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, "operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return New(KindGeneral, "operation was canceled", err)
	}
	return nil
}

func (c *Classifier) classifyFileSystemError(err error) *BackupError {
	if errors.Is(err, syscall.ENOSPC) {
		return New(KindDiskSpace, "no space left on device", err)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch {
		case errors.Is(pathErr.Err, syscall.ENOENT):
			return New(KindFileNotFound, fmt.Sprintf("file or directory not found: %s", pathErr.Path), err).
				WithContext("path", pathErr.Path)
		case errors.Is(pathErr.Err, syscall.EACCES), errors.Is(pathErr.Err, syscall.EPERM):
			return New(KindPermissionDenied, fmt.Sprintf("permission denied: %s", pathErr.Path), err).
				WithContext("path", pathErr.Path)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler retries operations that fail with recoverable errors
type RetryHandler struct {
	config     RetryConfig
	classifier *Classifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return New(KindTimeout, "operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		classified := rh.classifier.Classify(err)
		if !classified.IsRecoverable() {
			return classified
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return New(KindTimeout, "operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return rh.classifier.Classify(lastErr).WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}
	return delay
}

// GracefulShutdownHandler runs registered cleanup functions on SIGINT/SIGTERM
type GracefulShutdownHandler struct {
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan bool
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan bool, 1),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if _, ok := <-gsh.signalChan; ok {
			gsh.shutdown()
		}
	}()
}

// Stop stops the graceful shutdown handler
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// shutdown executes all registered shutdown functions in reverse order
func (gsh *GracefulShutdownHandler) shutdown() {
	defer func() {
		gsh.done <- true
	}()

	for i := len(gsh.shutdownFuncs) - 1; i >= 0; i-- {
		if err := gsh.shutdownFuncs[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}
}
