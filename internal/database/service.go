package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver registered as "pgx"
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"sqlferry/internal/dialect"
	"sqlferry/internal/errors"
	"sqlferry/internal/logging"
)

// DatabaseService defines the interface for database operations
type DatabaseService interface {
	Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error)
	TestConnection(ctx context.Context, db *sql.DB) error
	Close(db *sql.DB) error
	GetVersion(ctx context.Context, db *sql.DB, d dialect.Dialect) (string, error)
}

// Service implements the DatabaseService interface
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
}

// NewService creates a new database service with default settings
func NewService(logger *logging.Logger) *Service {
	return &Service{
		connectionTimeout: defaultTimeout,
		logger:            logging.OrNop(logger),
		retryHandler:      errors.NewDefaultRetryHandler(),
	}
}

// NewServiceWithOptions creates a new database service with custom retry settings
func NewServiceWithOptions(logger *logging.Logger, timeout time.Duration, maxRetries int, retryDelay time.Duration) *Service {
	return &Service{
		connectionTimeout: timeout,
		logger:            logging.OrNop(logger),
		retryHandler: errors.NewRetryHandler(errors.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   retryDelay,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
		}),
	}
}

// Connect opens and pings a connection pool, retrying recoverable failures
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.New(errors.KindValidationFailed, "invalid database configuration", err)
	}

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"dialect": config.Dialect.String(),
		"target":  config.Target(),
	}).Info("Attempting database connection")

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var openErr error
		db, openErr = sql.Open(config.Dialect.DriverName(), config.DSN())
		if openErr != nil {
			return errors.Wrap(openErr, errors.KindDatabaseConnection, "failed to open database connection")
		}

		if config.Dialect == dialect.SQLite {
			// one writer; session pragmas stay on the single connection
			db.SetMaxOpenConns(1)
		} else {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
		}

		if pingErr := s.TestConnection(ctx, db); pingErr != nil {
			db.Close()
			return pingErr
		}
		return nil
	})

	s.logger.LogDatabaseConnection(config.Dialect.String(), config.Target(), err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindDatabaseConnection, "failed to connect to "+config.Target())
	}
	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New(errors.KindDatabaseConnection, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.KindDatabaseConnection, "failed to ping database")
	}

	s.logger.Debug("Database connection test successful")
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}

	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.Wrap(err, errors.KindDatabaseConnection, "failed to close database connection")
	}
	s.logger.Debug("Database connection closed")
	return nil
}

// versionQueries holds the server version query per dialect
var versionQueries = map[dialect.Dialect]string{
	dialect.MySQL:    "SELECT VERSION()",
	dialect.Postgres: "SHOW server_version",
	dialect.SQLite:   "SELECT sqlite_version()",
}

// GetVersion retrieves the server (or library) version
func (s *Service) GetVersion(ctx context.Context, db *sql.DB, d dialect.Dialect) (string, error) {
	if db == nil {
		return "", errors.New(errors.KindDatabaseConnection, "database connection is nil", nil)
	}
	query, ok := versionQueries[d]
	if !ok {
		return "", errors.New(errors.KindValidationFailed, "unsupported dialect "+d.String(), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var version string
	startTime := time.Now()
	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogStatementExecution(0, query, time.Since(startTime), err)
	if err != nil {
		return "", errors.Wrap(err, errors.KindDatabaseConnection, "failed to get database version")
	}

	s.logger.WithField("version", version).Debug("Retrieved database version")
	return version, nil
}
