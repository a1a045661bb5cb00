package database

import (
	"context"
	"database/sql"
	"fmt"
)

// ConnectionManager owns the source and target pools of one CLI invocation
type ConnectionManager struct {
	service  DatabaseService
	sourceDB *sql.DB
	targetDB *sql.DB
}

// NewConnectionManager creates a connection manager on top of service
func NewConnectionManager(service DatabaseService) *ConnectionManager {
	return &ConnectionManager{service: service}
}

// ConnectToSource establishes connection to the source database
func (cm *ConnectionManager) ConnectToSource(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	if cm.sourceDB != nil {
		cm.service.Close(cm.sourceDB)
		cm.sourceDB = nil
	}

	db, err := cm.service.Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}
	cm.sourceDB = db
	return db, nil
}

// ConnectToTarget establishes connection to the target database
func (cm *ConnectionManager) ConnectToTarget(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	if cm.targetDB != nil {
		cm.service.Close(cm.targetDB)
		cm.targetDB = nil
	}

	db, err := cm.service.Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target database: %w", err)
	}
	cm.targetDB = db
	return db, nil
}

// GetSourceDB returns the source database connection
func (cm *ConnectionManager) GetSourceDB() *sql.DB {
	return cm.sourceDB
}

// GetTargetDB returns the target database connection
func (cm *ConnectionManager) GetTargetDB() *sql.DB {
	return cm.targetDB
}

// Close closes both connections. It is safe to call more than once.
func (cm *ConnectionManager) Close() error {
	var errs []error
	if cm.sourceDB != nil {
		if err := cm.service.Close(cm.sourceDB); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}
		cm.sourceDB = nil
	}
	if cm.targetDB != nil {
		if err := cm.service.Close(cm.targetDB); err != nil {
			errs = append(errs, fmt.Errorf("target: %w", err))
		}
		cm.targetDB = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}
