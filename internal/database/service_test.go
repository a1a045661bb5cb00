package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlferry/internal/dialect"
	"sqlferry/internal/errors"
)

func sqliteConfig(t *testing.T) DatabaseConfig {
	return DatabaseConfig{Dialect: dialect.SQLite, Path: filepath.Join(t.TempDir(), "app.db")}
}

func TestNewService(t *testing.T) {
	service := NewService(nil)
	require.NotNil(t, service)
	assert.Equal(t, 30*time.Second, service.connectionTimeout)
	assert.NotNil(t, service.logger)
}

func TestConnect_SQLite(t *testing.T) {
	service := NewService(nil)
	db, err := service.Connect(context.Background(), sqliteConfig(t))
	require.NoError(t, err)
	defer service.Close(db)

	version, err := service.GetVersion(context.Background(), db, dialect.SQLite)
	require.NoError(t, err)
	assert.Regexp(t, `^3\.`, version)
}

func TestConnect_InvalidConfig(t *testing.T) {
	_, err := NewService(nil).Connect(context.Background(), DatabaseConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidationFailed))
}

func TestConnect_Unreachable(t *testing.T) {
	service := NewServiceWithOptions(nil, 2*time.Second, 1, 10*time.Millisecond)
	_, err := service.Connect(context.Background(), DatabaseConfig{
		Dialect: dialect.Postgres, Host: "127.0.0.1", Port: 1, Username: "app", Database: "app",
		Params: map[string]string{"sslmode": "disable"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDatabaseConnection) || errors.IsKind(err, errors.KindTimeout), "got %v", err)
}

func TestGetVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW server_version").WillReturnRows(sqlmock.NewRows([]string{"server_version"}).AddRow("16.2"))
	version, err := NewService(nil).GetVersion(context.Background(), db, dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, "16.2", version)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = NewService(nil).GetVersion(context.Background(), nil, dialect.Postgres)
	assert.True(t, errors.IsKind(err, errors.KindDatabaseConnection))
}

func TestTestConnection_Nil(t *testing.T) {
	err := NewService(nil).TestConnection(context.Background(), nil)
	assert.True(t, errors.IsKind(err, errors.KindDatabaseConnection))
}

func TestConnectionManager(t *testing.T) {
	manager := NewConnectionManager(NewService(nil))

	source, err := manager.ConnectToSource(context.Background(), sqliteConfig(t))
	require.NoError(t, err)
	target, err := manager.ConnectToTarget(context.Background(), sqliteConfig(t))
	require.NoError(t, err)
	assert.Same(t, source, manager.GetSourceDB())
	assert.Same(t, target, manager.GetTargetDB())

	_, err = manager.ConnectToTarget(context.Background(), DatabaseConfig{Dialect: dialect.MySQL})
	require.Error(t, err)
	assert.Nil(t, manager.GetTargetDB(), "a failed reconnect drops the old pool")

	require.NoError(t, manager.Close())
	assert.Nil(t, manager.GetSourceDB())
	require.NoError(t, manager.Close())
}
