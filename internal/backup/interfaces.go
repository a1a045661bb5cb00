package backup

import (
	"context"
	"time"

	"sqlferry/internal/restore"
)

// Strategy is one backup/restore implementation
type Strategy interface {
	// Descriptor returns the strategy's immutable identity and selection data
	Descriptor() Descriptor
	// TestCapabilities probes the environment. A failed probe is reported,
	// never returned as an error.
	TestCapabilities(ctx context.Context) CapabilityReport
	CreateBackup(ctx context.Context, outputPath string, opts Options) (*BackupResult, error)
	RestoreBackup(ctx context.Context, backupPath string, opts restore.Options) (*RestoreResult, error)
	EstimateBackupSize(ctx context.Context) (int64, error)
	EstimateBackupTime(ctx context.Context) (time.Duration, error)
	SupportsCompression() bool
	DetectBackupFormat(path string) (Format, error)
}

// RestoreStrategy is the extended restore contract
type RestoreStrategy interface {
	Strategy
	// ValidateBackupFile checks a backup without touching the database
	ValidateBackupFile(ctx context.Context, path string) (*ValidationReport, error)
	// GetRestoreOptions infers restore options from the backup's content
	GetRestoreOptions(ctx context.Context, path string) (restore.Options, error)
	// PartialRestore restores only the named tables
	PartialRestore(ctx context.Context, path string, tables []string, opts restore.Options) (*RestoreResult, error)
}

// Store copies backup artifacts to and from a storage backend
type Store interface {
	// Upload copies localPath to key and returns the object's location
	Upload(ctx context.Context, localPath, key string) (string, error)
	Download(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

var (
	_ RestoreStrategy = (*SQLiteNativeStrategy)(nil)
	_ RestoreStrategy = (*DumpStrategy)(nil)
	_ RestoreStrategy = (*SQLGenerationStrategy)(nil)

	_ Store = (*LocalStore)(nil)
	_ Store = (*S3Store)(nil)
	_ Store = (*AzureStore)(nil)
	_ Store = (*GCSStore)(nil)
)
