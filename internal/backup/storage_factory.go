package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "sqlferry/internal/errors"
)

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
}

// NewStore builds the Store selected by config.Provider
func NewStore(ctx context.Context, config StorageConfig) (Store, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.New(apperrors.KindValidationFailed, "invalid storage configuration", err)
	}

	switch config.Provider {
	case StoreLocal:
		return NewLocalStore(config.Local)
	case StoreS3:
		return NewS3Store(config.S3)
	case StoreAzure:
		return NewAzureStore(config.Azure)
	case StoreGCS:
		return NewGCSStore(ctx, config.GCS)
	default:
		return nil, apperrors.New(apperrors.KindValidationFailed, fmt.Sprintf("unsupported store provider: %s", config.Provider), nil)
	}
}

// SupportedStores lists the store providers NewStore accepts
func SupportedStores() []StoreProvider {
	return []StoreProvider{StoreLocal, StoreS3, StoreAzure, StoreGCS}
}

// UploadArtifact uploads a backup and its metadata sidecar, if present,
// under the artifact's base name. It returns the artifact location.
func UploadArtifact(ctx context.Context, store Store, path string) (string, error) {
	key := filepath.Base(path)
	location, err := store.Upload(ctx, path, key)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(MetadataPath(path)); statErr == nil {
		if _, err := store.Upload(ctx, MetadataPath(path), MetadataPath(key)); err != nil {
			return location, err
		}
	}
	return location, nil
}

// DownloadArtifact fetches key and its sidecar, when the store has one, into dir
func DownloadArtifact(ctx context.Context, store Store, key, dir string) (string, error) {
	local := filepath.Join(dir, filepath.Base(key))
	if err := store.Download(ctx, key, local); err != nil {
		return "", err
	}
	if err := store.Download(ctx, MetadataPath(key), MetadataPath(local)); err != nil && !apperrors.IsKind(err, apperrors.KindFileNotFound) {
		return local, err
	}
	return local, nil
}
