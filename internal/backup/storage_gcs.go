package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "sqlferry/internal/errors"
)

// GCSStore keeps artifacts in a Google Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a client from a credentials file or the ambient credentials
func NewGCSStore(ctx context.Context, config *GCSConfig) (*GCSStore, error) {
	if config == nil || config.Bucket == "" {
		return nil, apperrors.New(apperrors.KindValidationFailed, "gcs store requires a bucket", nil)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidationFailed, "failed to create GCS client")
	}

	return &GCSStore{client: client, bucket: config.Bucket, prefix: config.Prefix}, nil
}

func (g *GCSStore) objectName(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

// Upload streams localPath into the bucket
func (g *GCSStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.NewFileNotFound(localPath, err)
	}
	defer file.Close()

	name := g.objectName(key)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentTypeFor(key)
	if _, err := io.Copy(w, file); err != nil {
		w.Close()
		return "", apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to upload to GCS")
	}
	if err := w.Close(); err != nil {
		return "", apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to finalize GCS upload")
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, name), nil
}

// Download writes the object at key to localPath
func (g *GCSStore) Download(ctx context.Context, key, localPath string) error {
	r, err := g.client.Bucket(g.bucket).Object(g.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return apperrors.NewFileNotFound(key, err)
		}
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to download from GCS")
	}
	defer r.Close()
	return writeStream(localPath, r)
}

// Delete removes the object at key
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.bucket).Object(g.objectName(key)).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return apperrors.NewFileNotFound(key, err)
		}
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to delete from GCS")
	}
	return nil
}

// List iterates objects under prefix
func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: g.objectName(prefix)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to list GCS objects")
		}
		objects = append(objects, ObjectInfo{
			Key:      strings.TrimPrefix(attrs.Name, g.prefix+"/"),
			Size:     attrs.Size,
			Modified: attrs.Updated,
		})
	}
	return objects, nil
}

// Close releases the client
func (g *GCSStore) Close() error {
	return g.client.Close()
}
