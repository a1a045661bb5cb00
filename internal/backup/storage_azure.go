package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "sqlferry/internal/errors"
)

// AzureStore keeps artifacts in an Azure Blob Storage container
type AzureStore struct {
	containerURL azblob.ContainerURL
	prefix       string
}

// NewAzureStore creates a container client from a shared key
func NewAzureStore(config *AzureConfig) (*AzureStore, error) {
	if config == nil {
		return nil, apperrors.New(apperrors.KindValidationFailed, "azure store configuration is required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidationFailed, "failed to create Azure credentials")
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidationFailed, "failed to parse Azure service URL")
	}

	return &AzureStore{
		containerURL: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		prefix:       config.Prefix,
	}, nil
}

func (a *AzureStore) blobName(key string) string {
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

// Upload stores localPath as a block blob
func (a *AzureStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.NewFileNotFound(localPath, err)
	}
	defer file.Close()

	blobURL := a.containerURL.NewBlockBlobURL(a.blobName(key))
	_, err = azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: contentTypeFor(key),
		},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to upload to Azure")
	}
	u := blobURL.URL()
	return u.String(), nil
}

// Download writes the blob at key to localPath
func (a *AzureStore) Download(ctx context.Context, key, localPath string) error {
	blobURL := a.containerURL.NewBlobURL(a.blobName(key))
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindFileNotFound, "failed to download from Azure")
	}
	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()
	return writeStream(localPath, body)
}

// Delete removes the blob and its snapshots
func (a *AzureStore) Delete(ctx context.Context, key string) error {
	blobURL := a.containerURL.NewBlobURL(a.blobName(key))
	if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to delete from Azure")
	}
	return nil
}

// List walks the container segments under prefix
func (a *AzureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: a.blobName(prefix),
		})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to list Azure blobs")
		}
		for _, blob := range resp.Segment.BlobItems {
			info := ObjectInfo{
				Key:      strings.TrimPrefix(blob.Name, a.prefix+"/"),
				Modified: blob.Properties.LastModified,
			}
			if blob.Properties.ContentLength != nil {
				info.Size = *blob.Properties.ContentLength
			}
			objects = append(objects, info)
		}
		marker = resp.NextMarker
	}
	return objects, nil
}
