package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	apperrors "sqlferry/internal/errors"
)

// S3Store keeps artifacts in an S3 bucket
type S3Store struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3Store creates an S3 client from config. Without static keys the
// default AWS credential chain is used.
func NewS3Store(config *S3Config) (*S3Store, error) {
	if config == nil || config.Bucket == "" {
		return nil, apperrors.New(apperrors.KindValidationFailed, "s3 store requires a bucket", nil)
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}
	if config.ForcePathStyle {
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidationFailed, "failed to create AWS session")
	}

	return &S3Store{
		client: s3.New(sess),
		bucket: config.Bucket,
		prefix: config.Prefix,
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Upload puts localPath at key
func (s *S3Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.NewFileNotFound(localPath, err)
	}
	defer file.Close()

	objectKey := s.objectKey(key)
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        file,
		ContentType: aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to upload to s3")
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

// Download writes the object at key to localPath
func (s *S3Store) Download(ctx context.Context, key, localPath string) error {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindFileNotFound, "failed to download from s3")
	}
	defer result.Body.Close()
	return writeStream(localPath, result.Body)
}

// Delete removes the object at key
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to delete from s3")
	}
	return nil
}

// List pages through the bucket under prefix
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				info := ObjectInfo{Key: strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix+"/")}
				info.Size = aws.Int64Value(obj.Size)
				info.Modified = aws.TimeValue(obj.LastModified)
				objects = append(objects, info)
			}
			return true
		})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to list s3 objects")
	}
	return objects, nil
}

func writeStream(localPath string, r io.Reader) error {
	out, err := os.Create(localPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create "+localPath)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(localPath)
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to download object")
	}
	if err := out.Close(); err != nil {
		os.Remove(localPath)
		return apperrors.Wrap(err, apperrors.KindDiskSpace, "failed to write "+localPath)
	}
	return nil
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".yaml"):
		return "application/yaml"
	case strings.HasSuffix(key, ".sql"):
		return "application/sql"
	default:
		return "application/octet-stream"
	}
}
