package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/schema"
)

// MetadataSuffix is appended to an artifact path to name its sidecar
const MetadataSuffix = ".meta.yaml"

// Metadata describes one artifact and is stored next to it
type Metadata struct {
	ID            string          `yaml:"id"`
	Strategy      string          `yaml:"strategy"`
	Dialect       dialect.Dialect `yaml:"dialect"`
	TargetDialect dialect.Dialect `yaml:"target_dialect,omitempty"`
	Database      string          `yaml:"database"`
	Tables        []string        `yaml:"tables,omitempty"`
	CreatedAt     time.Time       `yaml:"created_at"`
	// Format is the payload format before compression and encryption
	Format      Format      `yaml:"format"`
	Compression Compression `yaml:"compression"`
	Encrypted   bool        `yaml:"encrypted"`
	// RawSize is the payload size; Size is the size on disk
	RawSize  int64            `yaml:"raw_size"`
	Size     int64            `yaml:"size"`
	Checksum string           `yaml:"checksum"`
	Warnings []schema.Warning `yaml:"warnings,omitempty"`
}

// MetadataPath returns the sidecar path for an artifact
func MetadataPath(artifact string) string {
	return artifact + MetadataSuffix
}

// WriteMetadata stores m next to artifact
func WriteMetadata(artifact string, m *Metadata) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to encode metadata")
	}
	if err := os.WriteFile(MetadataPath(artifact), data, 0644); err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to write metadata")
	}
	return nil
}

// ReadMetadata loads the sidecar of artifact. A missing sidecar is a
// file-not-found error.
func ReadMetadata(artifact string) (*Metadata, error) {
	data, err := os.ReadFile(MetadataPath(artifact))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewFileNotFound(MetadataPath(artifact), err)
		}
		return nil, apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to read metadata")
	}
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apperrors.New(apperrors.KindFileCorrupt, "metadata sidecar is not valid YAML", err)
	}
	return &m, nil
}

// FileChecksum returns the hex sha256 and size of path
func FileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, apperrors.NewFileNotFound(path, err)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// VerifyChecksum compares path against the checksum recorded in m
func VerifyChecksum(path string, m *Metadata) error {
	if m == nil || m.Checksum == "" {
		return nil
	}
	sum, _, err := FileChecksum(path)
	if err != nil {
		return err
	}
	if sum != m.Checksum {
		return apperrors.New(apperrors.KindFileCorrupt, "artifact checksum does not match its metadata", nil).
			WithContext("expected", m.Checksum).
			WithContext("actual", sum)
	}
	return nil
}
