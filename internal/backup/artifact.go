package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	apperrors "sqlferry/internal/errors"
)

// payloadWriter produces the raw backup at path. The file exists and is
// empty when it is called.
type payloadWriter func(ctx context.Context, path string) error

// artifactBuilder turns a payload into the final artifact: compressed,
// then encrypted, then atomically renamed into place with a sidecar.
type artifactBuilder struct {
	compression *CompressionManager
	encryption  *EncryptionManager
}

func (b artifactBuilder) create(ctx context.Context, output string, opts Options, meta *Metadata, write payloadWriter) (*Metadata, error) {
	if output == "" {
		return nil, apperrors.New(apperrors.KindValidationFailed, "output path is required", nil)
	}
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create output directory")
	}

	var temps []string
	defer func() {
		for _, t := range temps {
			os.Remove(t)
		}
	}()
	newTemp := func(pattern string) (string, error) {
		f, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create temporary file")
		}
		name := f.Name()
		f.Close()
		temps = append(temps, name)
		return name, nil
	}

	payload, err := newTemp(".sqlferry-payload-*")
	if err != nil {
		return nil, err
	}
	if err := write(ctx, payload); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTimeout, "backup cancelled")
	}

	info, err := os.Stat(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindBackupFailed, "backup payload is missing")
	}
	if info.Size() == 0 {
		return nil, apperrors.New(apperrors.KindBackupFailed, "backup produced no output", nil)
	}

	meta.ID = uuid.NewString()
	meta.CreatedAt = time.Now().UTC()
	meta.RawSize = info.Size()
	meta.Compression = CompressionNone
	current := payload

	if opts.Compression != "" && opts.Compression != CompressionNone {
		compressed, err := newTemp(".sqlferry-compressed-*")
		if err != nil {
			return nil, err
		}
		if _, err := b.compression.CompressFile(current, compressed, opts.Compression, opts.CompressionLevel); err != nil {
			return nil, err
		}
		current = compressed
		meta.Compression = opts.Compression
	}

	if b.encryption.Enabled() {
		encrypted, err := newTemp(".sqlferry-encrypted-*")
		if err != nil {
			return nil, err
		}
		if err := b.encryption.EncryptFile(current, encrypted); err != nil {
			return nil, err
		}
		current = encrypted
		meta.Encrypted = true
	}

	if err := os.Rename(current, output); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to move backup into place")
	}

	sum, size, err := FileChecksum(output)
	if err == nil {
		meta.Checksum, meta.Size = sum, size
		err = WriteMetadata(output, meta)
	}
	if err != nil {
		os.Remove(output)
		os.Remove(MetadataPath(output))
		return nil, err
	}
	return meta, nil
}

// openedArtifact is an artifact unwrapped down to its payload
type openedArtifact struct {
	Path     string
	Format   Format
	Metadata *Metadata
	// Verified is set when a sidecar checksum matched
	Verified bool
	cleanup  []string
}

// Close removes any temporary files created while unwrapping
func (a *openedArtifact) Close() {
	for _, t := range a.cleanup {
		os.Remove(t)
	}
	a.cleanup = nil
}

const maxUnwrapDepth = 4

// openArtifact verifies the sidecar checksum when there is one, then strips
// encryption and compression layers until a payload format is reached
func (b artifactBuilder) open(path string) (*openedArtifact, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewFileNotFound(path, err)
		}
		return nil, apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to stat "+path)
	}

	a := &openedArtifact{Path: path}
	meta, err := ReadMetadata(path)
	switch {
	case err == nil:
		if err := VerifyChecksum(path, meta); err != nil {
			return nil, err
		}
		a.Metadata = meta
		a.Verified = meta.Checksum != ""
	case apperrors.IsKind(err, apperrors.KindFileNotFound):
	default:
		return nil, err
	}

	for depth := 0; ; depth++ {
		format, err := DetectFormat(a.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		if depth >= maxUnwrapDepth {
			a.Close()
			return nil, apperrors.New(apperrors.KindFileCorrupt, "too many nested encoding layers", nil)
		}

		var next string
		switch {
		case format == FormatEncrypted:
			if !b.encryption.Enabled() {
				a.Close()
				return nil, apperrors.New(apperrors.KindValidationFailed, "backup is encrypted; a passphrase is required", nil)
			}
			if next, err = a.temp(); err == nil {
				err = b.encryption.DecryptFile(a.Path, next)
			}
		default:
			algo, compressed := compressionFormat(format)
			if !compressed {
				a.Format = format
				return a, nil
			}
			if next, err = a.temp(); err == nil {
				err = b.compression.DecompressFile(a.Path, next, algo)
			}
		}
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Path = next
	}
}

func (a *openedArtifact) temp() (string, error) {
	f, err := os.CreateTemp("", "sqlferry-restore-*")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create temporary file")
	}
	name := f.Name()
	f.Close()
	a.cleanup = append(a.cleanup, name)
	return name, nil
}

// describeArtifact is a short human summary used in result messages
func describeArtifact(m *Metadata) string {
	s := fmt.Sprintf("%s backup of %s", m.Strategy, m.Database)
	if m.Compression != CompressionNone && m.Compression != "" {
		s += ", " + string(m.Compression)
	}
	if m.Encrypted {
		s += ", encrypted"
	}
	return s
}
