package backup

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "sqlferry/internal/errors"
)

// Compression names an artifact compression algorithm
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression accepts the algorithm names and a few common aliases
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return "", apperrors.New(apperrors.KindValidationFailed, fmt.Sprintf("unsupported compression algorithm: %s", s), nil)
}

// Extension is the file suffix conventionally used for the algorithm
func (c Compression) Extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	}
	return ""
}

// Compressor streams one algorithm
type Compressor interface {
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	Algorithm() Compression
	DefaultLevel() int
	MinLevel() int
	MaxLevel() int
}

// CompressionManager dispatches to a Compressor by algorithm
type CompressionManager struct {
	compressors map[Compression]Compressor
}

// NewCompressionManager registers gzip, zstd and lz4
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{compressors: make(map[Compression]Compressor)}
	for _, c := range []Compressor{gzipCompressor{}, zstdCompressor{}, lz4Compressor{}} {
		cm.compressors[c.Algorithm()] = c
	}
	return cm
}

// Get returns the compressor for algorithm
func (cm *CompressionManager) Get(algorithm Compression) (Compressor, error) {
	c, ok := cm.compressors[algorithm]
	if !ok {
		return nil, apperrors.New(apperrors.KindValidationFailed, fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return c, nil
}

// CompressFile writes src to dst compressed. Out-of-range levels fall back
// to the algorithm default. It returns the compressed size.
func (cm *CompressionManager) CompressFile(src, dst string, algorithm Compression, level int) (int64, error) {
	c, err := cm.Get(algorithm)
	if err != nil {
		return 0, err
	}
	if level < c.MinLevel() || level > c.MaxLevel() {
		level = c.DefaultLevel()
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, apperrors.NewFileNotFound(src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create "+dst)
	}
	defer out.Close()

	w, err := c.NewWriter(out, level)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindBackupFailed, fmt.Sprintf("failed to create %s writer", algorithm))
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return 0, apperrors.Wrap(err, apperrors.KindBackupFailed, fmt.Sprintf("failed to write %s stream", algorithm))
	}
	if err := w.Close(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindBackupFailed, fmt.Sprintf("failed to close %s writer", algorithm))
	}
	if err := out.Sync(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindDiskSpace, "failed to flush "+dst)
	}
	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DecompressFile expands src into dst
func (cm *CompressionManager) DecompressFile(src, dst string, algorithm Compression) error {
	c, err := cm.Get(algorithm)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return apperrors.NewFileNotFound(src, err)
	}
	defer in.Close()

	r, err := c.NewReader(in)
	if err != nil {
		return apperrors.New(apperrors.KindFileCorrupt, fmt.Sprintf("invalid %s stream", algorithm), err)
	}
	defer r.Close()

	out, err := os.Create(dst)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create "+dst)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return apperrors.New(apperrors.KindFileCorrupt, fmt.Sprintf("failed to decompress %s stream", algorithm), err)
	}
	return out.Close()
}

// CalculateCompressionRatio returns compressed/original, 1 for empty input
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

type gzipCompressor struct{}

func (gzipCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, level)
}

func (gzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func (gzipCompressor) Algorithm() Compression { return CompressionGzip }
func (gzipCompressor) DefaultLevel() int      { return gzip.DefaultCompression }
func (gzipCompressor) MinLevel() int          { return gzip.BestSpeed }
func (gzipCompressor) MaxLevel() int          { return gzip.BestCompression }

type zstdCompressor struct{}

func (zstdCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
}

func (zstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

func (zstdCompressor) Algorithm() Compression { return CompressionZstd }
func (zstdCompressor) DefaultLevel() int      { return 3 }
func (zstdCompressor) MinLevel() int          { return 1 }
func (zstdCompressor) MaxLevel() int          { return 22 }

// lz4 levels above 6 switch to the high-compression mode
type lz4Compressor struct{}

func (lz4Compressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, err
		}
	}
	return writer, nil
}

func (lz4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (lz4Compressor) Algorithm() Compression { return CompressionLZ4 }
func (lz4Compressor) DefaultLevel() int      { return 1 }
func (lz4Compressor) MinLevel() int          { return 1 }
func (lz4Compressor) MaxLevel() int          { return 9 }
