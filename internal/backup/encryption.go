package backup

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	apperrors "sqlferry/internal/errors"
)

// EncryptionMagic prefixes every encrypted artifact
const EncryptionMagic = "SQLFENC1"

const (
	saltSize         = 16
	keySize          = 32
	pbkdf2Iterations = 100000
	chunkSize        = 64 * 1024
)

// ErrWrongPassphrase is returned when authentication of the first chunk fails
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupt artifact")

// EncryptionManager seals artifacts with AES-256-GCM under a key derived
// from a passphrase. The stream is split into chunks; each chunk's
// additional data carries its index and a final flag so reordering and
// truncation are detected.
type EncryptionManager struct {
	passphrase []byte
}

// NewEncryptionManager returns nil for an empty passphrase
func NewEncryptionManager(passphrase string) *EncryptionManager {
	if passphrase == "" {
		return nil
	}
	return &EncryptionManager{passphrase: []byte(passphrase)}
}

// Enabled is nil-safe
func (em *EncryptionManager) Enabled() bool {
	return em != nil && len(em.passphrase) > 0
}

func (em *EncryptionManager) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(em.passphrase, salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func chunkAD(index uint64, last bool) []byte {
	ad := make([]byte, 9)
	binary.BigEndian.PutUint64(ad, index)
	if last {
		ad[8] = 1
	}
	return ad
}

func chunkNonce(base []byte, index uint64) []byte {
	nonce := append([]byte(nil), base...)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], index)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= ctr[i]
	}
	return nonce
}

// Encrypt streams r into w
func (em *EncryptionManager) Encrypt(w io.Writer, r io.Reader) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to generate salt")
	}
	gcm, err := em.aead(salt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to create GCM cipher")
	}
	base := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, base); err != nil {
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to generate nonce")
	}

	bw := bufio.NewWriter(w)
	header := append([]byte(EncryptionMagic), salt...)
	header = append(header, base...)
	if _, err := bw.Write(header); err != nil {
		return err
	}

	br := bufio.NewReaderSize(r, chunkSize)
	buf := make([]byte, chunkSize)
	var index uint64
	for {
		n, readErr := io.ReadFull(br, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return readErr
		}
		// a full chunk is last only when nothing follows it
		last := readErr != nil
		if !last {
			if _, peekErr := br.Peek(1); peekErr == io.EOF {
				last = true
			}
		}
		sealed := gcm.Seal(nil, chunkNonce(base, index), buf[:n], chunkAD(index, last))
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(sealed)))
		if _, err := bw.Write(size[:]); err != nil {
			return err
		}
		if _, err := bw.Write(sealed); err != nil {
			return err
		}
		if last {
			break
		}
		index++
	}
	return bw.Flush()
}

// Decrypt streams an encrypted artifact from r into w
func (em *EncryptionManager) Decrypt(w io.Writer, r io.Reader) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(EncryptionMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != EncryptionMagic {
		return apperrors.New(apperrors.KindFileCorrupt, "artifact is not encrypted by sqlferry", err)
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(br, salt); err != nil {
		return apperrors.New(apperrors.KindFileCorrupt, "truncated encryption header", err)
	}
	gcm, err := em.aead(salt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindRestoreFailed, "failed to create GCM cipher")
	}
	base := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(br, base); err != nil {
		return apperrors.New(apperrors.KindFileCorrupt, "truncated encryption header", err)
	}

	maxSealed := uint32(chunkSize + gcm.Overhead())
	var index uint64
	for {
		var size [4]byte
		if _, err := io.ReadFull(br, size[:]); err != nil {
			return apperrors.New(apperrors.KindFileCorrupt, "encrypted artifact is truncated", err)
		}
		n := binary.BigEndian.Uint32(size[:])
		if n > maxSealed {
			return apperrors.New(apperrors.KindFileCorrupt, "encrypted chunk exceeds maximum size", nil)
		}
		sealed := make([]byte, n)
		if _, err := io.ReadFull(br, sealed); err != nil {
			return apperrors.New(apperrors.KindFileCorrupt, "encrypted artifact is truncated", err)
		}

		_, peekErr := br.Peek(1)
		last := peekErr == io.EOF
		plain, err := gcm.Open(nil, chunkNonce(base, index), sealed, chunkAD(index, last))
		if err != nil {
			if index == 0 {
				return apperrors.New(apperrors.KindValidationFailed, ErrWrongPassphrase.Error(), ErrWrongPassphrase)
			}
			return apperrors.New(apperrors.KindFileCorrupt, "encrypted chunk failed authentication", err)
		}
		if _, err := w.Write(plain); err != nil {
			return err
		}
		if last {
			return nil
		}
		index++
	}
}

// EncryptFile writes src to dst encrypted
func (em *EncryptionManager) EncryptFile(src, dst string) error {
	return transformFile(src, dst, em.Encrypt)
}

// DecryptFile writes src to dst decrypted
func (em *EncryptionManager) DecryptFile(src, dst string) error {
	return transformFile(src, dst, em.Decrypt)
}

func transformFile(src, dst string, fn func(io.Writer, io.Reader) error) error {
	in, err := os.Open(src)
	if err != nil {
		return apperrors.NewFileNotFound(src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create "+dst)
	}
	if err := fn(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
