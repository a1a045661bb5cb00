package backup

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "sqlferry/internal/errors"
)

// LocalStore keeps artifacts under a base directory
type LocalStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStore creates the base directory if needed
func NewLocalStore(config *LocalConfig) (*LocalStore, error) {
	if config == nil || config.BasePath == "" {
		return nil, apperrors.New(apperrors.KindValidationFailed, "local store requires base_path", nil)
	}
	perms := config.Permissions
	if perms == 0 {
		perms = 0755
	}
	if err := os.MkdirAll(config.BasePath, perms); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create store directory")
	}
	return &LocalStore{basePath: config.BasePath, permissions: perms}, nil
}

// resolve maps a key to a path, refusing keys that escape the base directory
func (ls *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.ToSlash(key))
	if clean == "/" {
		return "", apperrors.New(apperrors.KindValidationFailed, "object key cannot be empty", nil)
	}
	return filepath.Join(ls.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Upload copies localPath into the store
func (ls *LocalStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	dst, err := ls.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), ls.permissions); err != nil {
		return "", apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create object directory")
	}
	if err := copyFile(ctx, localPath, dst); err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(dst), nil
}

// Download copies an object to localPath
func (ls *LocalStore) Download(ctx context.Context, key, localPath string) error {
	src, err := ls.resolve(key)
	if err != nil {
		return err
	}
	return copyFile(ctx, src, localPath)
}

// Delete removes an object; a missing object is an error
func (ls *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := ls.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewFileNotFound(key, err)
		}
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to delete object")
	}
	return nil
}

// List returns objects whose key starts with prefix, sorted by key
func (ls *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := filepath.WalkDir(ls.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(ls.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to list store")
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewFileNotFound(src, err)
		}
		return apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to open "+src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPermissionDenied, "failed to create "+dst)
	}
	if _, err := io.Copy(out, &contextReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		os.Remove(dst)
		return apperrors.Wrap(err, apperrors.KindBackupFailed, "failed to copy "+src)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return apperrors.Wrap(err, apperrors.KindDiskSpace, "failed to write "+dst)
	}
	return nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
