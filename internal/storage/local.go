package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// LocalStore keeps objects as files below a base directory.
type LocalStore struct {
	fs  afero.Fs
	dir string
}

// NewLocalStore roots the store at dir on the given filesystem.
func NewLocalStore(base afero.Fs, dir string) *LocalStore {
	return &LocalStore{
		fs:  afero.NewBasePathFs(base, dir),
		dir: dir,
	}
}

// EnsureBucket creates the base directory.
func (l *LocalStore) EnsureBucket(ctx context.Context) error {
	return l.fs.MkdirAll("/", 0o755)
}

func (l *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	name, err := objectPath(key)
	if err != nil {
		return err
	}
	if err := l.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return err
	}

	file, err := l.fs.Create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = l.fs.Remove(name)
		return err
	}
	return file.Close()
}

// Get opens an object. The content type is derived from the key's extension.
func (l *LocalStore) Get(ctx context.Context, key string) (*Object, error) {
	name, err := objectPath(key)
	if err != nil {
		return nil, ErrObjectNotFound
	}
	info, err := l.fs.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrObjectNotFound
	}

	file, err := l.fs.Open(name)
	if err != nil {
		return nil, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{ReadCloser: file, ContentType: contentType, Size: info.Size()}, nil
}

// Delete removes an object. Missing objects are not an error.
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	name, err := objectPath(key)
	if err != nil {
		return err
	}
	err = l.fs.Remove(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Bucket returns the base directory.
func (l *LocalStore) Bucket() string {
	return l.dir
}

var errInvalidKey = errors.New("invalid object key")

func objectPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "..") || strings.Contains(key, `\`) {
		return "", errInvalidKey
	}
	return path.Clean("/" + key), nil
}
