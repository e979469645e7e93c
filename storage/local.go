package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// LocalStore keeps blobs as files in one directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create storage dir %s", dir)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Name() string {
	return "local"
}

// Path returns where the blob for key lives.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key)+".pdf")
}

// Put writes through a temp file and rename so readers never see partial files.
func (s *LocalStore) Put(_ context.Context, key string, data []byte) error {
	target := s.Path(key)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "write blob %s", key)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "close blob %s", key)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "store blob %s", key)
	}
	return nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "local blob %s", key)
		}
		return nil, errors.Wrapf(err, "open blob %s", key)
	}
	return f, nil
}

var _ BlobStore = (*LocalStore)(nil)
