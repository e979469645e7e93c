package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// ErrNotFound means no blob exists under the key.
var ErrNotFound = errors.New("blob not found")

// BlobStore keeps the uploaded PDF bytes. Keys are content fingerprints, so
// writing the same key twice stores the same bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Name() string
}

// pather is implemented by stores whose blobs already live on the local disk.
type pather interface {
	Path(key string) string
}

// Materialize returns a local file path for the blob. For remote stores the
// blob is downloaded into a temporary file that cleanup removes.
func Materialize(ctx context.Context, store BlobStore, key string) (string, func(), error) {
	if p, ok := store.(pather); ok {
		path := p.Path(key)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return "", nil, errors.Wrapf(ErrNotFound, "%s blob %s", store.Name(), key)
			}
			return "", nil, errors.Wrapf(err, "stat %s", path)
		}
		return path, func() {}, nil
	}

	reader, err := store.Open(ctx, key)
	if err != nil {
		return "", nil, err
	}
	defer reader.Close()

	dir, err := os.MkdirTemp("", "pdf-checker-*")
	if err != nil {
		return "", nil, errors.Wrap(err, "create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, key+".pdf")
	file, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, errors.Wrapf(err, "create %s", path)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		cleanup()
		return "", nil, errors.Wrapf(err, "download %s blob %s", store.Name(), key)
	}
	if err := file.Close(); err != nil {
		cleanup()
		return "", nil, errors.Wrapf(err, "close %s", path)
	}
	return path, cleanup, nil
}
