package storage

import (
	"context"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/googleapi"
)

// GCSStore keeps blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStore connects with application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "storage.NewClient")
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (s *GCSStore) Name() string {
	return "gcs"
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Put writes the object only if it does not exist yet.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	name := s.prefix + key + ".pdf"
	writer := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/pdf"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "write gcs object %s", name)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return errors.Wrapf(err, "finalize gcs object %s", name)
	}
	return nil
}

func (s *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	name := s.prefix + key + ".pdf"
	reader, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "gcs object %s", name)
		}
		return nil, errors.Wrapf(err, "read gcs object %s", name)
	}
	return reader, nil
}

var _ BlobStore = (*GCSStore)(nil)
