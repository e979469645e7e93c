package storage

import (
	"context"

	"github.com/cockroachdb/errors"

	"pdf-checker/config"
)

const remotePrefix = "documents/"

// New builds the blob store selected by STORAGE_BACKEND.
func New(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	switch cfg.StorageBackend {
	case "local":
		return NewLocalStore(cfg.StorageDir)
	case "s3":
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, cfg.S3Bucket, remotePrefix), nil
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket, remotePrefix)
	default:
		return nil, errors.Newf("unknown storage backend %q", cfg.StorageBackend)
	}
}
