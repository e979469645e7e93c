// Package backup dumps the state database, gzips it and keeps the newest
// copies in an S3 bucket.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pdf-checker/config"
)

var commandContext = exec.CommandContext

// S3API is the part of *s3.Client a backup run needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Runner performs one backup.
type Runner struct {
	Config *config.Config
	DB     *gorm.DB
	Client S3API
	Logger *zap.Logger
	Now    func() time.Time
}

// Result names the uploaded object and the rotated ones.
type Result struct {
	Key     string
	Size    int
	Deleted []string
}

// Run dumps, uploads and rotates.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.Config
	if cfg.BackupBucket == "" {
		return nil, errors.New("BACKUP_S3_BUCKET is not set")
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	var (
		dump []byte
		err  error
		ext  string
	)
	switch cfg.DBDriver {
	case "postgres":
		dump, err = r.pgDump(ctx)
		ext = ".sql.gz"
	case "sqlite":
		dump, err = r.sqliteSnapshot(ctx)
		ext = ".db.gz"
	default:
		return nil, errors.Newf("backup not supported for driver %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create database dump")
	}

	key := cfg.BackupPrefix + "backup-" + now().UTC().Format("2006-01-02T15-04-05Z") + ext
	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(cfg.BackupBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(dump),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "upload s3://%s/%s", cfg.BackupBucket, key)
	}
	r.Logger.Info("Backup uploaded", zap.String("bucket", cfg.BackupBucket), zap.String("key", key), zap.Int("bytes", len(dump)))

	deleted, err := r.rotate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "rotate backups")
	}
	return &Result{Key: key, Size: len(dump), Deleted: deleted}, nil
}

func (r *Runner) pgDump(ctx context.Context) ([]byte, error) {
	cfg := r.Config
	cmd := commandContext(ctx, "pg_dump",
		"-h", cfg.DBHost,
		"-p", strconv.Itoa(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // password comes from PGPASSWORD
	)
	cmd.Env = append(cmd.Environ(), "PGPASSWORD="+cfg.DBPassword)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start pg_dump")
	}
	data, copyErr := gzipAll(stdout)
	if err := cmd.Wait(); err != nil {
		return nil, errors.Wrapf(err, "pg_dump: %s", strings.TrimSpace(stderr.String()))
	}
	return data, copyErr
}

// sqliteSnapshot writes a consistent copy with VACUUM INTO, which is safe
// while other connections keep writing.
func (r *Runner) sqliteSnapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "pdf-checker-backup-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "snapshot.db")
	if err := r.DB.WithContext(ctx).Exec("VACUUM INTO ?", target).Error; err != nil {
		return nil, errors.Wrap(err, "vacuum into snapshot")
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return gzipAll(f)
}

func gzipAll(src io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rotate keeps the newest BackupKeep objects under the prefix. Failed
// deletes are logged and retried on the next run.
func (r *Runner) rotate(ctx context.Context) ([]string, error) {
	cfg := r.Config
	out, err := r.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.BackupBucket),
		Prefix: aws.String(cfg.BackupPrefix),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Contents) <= cfg.BackupKeep {
		r.Logger.Debug("Nothing to rotate", zap.Int("backups", len(out.Contents)), zap.Int("keep", cfg.BackupKeep))
		return nil, nil
	}

	objects := out.Contents
	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).After(aws.ToTime(objects[j].LastModified))
	})

	var deleted []string
	for _, obj := range objects[cfg.BackupKeep:] {
		key := aws.ToString(obj.Key)
		_, err := r.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.BackupBucket),
			Key:    obj.Key,
		})
		if err != nil {
			r.Logger.Warn("Deleting old backup failed", zap.String("key", key), zap.Error(err))
			continue
		}
		r.Logger.Info("Deleted old backup", zap.String("key", key))
		deleted = append(deleted, key)
	}
	return deleted, nil
}

// String is used by the CLI.
func (res *Result) String() string {
	return fmt.Sprintf("uploaded %s (%d bytes), rotated %d", res.Key, res.Size, len(res.Deleted))
}
