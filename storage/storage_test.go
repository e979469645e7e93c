package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "abc123", []byte("%PDF-1.7 first")))
	// Same key again keeps the original bytes.
	require.NoError(t, store.Put(ctx, "abc123", []byte("%PDF-1.7 second")))

	r, err := store.Open(ctx, "abc123")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 first", string(data))

	_, err = store.Open(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMaterializeLocalUsesFileInPlace(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", []byte("%PDF")))

	path, cleanup, err := Materialize(ctx, store, "k")
	require.NoError(t, err)
	cleanup()
	assert.Equal(t, store.Path("k"), path)
	_, err = os.Stat(path)
	assert.NoError(t, err, "cleanup must not delete the stored blob")

	_, _, err = Materialize(ctx, store, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3StoreAndMaterialize(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := NewS3Store(fake, "uploads", "documents/")

	require.NoError(t, store.Put(ctx, "f00d", []byte("%PDF-1.4 remote")))
	assert.Contains(t, fake.objects, "uploads/documents/f00d.pdf")

	path, cleanup, err := Materialize(ctx, store, "f00d")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 remote", string(data))

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, _, err = Materialize(ctx, store, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
