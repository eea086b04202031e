package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-orchestrator/internal/storage"
)

func TestFileStore_PutGet(t *testing.T) {
	ctx := context.Background()
	fs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := fs.Put(ctx, "/jobs/1/pages/cover.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "jobs/1/pages/cover.png", key)

	got, err := fs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)

	_, err = fs.Get(ctx, "jobs/1/pages/missing.png")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSanitizeKey_RejectsTraversal(t *testing.T) {
	for _, k := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		_, err := storage.SanitizeKey(k)
		assert.Errorf(t, err, "key %q", k)
	}
}

func TestPageKey(t *testing.T) {
	assert.Equal(t, "jobs/j/pages/cover.png", storage.PageKey("j", "cover", "", ".png"))
	assert.Equal(t, "jobs/j/pages/storyPage2-ab12.jpg", storage.PageKey("j", "storyPage2", "ab12", ".jpg"))
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store_PrefixesKeys(t *testing.T) {
	ctx := context.Background()
	api := &fakeS3{objects: map[string][]byte{}}
	st := storage.NewS3Store(api, "bucket", "assets")

	key, err := st.Put(ctx, "jobs/1/pages/cover.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "jobs/1/pages/cover.png", key)
	assert.Contains(t, api.objects, "assets/jobs/1/pages/cover.png")

	got, err := st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	_, err = st.Get(ctx, "jobs/1/nope.png")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestOpen_Local(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Options{Mode: "local", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &storage.FileStore{}, store)

	key, err := store.Put(ctx, "jobs/1/pages/cover.png", []byte("png"), "image/png")
	require.NoError(t, err)
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)
}

func TestOpen_UnknownMode(t *testing.T) {
	_, err := storage.Open(context.Background(), storage.Options{Mode: "ftp"})
	require.Error(t, err)
}
