package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumAndVerify(t *testing.T) {
	// SHA-256 of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))

	data := []byte(`{"tasks":{"rows":[]}}`)
	assert.NoError(t, Verify(data, Checksum(data)))
	assert.ErrorIs(t, Verify(append(data, ' '), Checksum(data)), ErrChecksumMismatch)
}

func TestLocalStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	data := []byte(`{"version":1}`)
	obj, err := store.Put(ctx, "ws-1", "01J000SNAP", data)
	require.NoError(t, err)

	assert.Equal(t, "ws-1/01J000SNAP.json", obj.Path)
	assert.Equal(t, int64(len(data)), obj.SizeBytes)
	assert.Equal(t, Checksum(data), obj.Checksum)

	onDisk, err := os.ReadFile(filepath.Join(dir, "ws-1", "01J000SNAP.json"))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)

	got, err := store.Get(ctx, obj.Path)
	require.NoError(t, err)
	assert.Equal(t, obj.Checksum, Checksum(got))

	require.NoError(t, store.Delete(ctx, obj.Path))
	// Deleting again is not an error.
	require.NoError(t, store.Delete(ctx, obj.Path))

	_, err = store.Get(ctx, obj.Path)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(ctx, "..", "snap", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = store.Put(ctx, "ws", "../../etc/passwd", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = store.Get(ctx, "../outside.json")
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.ErrorIs(t, store.Delete(ctx, "../../outside.json"), ErrInvalidPath)
}

func TestLocalStorage_OverwriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	_, err = store.Put(ctx, "ws", "snap", []byte("first"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "ws", "snap", []byte("second"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "ws"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snap.json", entries[0].Name())
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = body
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Storage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3StorageWithClient(fake, "backups", "safeback/")

	data := []byte(`{"version":1,"domains":{}}`)
	obj, err := store.Put(ctx, "ws-1", "snap-1", data)
	require.NoError(t, err)
	assert.Equal(t, "ws-1/snap-1.json", obj.Path)
	assert.Equal(t, Checksum(data), obj.Checksum)

	require.Len(t, fake.puts, 1)
	assert.Equal(t, "backups", aws.ToString(fake.puts[0].Bucket))
	assert.Equal(t, "safeback/ws-1/snap-1.json", aws.ToString(fake.puts[0].Key))
	assert.Equal(t, types.ChecksumAlgorithmSha256, fake.puts[0].ChecksumAlgorithm)

	got, err := store.Get(ctx, obj.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, store.Delete(ctx, obj.Path))
	require.NoError(t, store.Delete(ctx, obj.Path))

	_, err = store.Get(ctx, obj.Path)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Storage_RejectsBadPaths(t *testing.T) {
	store := NewS3StorageWithClient(newFakeS3(), "backups", "")
	_, err := store.Get(context.Background(), "../escape.json")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = store.Get(context.Background(), "/abs.json")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
