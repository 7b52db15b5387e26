package storage_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"lms-zabbix-sync/core/storage"
	"lms-zabbix-sync/core/storage/mocks"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		client, err := storage.NewClient(storage.Config{
			Endpoint:  "localhost:9000",
			AccessKey: "testkey",
			SecretKey: "testsecret",
			Bucket:    "test-bucket",
			Region:    "us-east-1",
		})
		assert.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("EndpointWithScheme", func(t *testing.T) {
		client, err := storage.NewClient(storage.Config{
			Endpoint:  "https://s3.amazonaws.com",
			AccessKey: "testkey",
			SecretKey: "testsecret",
			UseSSL:    true,
		})
		assert.NoError(t, err)
		assert.NotNil(t, client)
	})
}

func TestArchive_EnsureBucket(t *testing.T) {
	ctx := context.Background()

	t.Run("Exists", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", ctx, "dl").Return(true, nil)

		require.NoError(t, storage.NewArchive(client, "dl", "p/").EnsureBucket(ctx))
		client.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Created", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", ctx, "dl").Return(false, nil)
		client.On("MakeBucket", ctx, "dl", minio.MakeBucketOptions{}).Return(nil)

		require.NoError(t, storage.NewArchive(client, "dl", "p/").EnsureBucket(ctx))
		client.AssertExpectations(t)
	})

	t.Run("Error", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", ctx, "dl").Return(false, errors.New("denied"))

		assert.Error(t, storage.NewArchive(client, "dl", "p/").EnsureBucket(ctx))
	})
}

func TestArchive_Put(t *testing.T) {
	ctx := context.Background()
	client := new(mocks.Client)
	archivedAt := time.Date(2026, 10, 18, 8, 30, 0, 0, time.UTC)

	var stored []byte
	client.On("PutObject", ctx, "dl", mock.AnythingOfType("string"), mock.Anything, mock.AnythingOfType("int64"), mock.Anything).
		Run(func(args mock.Arguments) {
			stored, _ = io.ReadAll(args.Get(3).(io.Reader))
		}).
		Return(minio.UploadInfo{}, nil)

	archive := storage.NewArchive(client, "dl", "dead-letters/")
	key, err := archive.Put(ctx, storage.DeadLetter{
		MessageID:  "a/b",
		Reason:     storage.ReasonMalformed,
		Error:      "invalid json",
		Body:       []byte("not json"),
		ArchivedAt: archivedAt,
	})
	require.NoError(t, err)

	assert.Equal(t, "dead-letters/2026/10/18/083000.000000000-a_b.json", key)
	var dl storage.DeadLetter
	require.NoError(t, json.Unmarshal(stored, &dl))
	assert.Equal(t, []byte("not json"), dl.Body)
	assert.Equal(t, storage.ReasonMalformed, dl.Reason)
}

func TestArchive_ListGetRemove(t *testing.T) {
	ctx := context.Background()
	client := new(mocks.Client)
	archive := storage.NewArchive(client, "dl", "dead-letters/")

	objects := make(chan minio.ObjectInfo, 3)
	objects <- minio.ObjectInfo{Key: "dead-letters/2026/10/18/2.json"}
	objects <- minio.ObjectInfo{Key: "dead-letters/2026/10/17/1.json"}
	objects <- minio.ObjectInfo{Key: "dead-letters/README"}
	close(objects)
	client.On("ListObjects", ctx, "dl", minio.ListObjectsOptions{Prefix: "dead-letters/", Recursive: true}).
		Return((<-chan minio.ObjectInfo)(objects))

	keys, err := archive.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dead-letters/2026/10/17/1.json", "dead-letters/2026/10/18/2.json"}, keys)

	body, _ := json.Marshal(storage.DeadLetter{MessageID: "m1", Reason: storage.ReasonRejected, DeviceID: 4, Body: []byte(`{}`)})
	client.On("GetObject", ctx, "dl", keys[0], minio.GetObjectOptions{}).
		Return(io.NopCloser(bytes.NewReader(body)), nil)

	dl, err := archive.Get(ctx, keys[0])
	require.NoError(t, err)
	assert.Equal(t, "m1", dl.MessageID)
	assert.Equal(t, int64(4), dl.DeviceID)

	client.On("RemoveObject", ctx, "dl", keys[0], minio.RemoveObjectOptions{}).Return(nil)
	require.NoError(t, archive.Remove(ctx, keys[0]))
	client.AssertExpectations(t)
}

func TestArchive_ListError(t *testing.T) {
	ctx := context.Background()
	client := new(mocks.Client)

	objects := make(chan minio.ObjectInfo, 1)
	objects <- minio.ObjectInfo{Err: errors.New("access denied")}
	close(objects)
	client.On("ListObjects", ctx, "dl", mock.Anything).Return((<-chan minio.ObjectInfo)(objects))

	_, err := storage.NewArchive(client, "dl", "").List(ctx)
	assert.ErrorContains(t, err, "access denied")
}
