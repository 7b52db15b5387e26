package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// Dead-letter reasons.
const (
	ReasonMalformed = "malformed"
	ReasonRejected  = "rejected"
)

// DeadLetter is a queue message that was acknowledged without being synced.
type DeadLetter struct {
	MessageID  string    `json:"message_id"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error"`
	DeviceID   int64     `json:"device_id,omitempty"`
	Body       []byte    `json:"body"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Archive stores dead letters as JSON objects under a prefix, one per message.
type Archive struct {
	client Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewArchive creates an archive in bucket under prefix.
func NewArchive(client Client, bucket, prefix string) *Archive {
	return &Archive{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// EnsureBucket creates the bucket when it does not exist.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Put archives a dead letter and returns its object name.
func (a *Archive) Put(ctx context.Context, dl DeadLetter) (string, error) {
	if dl.ArchivedAt.IsZero() {
		dl.ArchivedAt = a.now().UTC()
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return "", fmt.Errorf("failed to encode dead letter %s: %w", dl.MessageID, err)
	}

	key := a.objectName(dl)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive dead letter %s: %w", dl.MessageID, err)
	}
	return key, nil
}

// List returns the object names of all archived dead letters, oldest first.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: a.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list dead letters: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, ".json") {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get reads one archived dead letter.
func (a *Archive) Get(ctx context.Context, key string) (DeadLetter, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return DeadLetter{}, fmt.Errorf("failed to open dead letter %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return DeadLetter{}, fmt.Errorf("failed to read dead letter %s: %w", key, err)
	}
	var dl DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("failed to decode dead letter %s: %w", key, err)
	}
	return dl, nil
}

// Remove deletes an archived dead letter.
func (a *Archive) Remove(ctx context.Context, key string) error {
	if err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove dead letter %s: %w", key, err)
	}
	return nil
}

// objectName places letters in per-day folders; names sort by archive time.
func (a *Archive) objectName(dl DeadLetter) string {
	id := strings.ReplaceAll(dl.MessageID, "/", "_")
	return fmt.Sprintf("%s%s/%s-%s.json",
		a.prefix, dl.ArchivedAt.Format("2006/01/02"), dl.ArchivedAt.Format("150405.000000000"), id)
}
