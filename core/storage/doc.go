// Package storage archives dead letters in S3 compatible object storage.
//
// Messages the sync service acknowledges without applying (malformed
// payloads, changes Zabbix rejected) are written as JSON objects so they can be
// inspected and replayed later with the replay command.
//
// The Client interface wraps the MinIO Go client and is mocked in
// core/storage/mocks.
//
// # Usage
//
//	client, err := storage.NewClient(cfg)
//	archive := storage.NewArchive(client, cfg.Bucket, cfg.Prefix)
//	key, err := archive.Put(ctx, storage.DeadLetter{MessageID: id, Reason: storage.ReasonMalformed, Body: body})
package storage
