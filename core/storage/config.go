package storage

import "time"

// Config holds configuration for the dead-letter object storage.
type Config struct {
	// Enabled turns dead-letter archiving on.
	Enabled bool `mapstructure:"enabled" default:"false"`
	// Endpoint is the S3 or MinIO endpoint, with or without scheme.
	Endpoint string `mapstructure:"endpoint" default:"localhost:9000"`
	// AccessKey is the access key ID for authentication.
	AccessKey string `mapstructure:"access_key" default:"minioadmin"`
	// SecretKey is the secret access key for authentication.
	SecretKey string `mapstructure:"secret_key" default:"minioadmin"`
	// UseSSL indicates whether to use TLS.
	UseSSL bool `mapstructure:"use_ssl" default:"false"`
	// Bucket receives the archived messages.
	Bucket string `mapstructure:"bucket" default:"lms-zabbix-sync"`
	// Region is the bucket location (e.g., us-east-1).
	Region string `mapstructure:"region" default:""`
	// Prefix is prepended to every dead-letter object name.
	Prefix string `mapstructure:"prefix" default:"dead-letters/"`
	// TimeoutSeconds is the connection timeout in seconds.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
}

// Timeout returns the connection timeout.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
