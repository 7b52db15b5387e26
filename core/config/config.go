package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"lms-zabbix-sync/core/database"
	"lms-zabbix-sync/core/event"
	"lms-zabbix-sync/core/logger"
	"lms-zabbix-sync/core/queue"
	"lms-zabbix-sync/core/server"
	"lms-zabbix-sync/core/storage"
	"lms-zabbix-sync/core/zabbix"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// RabbitMQ holds the connection to the LMS trigger queue.
	RabbitMQ queue.Config `mapstructure:"rabbitmq"`
	// Zabbix holds the Zabbix API settings.
	Zabbix zabbix.Config `mapstructure:"zabbix"`
	// Sync tunes buffering, workers and retries.
	Sync SyncConfig `mapstructure:"sync"`
	// Server holds configuration for the status HTTP server.
	Server server.Config `mapstructure:"server"`
	// Storage holds configuration for the dead-letter archive.
	Storage storage.Config `mapstructure:"storage"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the sync journal.
	Database database.Config `mapstructure:"database"`
	// Journal controls how long journal entries are kept.
	Journal JournalConfig `mapstructure:"journal"`
}

// JournalConfig holds the journal retention settings.
type JournalConfig struct {
	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration `mapstructure:"retention" default:"720h"`
	// PruneInterval is how often expired entries are deleted.
	PruneInterval time.Duration `mapstructure:"prune_interval" default:"1h"`
}

// SyncConfig holds the settings of the sync pipeline.
type SyncConfig struct {
	// Workers is the number of key-partitioned workers.
	Workers int `mapstructure:"workers" default:"4"`
	// RequiredFields must all be present before a device is synced.
	RequiredFields []string `mapstructure:"required_fields" default:"name,ip,iface,group"`
	// EvictInterval is how often stale pending records are evicted.
	EvictInterval time.Duration `mapstructure:"evict_interval" default:"1m"`
	// MaxAge is how long a record may stay incomplete.
	MaxAge time.Duration `mapstructure:"max_age" default:"30m"`
	// ApplyTimeout bounds reconciling and applying one change.
	ApplyTimeout time.Duration `mapstructure:"apply_timeout" default:"30s"`
	// RetryDelay is the first pause before a transient failure is retried.
	RetryDelay time.Duration `mapstructure:"retry_delay" default:"5s"`
	// MaxRetryDelay caps the doubling retry pause.
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" default:"1m"`
}

// Fields parses RequiredFields.
func (c SyncConfig) Fields() ([]event.Field, error) {
	return event.ParseFields(c.RequiredFields)
}

// Prefetch returns the queue prefetch, derived from the worker count unless set.
func (c *Config) Prefetch() int {
	if c.RabbitMQ.Prefetch > 0 {
		return c.RabbitMQ.Prefetch
	}
	if c.Sync.Workers > 0 {
		return c.Sync.Workers * 4
	}
	return 1
}

// LoadConfig loads configuration from environment variables and .env file.
func LoadConfig(path string) (*Config, error) {
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindValues(v, Config{}, "")

	// Map environment variables to nested keys (e.g. RABBITMQ_HOST -> rabbitmq.host)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings the service cannot run without.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	require := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	require(c.RabbitMQ.Host, "RABBITMQ_HOST")
	require(c.RabbitMQ.Username, "RABBITMQ_USERNAME")
	require(c.RabbitMQ.Password, "RABBITMQ_PASSWORD")
	require(c.RabbitMQ.Queue, "RABBITMQ_QUEUE")
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		errs = append(errs, fmt.Errorf("RABBITMQ_PORT %d is out of range", c.RabbitMQ.Port))
	}

	require(c.Zabbix.URL, "ZABBIX_URL")
	if !c.Zabbix.HasCredentials() {
		errs = append(errs, errors.New("ZABBIX_API_TOKEN or ZABBIX_USERNAME and ZABBIX_PASSWORD are required"))
	}

	if c.Sync.Workers < 1 {
		errs = append(errs, fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.Sync.Workers))
	}
	if _, err := c.Sync.Fields(); err != nil {
		errs = append(errs, fmt.Errorf("SYNC_REQUIRED_FIELDS: %w", err))
	}
	if c.Sync.MaxAge <= 0 || c.Sync.EvictInterval <= 0 || c.Sync.ApplyTimeout <= 0 {
		errs = append(errs, errors.New("SYNC_MAX_AGE, SYNC_EVICT_INTERVAL and SYNC_APPLY_TIMEOUT must be positive"))
	}

	if c.Database.Enabled && !c.Database.IsValidDriver() {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.Database.Driver))
	}
	if c.Journal.Retention < 0 {
		errs = append(errs, fmt.Errorf("JOURNAL_RETENTION must not be negative, got %s", c.Journal.Retention))
	}
	if c.Journal.Retention > 0 && c.Journal.PruneInterval <= 0 {
		errs = append(errs, errors.New("JOURNAL_PRUNE_INTERVAL must be positive when JOURNAL_RETENTION is set"))
	}
	if c.Storage.Enabled {
		require(c.Storage.Bucket, "STORAGE_BUCKET")
	}

	return errors.Join(errs...)
}

// bindValues uses reflection to iterate over the struct and set default values in Viper
// based on the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
