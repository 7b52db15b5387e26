// Package config loads the service configuration.
//
// Settings come from environment variables, optionally seeded from a .env
// file, with defaults taken from the `default` struct tags of each section.
// Nested keys map to upper-case variables joined by underscores, so the
// rabbitmq.host key is read from RABBITMQ_HOST and zabbix.host_group_id from
// ZABBIX_HOST_GROUP_ID.
//
// # Configuration Structure
//
//   - RabbitMQ: broker connection and queue
//   - Zabbix: API endpoint, credentials, host group, templates
//   - Sync: workers, required fields, eviction and retry timing
//   - Server: status HTTP server
//   - Storage: dead-letter archive
//   - Database: sync journal
//   - Log: level and format
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
