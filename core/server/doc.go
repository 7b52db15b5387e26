// Package server holds the status HTTP server configuration.
//
// The server exposes health, buffer status, the sync journal and Prometheus
// metrics. It is started by the start command when enabled.
package server
