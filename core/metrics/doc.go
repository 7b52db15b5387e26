// Package metrics exposes the sync service counters and buffer gauges to
// Prometheus.
package metrics
