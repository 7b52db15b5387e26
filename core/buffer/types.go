package buffer

import (
	"time"

	"lms-zabbix-sync/core/event"
)

// Status is the outcome of feeding an event into the buffer.
type Status string

const (
	// Incomplete means the record is still waiting for required fields.
	Incomplete Status = "incomplete"
	// Completed means the record has every required field and left the buffer.
	Completed Status = "completed"
	// Deleted means a delete event discarded whatever was buffered for the device.
	Deleted Status = "deleted"
)

// PendingRecord is the accumulating state for one device.
type PendingRecord struct {
	DeviceID int64              `json:"device_id"`
	Device   event.DeviceFields `json:"device"`
	Node     event.NodeFields   `json:"node"`

	// Replace is set once a full device row (an LMS INSERT) was merged. A replace
	// drops interfaces the monitoring system knows but this record does not.
	Replace bool `json:"replace"`

	LastUpdated time.Time `json:"last_updated"`
}

// Has reports whether the record carries field f on either side.
func (r PendingRecord) Has(f event.Field) bool {
	return r.Device.Has(f) || r.Node.Has(f)
}

// Missing lists the required fields the record does not carry yet.
func (r PendingRecord) Missing(required []event.Field) []event.Field {
	var missing []event.Field
	for _, f := range required {
		if !r.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete is the completeness predicate: every required field is present.
func Complete(r PendingRecord, required []event.Field) bool {
	for _, f := range required {
		if !r.Has(f) {
			return false
		}
	}
	return true
}

// Result is returned by Merge and Backfill.
type Result struct {
	Status   Status `json:"status"`
	DeviceID int64  `json:"device_id"`

	// Record is the completed record for Completed, the discarded record (or nil
	// when nothing was buffered) for Deleted, and nil for Incomplete.
	Record *PendingRecord `json:"record,omitempty"`

	// Missing lists the absent required fields for Incomplete.
	Missing []event.Field `json:"missing,omitempty"`
}

// Snapshot summarises the buffer for status reporting.
type Snapshot struct {
	Pending int           `json:"pending"`
	Oldest  time.Duration `json:"oldest_ns"`
	Shards  []int         `json:"shards"`
}
