package reconcile

import (
	"fmt"

	"lms-zabbix-sync/core/buffer"
	"lms-zabbix-sync/core/zabbix"
)

// ActionType represents the kind of change a decision makes to a host.
type ActionType string

const (
	// ActionCreate creates a host that does not exist yet.
	ActionCreate ActionType = "create"

	// ActionUpdate replaces the state of an existing host.
	ActionUpdate ActionType = "update"

	// ActionDelete removes an existing host.
	ActionDelete ActionType = "delete"

	// ActionNoop means the host already matches; nothing is sent.
	ActionNoop ActionType = "noop"
)

// Decision is the planned change for one device. It is produced without
// touching Zabbix state and executed by Apply.
type Decision struct {
	// Action is the change to make.
	Action ActionType `json:"action"`

	// DeviceID is the LMS device the decision is for.
	DeviceID int64 `json:"device_id"`

	// HostID is the existing host, empty for create and for noop on a missing host.
	HostID string `json:"host_id,omitempty"`

	// Payload is the fully resolved desired host state for create and update.
	Payload zabbix.HostPayload `json:"payload"`

	// Reason is a short human readable explanation, used in logs and the journal.
	Reason string `json:"reason"`

	// Restore, when set, is put back into the buffer after a successful apply.
	Restore *buffer.PendingRecord `json:"restore,omitempty"`
}

// LookupFailedError is returned when the current host state could not be read.
// It is always worth retrying.
type LookupFailedError struct {
	DeviceID int64
	Host     string
	Err      error
}

func (e *LookupFailedError) Error() string {
	return fmt.Sprintf("host lookup failed for device %d (%s): %v", e.DeviceID, e.Host, e.Err)
}

func (e *LookupFailedError) Unwrap() error {
	return e.Err
}
