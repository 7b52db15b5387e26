package journal

import "time"

// Outcomes recorded in the journal.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeDropped  = "dropped"
	OutcomeRequeued = "requeued"
	OutcomeEvicted  = "evicted"
)

// Entry is one journaled sync outcome.
type Entry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID string    `gorm:"column:message_id;size:64;index" json:"message_id"`
	DeviceID  int64     `gorm:"column:device_id;index" json:"device_id"`
	Kind      string    `gorm:"column:kind;size:32" json:"kind"`
	Action    string    `gorm:"column:action;size:16" json:"action"`
	Outcome   string    `gorm:"column:outcome;size:16;index" json:"outcome"`
	HostID    string    `gorm:"column:host_id;size:32" json:"host_id,omitempty"`
	Reason    string    `gorm:"column:reason;size:255" json:"reason,omitempty"`
	Error     string    `gorm:"column:error;size:1024" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
}

// TableName overrides the table name used by Entry.
func (Entry) TableName() string {
	return "sync_journal"
}

// columns lists the columns the store reads and writes.
var columns = []string{"id", "message_id", "device_id", "kind", "action", "outcome", "host_id", "reason", "error", "created_at"}
