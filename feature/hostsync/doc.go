// Package hostsync is the sync orchestrator. It consumes LMS trigger
// messages, assembles them into complete device records and applies the
// resulting host changes to Zabbix.
//
// # Flow
//
// A dispatcher decodes each message and routes it to the worker owning the
// device (buffer.Partition over the worker count), so all changes to one
// device are handled in the order received. A worker merges the event into
// the buffer and, once the record is complete or the device was deleted,
// reconciles it against the current host and applies the decision.
//
// # Acknowledgement
//
//   - Malformed message: ack, dead letter, journal "dropped".
//   - Applied or noop: ack, journal "applied" / "noop".
//   - Still incomplete: ack; the fields wait in the buffer.
//   - Zabbix rejected the change: ack, dead letter, journal "dropped".
//   - Anything else (network, timeout, 5xx, lookup): the record goes back into
//     the buffer and the message is requeued after RetryDelay.
//
// Records that stay incomplete longer than MaxAge are evicted by a
// background ticker.
//
// # Routes
//
//   - GET /sync/buffer
//   - GET /sync/buffer/:id
package hostsync
