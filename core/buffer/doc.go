// Package buffer accumulates partial device records until they carry every
// required field.
//
// LMS emits device rows and node rows as separate trigger messages in no
// particular order. The buffer keeps one PendingRecord per device, merges each
// event into it (last write wins per field, interfaces combined by node) and
// hands the record off exactly once when it becomes complete.
//
// Records are held in lock shards selected by Partition, so merges for
// different devices proceed in parallel while merges for the same device are
// serialized.
package buffer
