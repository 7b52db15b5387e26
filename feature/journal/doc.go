// Package journal records the outcome of every synced, dropped or requeued
// change in a database table and serves recent entries over HTTP.
//
// The journal answers "what happened to device N" after the fact: which
// action was applied to its host, or why a message was dropped.
//
// # Routes
//
//   - GET /journal?device_id=&outcome=&limit=
package journal
