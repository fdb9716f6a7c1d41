// Package domain contains the core entities and sentinel errors for offsync.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (SQL, HTTP, logging) and contains only the data
// model and the rules that hold over it.
//
// # Entities
//
//   - [QueuedItem]: a write captured while offline (or before delivery),
//     retained until the remote acknowledges it
//   - [CachedEntry]: a snapshot of remote-origin data keyed by collection and key
//   - [Stats]: queue counters reported by the store
//
// # Invariants
//
// A queued item is never deleted while undelivered. Its identity and payload
// never change after creation; only the delivery bookkeeping moves.
package domain
