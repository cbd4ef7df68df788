// Package journal provides a SQLite-backed append-only log of script
// lifecycle records: loads, runs, subscriptions, fan-outs, task firings and
// discards.
//
// The journal is an audit trail. It is never read back to restore scripts;
// a restarted host starts with no scripts loaded.
//
// # Ordering
//
//   - Every record gets a seq from the journal, strictly increasing across
//     process runs sharing one database file
//   - tick is the host tick at the time of the record, not wall time
//   - All queries ORDER BY seq ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Detail payloads are stored as canonical JSON (ir.MarshalCanonical) so
// golden traces are byte-stable.
package journal
