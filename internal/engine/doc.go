// Package engine implements the host-side time and event pump for scripts.
//
// It owns three things:
//
//   - TickClock: the host's monotonic logical clock. Delayed tasks are
//     measured in ticks, never wall-clock time, so scheduling is
//     deterministic relative to host progress.
//   - Scheduler: per-script delayed tasks that fire when the clock reaches
//     their due tick and can be cancelled in bulk when a script is discarded.
//   - Loop: a single-consumer FIFO into which host threads enqueue fire and
//     tick events; Run drains it in order.
//
// THREADING:
//
// Host threads fire events and advance ticks; command handlers subscribe and
// discard concurrently. The Scheduler's pending set is guarded by a mutex
// that is never held while a task body runs, so a task may schedule more
// tasks. Cancellation is best-effort: a task already taken for execution
// cannot be un-fired.
package engine
