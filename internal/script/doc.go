// Package script implements the unit of lifecycle: one loaded script bound
// to one Engine, its category subscriptions and its delayed tasks.
//
// The embedded language is hidden behind the Engine interface; this package
// never imports a concrete interpreter. A Script mediates between the
// bindings exposed to script code (registerListener, registerDelayedTask,
// resolveEventType, convertEvent) and the dispatch registry and scheduler.
//
// Lifecycle:
//
//	Load ──▶ not run ──Run──▶ running
//	             │                │
//	             └────Discard─────┴──▶ discarded (terminal)
//
// A failed Run leaves the script not run. Discard is idempotent and undoes
// both sides of every subscription together with all pending tasks.
package script
