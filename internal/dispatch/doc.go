// Package dispatch owns the per-category dispatchers and the table of live
// scripts, and is the single place where a fired host event fans out.
//
// A Registry is built once by the host: one Dispatcher per event category,
// registered at startup. Scripts register themselves as Listeners when they
// are loaded and subscribe to categories while they run. Dispatch resolves
// each subscriber to a live Listener at call time, so a script discarded
// mid fan-out is skipped rather than invoked.
//
// Failures raised by one listener are logged with the script id and filename
// and never stop delivery to the remaining subscribers.
package dispatch
