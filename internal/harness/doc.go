// Package harness runs YAML scenarios against a real script host.
//
// A scenario writes its scripts into a fresh script directory, drives the
// host through console commands, fired events and ticks, and then checks
// the lifecycle journal, console output and final registry state.
//
// # Scenario Format
//
//	name: failure_isolation
//	description: "A throwing listener does not stop its siblings"
//	scripts:
//	  a.js: |
//	    registerListener(TargetBlockEvent, "onBlock");
//	    function onBlock(ev) { throw new Error("boom"); }
//	  b.js: |
//	    registerListener(TargetBlockEvent, "onBlock");
//	    function onBlock(ev) { console.log("b " + ev.data.block); }
//	steps:
//	  - do: select
//	    actor: u1
//	    file: a.js
//	  - do: run
//	    actor: u1
//	    expect: { status: success }
//	  - do: fire
//	    category: block-target
//	    data: { block: stone }
//	    expect: { failed: ["a.js#1"] }
//	assertions:
//	  - type: output
//	    lines: ["b stone"]
//	  - type: trace_count
//	    kind: listener_failed
//	    count: 1
//
// # Steps
//
//   - select: SelectScript for actor with file (and fallback)
//   - run, discard, current: the matching command for actor
//   - fire: dispatch an event of category with data, shapes and location
//   - tick: advance the clock by ticks
//   - write, delete: change a file in the script directory
//
// Actor "" and "console" mean the console; "nobody" is a principal with no
// identity; anything else is a user id.
//
// # Assertion Types
//
//   - trace_contains: a journal record matches kind, script, category and detail
//   - trace_order: record kinds appear in the given order
//   - trace_count: a record kind appears exactly count times
//   - output: console output lines, in order
//   - live_scripts: the ids of live scripts
//   - subscribers: the subscribers of a category, in order
//   - selection: the script an actor has selected ("" for none)
//
// # Deterministic Testing
//
// Every scenario runs with sequential instance numbers (a.js#1, b.js#2, ...),
// counting fan-out ids (fanout-1, ...), a tick clock starting at zero and an
// in-memory journal, so traces are identical across runs and can be compared
// against golden files.
package harness
