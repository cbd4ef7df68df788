// Package jsvm runs scripts in goja, an embedded ECMAScript 5.1+ engine.
//
// Each Runtime owns one goja.Runtime and implements script.Engine. Calls
// into the VM are serialized by a mutex; Close interrupts running code
// without waiting for it. console.log, console.warn and console.error come
// from goja_nodejs and are routed to slog and to an optional output sink
// tagged with the script id.
//
// Values crossing the boundary are converted to and from ir values. Script
// functions handed to the host become ir.IRCallback handles that the host
// passes back to Call.
package jsvm
