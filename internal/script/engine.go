package script

import (
	"context"
	"io"

	"github.com/roach88/scripthost/internal/ir"
)

// Program is a compiled script body, ready for Engine.Run.
type Program interface {
	Name() string
}

// HostFunc is a host function callable from script code. Arguments and the
// result are plain values; script functions arrive as ir.IRCallback handles.
// A returned error is raised inside the script.
type HostFunc func(ctx context.Context, args []ir.IRValue) (ir.IRValue, error)

// Engine is one isolated script execution context.
//
// Implementations serialize calls into the context; they may be used from
// several goroutines. After Close every method returns an ErrCodeDiscarded
// error.
type Engine interface {
	// Bind exposes fn to script code under name. Call before Run.
	Bind(name string, fn HostFunc) error

	// Define exposes a constant value under name. Call before Run.
	Define(name string, value ir.IRValue) error

	// Compile parses src. Syntax errors are ErrCodeCompile with a line.
	Compile(name string, src io.Reader) (Program, error)

	// Run executes a compiled body once.
	Run(ctx context.Context, p Program) error

	// Invoke calls the script-defined global function fn with one argument.
	// Fails with ErrCodeNoSuchFunction or ErrCodeScriptRuntime.
	Invoke(ctx context.Context, fn string, arg ir.IRValue) (ir.IRValue, error)

	// Call invokes a callback handle previously passed to a HostFunc.
	Call(ctx context.Context, cb ir.IRCallback, args ...ir.IRValue) (ir.IRValue, error)

	// Release forgets a callback handle. Unknown handles are ignored.
	Release(cb ir.IRCallback)

	// Close tears the context down, interrupting any running code.
	Close() error
}

// EngineFactory builds a fresh Engine for the script with the given id.
type EngineFactory func(scriptID string) (Engine, error)

// Source is a resolved script file. Open is called again on every Run so a
// file removed after loading is reported as unavailable.
type Source interface {
	Filename() string
	Open() (io.ReadCloser, error)
}

// Resolver locates script sources. allowFallback permits copying a bundled
// default into place when the local file is missing.
type Resolver interface {
	Resolve(name string, allowFallback bool) (Source, error)
}
