package jsvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/roach88/scripthost/internal/ir"
	"github.com/roach88/scripthost/internal/script"
)

// errClosed is the interrupt value used by Close.
var errClosed = errors.New("runtime closed")

// OutputFunc receives console output. level is "log", "warn" or "error".
type OutputFunc func(scriptID, level, line string)

// Runtime is a goja-backed script.Engine.
//
// INVARIANTS:
//   - mu is held for every call into vm except Interrupt
//   - cbMu guards callbacks and may be taken while mu is held, never the reverse
type Runtime struct {
	id string
	vm *goja.Runtime

	mu     sync.Mutex
	ctx    context.Context // context of the call in progress, read by host functions
	closed atomic.Bool

	cbMu      sync.Mutex
	callbacks map[uint64]*goja.Object
	nextRef   uint64

	timeout  time.Duration
	maxDepth int
	logger   *slog.Logger
	output   OutputFunc
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for console output and diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithOutput sets a sink for console output in addition to the logger.
func WithOutput(fn OutputFunc) Option {
	return func(r *Runtime) {
		r.output = fn
	}
}

// WithInvokeTimeout interrupts Invoke and Call after d. Zero disables the
// timeout, which is the default.
func WithInvokeTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.timeout = d
	}
}

// WithMaxDepth limits nesting of values converted from script code.
func WithMaxDepth(depth int) Option {
	return func(r *Runtime) {
		r.maxDepth = depth
	}
}

// New creates a Runtime for the script with the given id.
func New(scriptID string, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		id:        scriptID,
		vm:        goja.New(),
		ctx:       context.Background(),
		callbacks: make(map[uint64]*goja.Object),
		maxDepth:  32,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer{r}))
	registry.Enable(r.vm)
	console.Enable(r.vm)

	return r, nil
}

// Factory returns a script.EngineFactory building Runtimes with opts.
func Factory(opts ...Option) script.EngineFactory {
	return func(scriptID string) (script.Engine, error) {
		return New(scriptID, opts...)
	}
}

type program struct {
	name string
	prog *goja.Program
}

func (p *program) Name() string { return p.name }

// Bind implements script.Engine.
func (r *Runtime) Bind(name string, fn script.HostFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return script.NewDiscardedError(r.id)
	}

	return r.vm.Set(name, func(call goja.FunctionCall) goja.Value {
		args := make([]ir.IRValue, len(call.Arguments))
		for i, a := range call.Arguments {
			v, err := r.fromValue(a, 0)
			if err != nil {
				panic(r.vm.NewTypeError(fmt.Sprintf("%s: argument %d: %v", name, i, err)))
			}
			args[i] = v
		}
		res, err := fn(r.ctx, args)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.toValue(res)
	})
}

// Define implements script.Engine.
func (r *Runtime) Define(name string, value ir.IRValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return script.NewDiscardedError(r.id)
	}
	return r.vm.Set(name, r.toValue(value))
}

// Compile implements script.Engine.
func (r *Runtime) Compile(name string, src io.Reader) (script.Program, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, script.NewSourceUnavailable(name, err)
	}

	prog, err := goja.Compile(name, string(data), false)
	if err != nil {
		return nil, script.NewCompileError(name, err.Error(), syntaxLine(err), err)
	}
	return &program{name: name, prog: prog}, nil
}

// Run implements script.Engine.
func (r *Runtime) Run(ctx context.Context, p script.Program) error {
	prog, ok := p.(*program)
	if !ok {
		return fmt.Errorf("program %q was not compiled by jsvm", p.Name())
	}

	release, err := r.enter(ctx, 0)
	if err != nil {
		return err
	}
	defer release()

	if _, err := r.vm.RunProgram(prog.prog); err != nil {
		return r.convertError(err)
	}
	return nil
}

// Invoke implements script.Engine.
func (r *Runtime) Invoke(ctx context.Context, fn string, arg ir.IRValue) (ir.IRValue, error) {
	release, err := r.enter(ctx, r.timeout)
	if err != nil {
		return nil, err
	}
	defer release()

	callable, ok := goja.AssertFunction(r.vm.Get(fn))
	if !ok {
		return nil, script.NewNoSuchFunction(r.id, fn)
	}

	res, err := callable(goja.Undefined(), r.toValue(arg))
	if err != nil {
		return nil, r.convertError(err)
	}
	return r.result(res)
}

// Call implements script.Engine.
func (r *Runtime) Call(ctx context.Context, cb ir.IRCallback, args ...ir.IRValue) (ir.IRValue, error) {
	release, err := r.enter(ctx, r.timeout)
	if err != nil {
		return nil, err
	}
	defer release()

	r.cbMu.Lock()
	obj, ok := r.callbacks[cb.Ref]
	r.cbMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: unknown callback %d", r.id, cb.Ref)
	}
	callable, _ := goja.AssertFunction(obj)

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = r.toValue(a)
	}
	res, err := callable(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, r.convertError(err)
	}
	return r.result(res)
}

// Release implements script.Engine.
func (r *Runtime) Release(cb ir.IRCallback) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	delete(r.callbacks, cb.Ref)
}

// Close implements script.Engine. Running code is interrupted; Close does not
// wait for it to return.
func (r *Runtime) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.vm.Interrupt(errClosed)

	r.cbMu.Lock()
	clear(r.callbacks)
	r.cbMu.Unlock()
	return nil
}

// enter takes the VM lock and arms interruption for ctx and timeout.
func (r *Runtime) enter(ctx context.Context, timeout time.Duration) (func(), error) {
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return nil, script.NewDiscardedError(r.id)
	}
	r.vm.ClearInterrupt()

	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt(context.Cause(ctx))
	})

	prev := r.ctx
	r.ctx = ctx
	return func() {
		stop()
		cancel()
		r.ctx = prev
		if !r.closed.Load() {
			r.vm.ClearInterrupt()
		}
		r.mu.Unlock()
	}, nil
}

func (r *Runtime) result(v goja.Value) (ir.IRValue, error) {
	out, err := r.fromValue(v, 0)
	if err != nil {
		return nil, script.NewRuntimeError(r.id, fmt.Sprintf("unconvertible result: %v", err), 0, err)
	}
	return out, nil
}

// convertError maps goja errors onto the script error taxonomy.
func (r *Runtime) convertError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if r.closed.Load() {
			return script.NewDiscardedError(r.id)
		}
		return script.NewRuntimeError(r.id, fmt.Sprintf("interrupted: %v", interrupted.Value()), 0, err)
	}

	// A host function refusing a discarded script surfaces as a GoError.
	var se *script.Error
	if errors.As(err, &se) && se.Code == script.ErrCodeDiscarded {
		return se
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return script.NewRuntimeError(r.id, ex.Error(), exceptionLine(ex), err)
	}
	return script.NewRuntimeError(r.id, err.Error(), 0, err)
}

func syntaxLine(err error) int {
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) && se.File != nil {
		return se.File.Position(se.Offset).Line
	}
	return 0
}

func exceptionLine(ex *goja.Exception) int {
	for _, frame := range ex.Stack() {
		if line := frame.Position().Line; line > 0 {
			return line
		}
	}
	return 0
}

// printer routes goja_nodejs console output.
type printer struct {
	r *Runtime
}

func (p printer) Log(s string)   { p.emit(slog.LevelInfo, "log", s) }
func (p printer) Warn(s string)  { p.emit(slog.LevelWarn, "warn", s) }
func (p printer) Error(s string) { p.emit(slog.LevelError, "error", s) }

func (p printer) emit(level slog.Level, name, line string) {
	p.r.logger.Log(context.Background(), level, "script output", "script", p.r.id, "line", line)
	if p.r.output != nil {
		p.r.output(p.r.id, name, line)
	}
}
