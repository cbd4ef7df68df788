package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/roach88/scripthost/internal/ir"
)

// body is the Go stand-in for a script's top-level code.
type body func(ctx context.Context, e *fakeEngine) error

type fakeProgram struct {
	name string
	src  string
}

func (p fakeProgram) Name() string { return p.name }

// fakeEngine interprets a source text as a key into a table of Go bodies.
// The source "syntax error" fails to compile at line 3.
type fakeEngine struct {
	id     string
	bodies map[string]body

	mu        sync.Mutex
	binds     map[string]HostFunc
	consts    map[string]ir.IRValue
	funcs     map[string]func(ir.IRValue) error
	callbacks map[uint64]func() error
	nextCB    uint64
	closed    bool
	runs      int
}

func newFakeEngine(id string, bodies map[string]body) *fakeEngine {
	return &fakeEngine{
		id:        id,
		bodies:    bodies,
		binds:     make(map[string]HostFunc),
		consts:    make(map[string]ir.IRValue),
		funcs:     make(map[string]func(ir.IRValue) error),
		callbacks: make(map[uint64]func() error),
	}
}

func (e *fakeEngine) Bind(name string, fn HostFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.binds[name] = fn
	return nil
}

func (e *fakeEngine) Define(name string, v ir.IRValue) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consts[name] = v
	return nil
}

func (e *fakeEngine) Compile(name string, src io.Reader) (Program, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "syntax error" {
		return nil, NewCompileError(name, "unexpected token", 3, nil)
	}
	return fakeProgram{name: name, src: text}, nil
}

func (e *fakeEngine) Run(ctx context.Context, p Program) error {
	if e.isClosed() {
		return NewDiscardedError(e.id)
	}
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()

	b, ok := e.bodies[p.(fakeProgram).src]
	if !ok {
		return nil
	}
	if err := b(ctx, e); err != nil {
		return NewRuntimeError(e.id, err.Error(), 0, err)
	}
	return nil
}

func (e *fakeEngine) Invoke(_ context.Context, fn string, arg ir.IRValue) (ir.IRValue, error) {
	if e.isClosed() {
		return nil, NewDiscardedError(e.id)
	}
	e.mu.Lock()
	f, ok := e.funcs[fn]
	e.mu.Unlock()
	if !ok {
		return nil, NewNoSuchFunction(e.id, fn)
	}
	if err := f(arg); err != nil {
		return nil, NewRuntimeError(e.id, err.Error(), 0, err)
	}
	return ir.IRNull{}, nil
}

func (e *fakeEngine) Call(_ context.Context, cb ir.IRCallback, _ ...ir.IRValue) (ir.IRValue, error) {
	if e.isClosed() {
		return nil, NewDiscardedError(e.id)
	}
	e.mu.Lock()
	f, ok := e.callbacks[cb.Ref]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown callback %d", cb.Ref)
	}
	return ir.IRNull{}, f()
}

func (e *fakeEngine) Release(cb ir.IRCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.callbacks, cb.Ref)
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// define stands in for a script declaring a global function.
func (e *fakeEngine) define(name string, fn func(ir.IRValue) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[name] = fn
}

// callback stands in for a script passing a function value to the host.
func (e *fakeEngine) callback(fn func() error) ir.IRCallback {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextCB++
	e.callbacks[e.nextCB] = fn
	return ir.IRCallback{Ref: e.nextCB}
}

// call stands in for script code calling a bound host function.
func (e *fakeEngine) call(ctx context.Context, name string, args ...ir.IRValue) (ir.IRValue, error) {
	e.mu.Lock()
	fn, ok := e.binds[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s is not bound", name)
	}
	return fn(ctx, args)
}

// memResolver serves sources from a map. Deleting an entry after Load
// simulates a file vanishing before Run.
type memResolver struct {
	mu    sync.Mutex
	files map[string]string
}

type memSource struct {
	r    *memResolver
	name string
}

func (s memSource) Filename() string { return s.name }

func (s memSource) Open() (io.ReadCloser, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	src, ok := s.r.files[s.name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(src)), nil
}

func (r *memResolver) Resolve(name string, _ bool) (Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[name]; !ok {
		return nil, errors.New("not found")
	}
	return memSource{r: r, name: name}, nil
}

func (r *memResolver) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, name)
}

// heldCallbacks returns how many callback handles are still registered.
func (e *fakeEngine) heldCallbacks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.callbacks)
}
