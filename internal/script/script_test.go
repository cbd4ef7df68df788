package script

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scripthost/internal/dispatch"
	"github.com/roach88/scripthost/internal/engine"
	"github.com/roach88/scripthost/internal/ir"
	"github.com/roach88/scripthost/internal/testutil"
)

type fixture struct {
	env      *Env
	resolver *memResolver
	engines  map[string]*fakeEngine
	mu       sync.Mutex
}

func newFixture(t *testing.T, files map[string]string, bodies map[string]body) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := dispatch.NewRegistry(
		dispatch.WithLogger(logger),
		dispatch.WithFanoutIDs(&testutil.CountingFanoutIDs{}),
	)
	for _, c := range ir.DefaultCategories() {
		require.NoError(t, reg.RegisterDispatcher(c))
	}

	f := &fixture{
		resolver: &memResolver{files: files},
		engines:  make(map[string]*fakeEngine),
	}
	f.env = &Env{
		Registry:  reg,
		Scheduler: engine.NewScheduler(engine.NewTickClock(), engine.WithSchedulerLogger(logger)),
		NewEngine: func(id string) (Engine, error) {
			e := newFakeEngine(id, bodies)
			f.mu.Lock()
			f.engines[id] = e
			f.mu.Unlock()
			return e, nil
		},
		Instances: testutil.NewSequentialInstances(),
		Logger:    logger,
	}
	return f
}

func (f *fixture) load(t *testing.T, name string) *Script {
	t.Helper()
	s, err := Load(context.Background(), f.env, f.resolver, name, false)
	require.NoError(t, err)
	return s
}

func (f *fixture) engine(s *Script) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[s.ID()]
}

// listen subscribes category to a function that appends to *log.
func listen(category, fn string, log *[]string, mu *sync.Mutex) body {
	return func(ctx context.Context, e *fakeEngine) error {
		e.define(fn, func(ir.IRValue) error {
			mu.Lock()
			defer mu.Unlock()
			*log = append(*log, e.id+":"+fn)
			return nil
		})
		_, err := e.call(ctx, FuncRegisterListener, ir.IRString(category), ir.IRString(fn))
		return err
	}
}

func TestLoad_AssignsIDAndRegisters(t *testing.T) {
	f := newFixture(t, map[string]string{"x.js": ""}, nil)
	s := f.load(t, "x.js")

	assert.Equal(t, "x.js#1", s.ID())
	assert.Equal(t, "x.js", s.Filename())
	assert.False(t, s.Running())

	l, ok := f.env.Registry.Lookup(s.ID())
	require.True(t, ok)
	assert.Same(t, s, l)

	e := f.engine(s)
	assert.Equal(t, ir.IRString(ir.CategoryEntityTarget), e.consts["TargetEntityEvent"])
	assert.Contains(t, e.binds, FuncGetEvent)
}

func TestLoad_SameFileTwiceIsTwoInstances(t *testing.T) {
	f := newFixture(t, map[string]string{"x.js": ""}, nil)
	a := f.load(t, "x.js")
	b := f.load(t, "x.js")
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestLoad_RetriesCollidingInstanceNumbers(t *testing.T) {
	f := newFixture(t, map[string]string{"x.js": ""}, nil)
	f.env.Instances = testutil.NewRepeatingInstances(5, 5, 5, 6)

	a := f.load(t, "x.js")
	b := f.load(t, "x.js")
	assert.Equal(t, "x.js#5", a.ID())
	assert.Equal(t, "x.js#6", b.ID())
}

func TestLoad_SourceUnavailable(t *testing.T) {
	f := newFixture(t, map[string]string{}, nil)
	_, err := Load(context.Background(), f.env, f.resolver, "missing.js", true)
	require.Error(t, err)
	assert.True(t, IsSourceUnavailable(err))
	assert.Empty(t, f.env.Registry.Live())
}

func TestRun_TransitionsOnce(t *testing.T) {
	f := newFixture(t, map[string]string{"x.js": "noop"}, nil)
	s := f.load(t, "x.js")
	ctx := context.Background()

	require.NoError(t, s.Run(ctx))
	assert.True(t, s.Running())

	err := s.Run(ctx)
	assert.True(t, IsAlreadyRunning(err))
	assert.Equal(t, 1, f.engine(s).runs)
}

func TestRun_CompileErrorKeepsState(t *testing.T) {
	files := map[string]string{"bad.js": "syntax error"}
	f := newFixture(t, files, nil)
	s := f.load(t, "bad.js")

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsCompileError(err))
	assert.Equal(t, 3, LineOf(err))
	assert.False(t, s.Running())

	// Fixing the file makes a second run succeed.
	f.resolver.mu.Lock()
	files["bad.js"] = "noop"
	f.resolver.mu.Unlock()
	require.NoError(t, s.Run(context.Background()))
	assert.True(t, s.Running())
}

func TestRun_SourceVanished(t *testing.T) {
	f := newFixture(t, map[string]string{"x.js": "noop"}, nil)
	s := f.load(t, "x.js")
	f.resolver.remove("x.js")

	err := s.Run(context.Background())
	assert.True(t, IsSourceUnavailable(err))
	assert.False(t, s.Running())
}

func TestRun_ScriptRuntimeError(t *testing.T) {
	bodies := map[string]body{
		"throw": func(context.Context, *fakeEngine) error { return errors.New("ReferenceError: foo is not defined") },
	}
	f := newFixture(t, map[string]string{"x.js": "throw"}, bodies)
	s := f.load(t, "x.js")

	err := s.Run(context.Background())
	assert.True(t, IsScriptRuntime(err))
	assert.False(t, s.Running())
}

func TestRun_FailureRollsBackSubscriptionsAndTasks(t *testing.T) {
	var mu sync.Mutex
	var log []string
	fired := 0
	fail := true
	partial := func(ctx context.Context, e *fakeEngine) error {
		if err := listen(ir.CategoryBlockTarget, "onBlock", &log, &mu)(ctx, e); err != nil {
			return err
		}
		cb := e.callback(func() error { fired++; return nil })
		if _, err := e.call(ctx, FuncRegisterDelayedTask, cb, ir.IRInt(1)); err != nil {
			return err
		}
		if fail {
			return errors.New("Error: boom")
		}
		return nil
	}
	f := newFixture(t, map[string]string{"x.js": "partial"}, map[string]body{"partial": partial})
	s := f.load(t, "x.js")
	ctx := context.Background()

	err := s.Run(ctx)
	require.Error(t, err)
	assert.True(t, IsScriptRuntime(err))
	assert.False(t, s.Running())

	assert.Empty(t, f.env.Registry.Subscribers(ir.CategoryBlockTarget))
	assert.Empty(t, s.Subscriptions())
	assert.Equal(t, 0, s.PendingTasks())
	assert.Equal(t, 0, f.engine(s).heldCallbacks())

	f.env.Registry.Dispatch(ctx, ir.Event{Category: ir.CategoryBlockTarget})
	f.env.Scheduler.Advance(ctx, 5)
	assert.Empty(t, log)
	assert.Equal(t, 0, fired)

	// The script stays live and a later run starts from a clean slate.
	_, live := f.env.Registry.Lookup(s.ID())
	assert.True(t, live)

	fail = false
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, s.PendingTasks())
	assert.Equal(t, []string{s.ID()}, f.env.Registry.Subscribers(ir.CategoryBlockTarget))

	f.env.Scheduler.Advance(ctx, 1)
	assert.Equal(t, 1, fired)
}

func TestRun_Discarded(t *testing.T) {
	f := newFixture(t, map[string]string{"x.js": "noop"}, nil)
	s := f.load(t, "x.js")
	s.Discard(context.Background())

	assert.True(t, IsDiscarded(s.Run(context.Background())))
}

func TestRegisterListener_DeliversAndIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	var log []string
	twice := func(ctx context.Context, e *fakeEngine) error {
		b := listen(ir.CategoryBlockTarget, "onBlock", &log, &mu)
		if err := b(ctx, e); err != nil {
			return err
		}
		return b(ctx, e)
	}
	f := newFixture(t, map[string]string{"x.js": "twice"}, map[string]body{"twice": twice})
	s := f.load(t, "x.js")
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{s.ID()}, f.env.Registry.Subscribers(ir.CategoryBlockTarget))
	assert.Equal(t, []Subscription{{Category: ir.CategoryBlockTarget, Function: "onBlock"}}, s.Subscriptions())

	f.env.Registry.Dispatch(context.Background(), ir.Event{Category: ir.CategoryBlockTarget})
	assert.Equal(t, []string{"x.js#1:onBlock"}, log)
}

func TestRegisterListener_ReplacesFunctionName(t *testing.T) {
	var mu sync.Mutex
	var log []string
	b := func(ctx context.Context, e *fakeEngine) error {
		if err := listen(ir.CategoryUserTarget, "first", &log, &mu)(ctx, e); err != nil {
			return err
		}
		return listen(ir.CategoryUserTarget, "second", &log, &mu)(ctx, e)
	}
	f := newFixture(t, map[string]string{"x.js": "b"}, map[string]body{"b": b})
	s := f.load(t, "x.js")
	require.NoError(t, s.Run(context.Background()))

	f.env.Registry.Dispatch(context.Background(), ir.Event{Category: ir.CategoryUserTarget})
	assert.Equal(t, []string{"x.js#1:second"}, log)
}

func TestRegisterListener_UnknownCategoryReturnsFalse(t *testing.T) {
	var got ir.IRValue
	b := func(ctx context.Context, e *fakeEngine) error {
		var err error
		got, err = e.call(ctx, FuncRegisterListener, ir.IRString("weather"), ir.IRString("onRain"))
		return err
	}
	f := newFixture(t, map[string]string{"x.js": "b"}, map[string]body{"b": b})
	s := f.load(t, "x.js")
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, ir.IRBool(false), got)
	assert.Empty(t, s.Subscriptions())
}

func TestRegisterListener_AcceptsEventTypeHandle(t *testing.T) {
	b := func(ctx context.Context, e *fakeEngine) error {
		handle, err := e.call(ctx, FuncResolveEventType, ir.IRString("entity-target"))
		if err != nil {
			return err
		}
		e.define("onEntity", func(ir.IRValue) error { return nil })
		_, err = e.call(ctx, FuncRegisterListener, handle, ir.IRString("onEntity"))
		return err
	}
	f := newFixture(t, map[string]string{"x.js": "b"}, map[string]body{"b": b})
	s := f.load(t, "x.js")
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{s.ID()}, f.env.Registry.Subscribers(ir.CategoryEntityTarget))
}

func TestCallListener_FailuresIsolatedAcrossScripts(t *testing.T) {
	var mu sync.Mutex
	var log []string
	throwing := func(ctx context.Context, e *fakeEngine) error {
		e.define("onBlock", func(ir.IRValue) error { return errors.New("TypeError") })
		_, err := e.call(ctx, FuncRegisterListener, ir.IRString(ir.CategoryBlockTarget), ir.IRString("onBlock"))
		return err
	}
	bodies := map[string]body{
		"a": throwing,
		"b": listen(ir.CategoryBlockTarget, "onBlock", &log, &mu),
	}
	f := newFixture(t, map[string]string{"a.js": "a", "b.js": "b"}, bodies)
	a := f.load(t, "a.js")
	b := f.load(t, "b.js")
	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, b.Run(context.Background()))

	fanout := f.env.Registry.Dispatch(context.Background(), ir.Event{Category: ir.CategoryBlockTarget})
	assert.Equal(t, []string{a.ID()}, fanout.Failed)
	assert.Equal(t, []string{b.ID()}, fanout.Delivered)
	assert.Equal(t, []string{"b.js#2:onBlock"}, log)
}

func TestCallListener_MissingFunction(t *testing.T) {
	b := func(ctx context.Context, e *fakeEngine) error {
		_, err := e.call(ctx, FuncRegisterListener, ir.IRString(ir.CategoryUserTarget), ir.IRString("neverDefined"))
		return err
	}
	f := newFixture(t, map[string]string{"x.js": "b"}, map[string]body{"b": b})
	s := f.load(t, "x.js")
	require.NoError(t, s.Run(context.Background()))

	err := s.CallListener(context.Background(), ir.CategoryUserTarget, ir.Event{Category: ir.CategoryUserTarget})
	assert.True(t, IsNoSuchFunction(err))

	assert.NoError(t, s.CallListener(context.Background(), ir.CategoryEntityTarget, ir.Event{}),
		"category without a callback is a no-op")
}

func TestDelayedTask_FiresAndIsCancelledByDiscard(t *testing.T) {
	fired := 0
	b := func(ctx context.Context, e *fakeEngine) error {
		cb := e.callback(func() error { fired++; return nil })
		if _, err := e.call(ctx, FuncRegisterDelayedTask, cb, ir.IRInt(2)); err != nil {
			return err
		}
		late := e.callback(func() error { fired += 100; return nil })
		_, err := e.call(ctx, FuncRegisterDelayedTask, late, ir.IRInt(10))
		return err
	}
	f := newFixture(t, map[string]string{"x.js": "b"}, map[string]body{"b": b})
	s := f.load(t, "x.js")
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, s.PendingTasks())

	f.env.Scheduler.Advance(context.Background(), 2)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, s.PendingTasks())

	s.Discard(context.Background())
	assert.Equal(t, 0, s.PendingTasks())

	f.env.Scheduler.Advance(context.Background(), 20)
	assert.Equal(t, 1, fired)
}

func TestDelayedTask_RejectsNonCallback(t *testing.T) {
	var callErr error
	b := func(ctx context.Context, e *fakeEngine) error {
		_, callErr = e.call(ctx, FuncRegisterDelayedTask, ir.IRString("nope"), ir.IRInt(1))
		return nil
	}
	f := newFixture(t, map[string]string{"x.js": "b"}, map[string]body{"b": b})
	s := f.load(t, "x.js")
	require.NoError(t, s.Run(context.Background()))
	assert.Error(t, callErr)
}

func TestDiscard_RestoresBothSides(t *testing.T) {
	var mu sync.Mutex
	var log []string
	b := func(ctx context.Context, e *fakeEngine) error {
		for _, c := range ir.DefaultCategories() {
			if err := listen(c, "on", &log, &mu)(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}
	f := newFixture(t, map[string]string{"x.js": "b"}, map[string]body{"b": b})
	s := f.load(t, "x.js")
	ctx := context.Background()
	require.NoError(t, s.Run(ctx))

	s.Discard(ctx)
	s.Discard(ctx) // idempotent

	assert.True(t, s.Discarded())
	assert.Empty(t, s.Subscriptions())
	for _, c := range ir.DefaultCategories() {
		assert.Empty(t, f.env.Registry.Subscribers(c))
		f.env.Registry.Dispatch(ctx, ir.Event{Category: c})
	}
	_, live := f.env.Registry.Lookup(s.ID())
	assert.False(t, live)
	assert.Empty(t, log)
	assert.True(t, f.engine(s).isClosed())
}

func TestDiscard_BindingsRejectedAfterwards(t *testing.T) {
	var e *fakeEngine
	b := func(_ context.Context, eng *fakeEngine) error {
		e = eng
		return nil
	}
	f := newFixture(t, map[string]string{"x.js": "b"}, map[string]body{"b": b})
	s := f.load(t, "x.js")
	ctx := context.Background()
	require.NoError(t, s.Run(ctx))
	s.Discard(ctx)

	_, err := e.call(ctx, FuncRegisterListener, ir.IRString(ir.CategoryUserTarget), ir.IRString("on"))
	assert.True(t, IsDiscarded(err))
	_, err = e.call(ctx, FuncRegisterDelayedTask, ir.IRCallback{Ref: 1}, ir.IRInt(1))
	assert.True(t, IsDiscarded(err))
	assert.Empty(t, f.env.Registry.Subscribers(ir.CategoryUserTarget))
}

func TestCallListener_AfterDiscardIsNoop(t *testing.T) {
	var mu sync.Mutex
	var log []string
	f := newFixture(t, map[string]string{"x.js": "b"},
		map[string]body{"b": listen(ir.CategoryUserTarget, "on", &log, &mu)})
	s := f.load(t, "x.js")
	ctx := context.Background()
	require.NoError(t, s.Run(ctx))
	s.Discard(ctx)

	// A fan-out that resolved the script before discard finished.
	assert.NoError(t, s.CallListener(ctx, ir.CategoryUserTarget, ir.Event{Category: ir.CategoryUserTarget}))
	assert.Empty(t, log)
}

func TestDiscard_ConcurrentWithDispatch(t *testing.T) {
	var mu sync.Mutex
	var log []string
	f := newFixture(t, map[string]string{"x.js": "b"},
		map[string]body{"b": listen(ir.CategoryEntityTarget, "on", &log, &mu)})
	ctx := context.Background()

	var scripts []*Script
	for i := 0; i < 10; i++ {
		s := f.load(t, "x.js")
		require.NoError(t, s.Run(ctx))
		scripts = append(scripts, s)
	}

	var wg sync.WaitGroup
	for _, s := range scripts {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Discard(ctx)
		}()
		go func() {
			defer wg.Done()
			f.env.Registry.Dispatch(ctx, ir.Event{Category: ir.CategoryEntityTarget})
		}()
	}
	wg.Wait()

	assert.Empty(t, f.env.Registry.Subscribers(ir.CategoryEntityTarget))
	assert.Empty(t, f.env.Registry.Live())

	mu.Lock()
	before := len(log)
	mu.Unlock()
	f.env.Registry.Dispatch(ctx, ir.Event{Category: ir.CategoryEntityTarget})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, before, len(log), "no delivery after every discard returned")
}
