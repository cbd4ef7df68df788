package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/roach88/scripthost/internal/dispatch"
	"github.com/roach88/scripthost/internal/engine"
	"github.com/roach88/scripthost/internal/ir"
)

// DefaultNamespace is the namespace resolveEventType assumes when a name
// has no "namespace:" prefix.
const DefaultNamespace = "host"

// instanceLimit bounds instance numbers to [0, instanceLimit).
const instanceLimit = 1_000_000

// maxIDAttempts bounds retries when a drawn id is already live.
const maxIDAttempts = 64

// InstanceSource draws the instance number appended to a script id.
type InstanceSource interface {
	Next() int
}

type randomInstances struct{}

func (randomInstances) Next() int { return rand.IntN(instanceLimit) }

// Env is everything a Script needs from the host. One Env is shared by
// every script the host loads.
type Env struct {
	Registry  *dispatch.Registry
	Scheduler *engine.Scheduler
	NewEngine EngineFactory

	// Instances defaults to uniform random numbers in [0, 1e6).
	Instances InstanceSource
	// Namespace defaults to DefaultNamespace.
	Namespace string

	Logger   *slog.Logger
	Recorder ir.Recorder
}

func (env *Env) withDefaults() Env {
	out := *env
	if out.Instances == nil {
		out.Instances = randomInstances{}
	}
	if out.Namespace == "" {
		out.Namespace = DefaultNamespace
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Recorder == nil {
		out.Recorder = ir.NopRecorder{}
	}
	return out
}

type state int

const (
	stateNotRun state = iota
	stateRunning
	stateDiscarded
)

// Subscription is one category → callback entry of a script.
type Subscription struct {
	Category string `json:"category"`
	Function string `json:"function"`
}

// Script is one loaded script instance.
//
// INVARIANTS:
//   - category is in subs iff the registry's dispatcher for category holds id
//   - once discarded, the script is not live in the registry, holds no
//     subscriptions and owns no pending tasks
//   - after a failed Run, a script that was never running holds no
//     subscriptions and owns no pending tasks
//   - mu is never held while script code runs
type Script struct {
	id       string
	filename string
	source   Source
	engine   Engine
	env      Env

	// runMu serializes Run so two concurrent runs cannot both execute the body.
	runMu sync.Mutex

	mu    sync.Mutex
	state state
	subs  map[string]string
	order []string

	// task id -> callback of each task still pending
	taskCallbacks map[uint64]ir.IRCallback
}

// Load resolves name, creates an Engine with the host bindings installed and
// registers the script as live. The script is not run.
//
// Fails with ErrCodeSourceUnavailable when the resolver cannot find the
// source at any fallback.
func Load(ctx context.Context, env *Env, resolver Resolver, name string, allowFallback bool) (*Script, error) {
	e := env.withDefaults()

	src, err := resolver.Resolve(name, allowFallback)
	if err != nil {
		return nil, NewSourceUnavailable(name, err)
	}

	s := &Script{
		filename: src.Filename(),
		source:   src,
		env:      e,
		subs:     make(map[string]string),

		taskCallbacks: make(map[uint64]ir.IRCallback),
	}

	if err := s.register(); err != nil {
		return nil, err
	}

	eng, err := e.NewEngine(s.id)
	if err != nil {
		e.Registry.Unregister(s.id)
		return nil, fmt.Errorf("create engine for %s: %w", s.id, err)
	}
	s.engine = eng

	if err := s.bind(); err != nil {
		e.Registry.Unregister(s.id)
		_ = eng.Close()
		return nil, fmt.Errorf("bind host functions for %s: %w", s.id, err)
	}

	e.Logger.Info("script loaded", "script", s.id, "file", s.filename)
	e.Recorder.Record(ctx, ir.Record{
		Kind:     ir.RecordScriptLoaded,
		ScriptID: s.id,
		Detail:   ir.IRObject{"file": ir.IRString(s.filename)},
	})
	return s, nil
}

// register draws instance numbers until the id is free in the registry.
func (s *Script) register() error {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		n := s.env.Instances.Next()
		s.id = fmt.Sprintf("%s#%d", s.filename, n)
		err := s.env.Registry.Register(s)
		if err == nil {
			return nil
		}
		if !errors.Is(err, dispatch.ErrDuplicateScript) {
			return err
		}
	}
	return fmt.Errorf("allocate id for %s: %d attempts collided", s.filename, maxIDAttempts)
}

// ID returns the process-unique script id.
func (s *Script) ID() string { return s.id }

// Filename returns the resolved source filename.
func (s *Script) Filename() string { return s.filename }

// Running reports whether Run has succeeded.
func (s *Script) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Discarded reports whether Discard has been called.
func (s *Script) Discarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateDiscarded
}

// Subscriptions returns the script's subscriptions in the order they were
// first made.
func (s *Script) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Subscription, 0, len(s.order))
	for _, category := range s.order {
		out = append(out, Subscription{Category: category, Function: s.subs[category]})
	}
	return out
}

// PendingTasks returns the number of delayed tasks still waiting.
func (s *Script) PendingTasks() int {
	return s.env.Scheduler.Pending(s.id)
}

// Run reads the source again, compiles it and executes the body once.
// On failure the script stays not run and may be run again: subscriptions
// and tasks the body made before failing are rolled back.
func (s *Script) Run(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	switch st {
	case stateDiscarded:
		return NewDiscardedError(s.id)
	case stateRunning:
		return &Error{Code: ErrCodeAlreadyRunning, Message: "script is already running", Script: s.id}
	}

	err := s.execute(ctx)
	if err != nil {
		s.rollback()
		s.env.Logger.Warn("script run failed", "script", s.id, "file", s.filename, "error", err)
		s.env.Recorder.Record(ctx, ir.Record{
			Kind:     ir.RecordRunFailed,
			ScriptID: s.id,
			Detail: ir.IRObject{
				"code":  ir.IRString(CodeOf(err)),
				"line":  ir.IRInt(LineOf(err)),
				"error": ir.IRString(err.Error()),
			},
		})
		return err
	}

	s.mu.Lock()
	if s.state == stateDiscarded {
		s.mu.Unlock()
		return NewDiscardedError(s.id)
	}
	s.state = stateRunning
	s.mu.Unlock()

	s.env.Logger.Info("script running", "script", s.id)
	s.env.Recorder.Record(ctx, ir.Record{Kind: ir.RecordScriptRun, ScriptID: s.id})
	return nil
}

// rollback undoes the side effects of a failed body.
func (s *Script) rollback() {
	s.mu.Lock()
	if s.state != stateNotRun {
		s.mu.Unlock()
		return
	}
	removed := s.env.Registry.UnsubscribeAll(s.id)
	cancelled := s.env.Scheduler.CancelAll(s.id)
	clear(s.subs)
	s.order = nil
	callbacks := s.takeTaskCallbacks()
	s.mu.Unlock()

	for _, cb := range callbacks {
		s.engine.Release(cb)
	}
	if len(removed) > 0 || cancelled > 0 {
		s.env.Logger.Debug("rolled back failed run",
			"script", s.id,
			"unsubscribed", len(removed),
			"cancelled_tasks", cancelled,
		)
	}
}

// takeTaskCallbacks empties the pending callback table. Caller holds s.mu.
func (s *Script) takeTaskCallbacks() []ir.IRCallback {
	out := make([]ir.IRCallback, 0, len(s.taskCallbacks))
	for _, cb := range s.taskCallbacks {
		out = append(out, cb)
	}
	clear(s.taskCallbacks)
	return out
}

func (s *Script) execute(ctx context.Context) error {
	rc, err := s.source.Open()
	if err != nil {
		return NewSourceUnavailable(s.filename, err)
	}
	defer rc.Close()

	prog, err := s.engine.Compile(s.filename, rc)
	if err != nil {
		return err
	}
	return s.engine.Run(ctx, prog)
}

// CallListener invokes the callback registered for category with the event.
// A category without a callback, or a discarded script, is a no-op.
func (s *Script) CallListener(ctx context.Context, category string, ev ir.Event) error {
	s.mu.Lock()
	fn, ok := s.subs[category]
	discarded := s.state == stateDiscarded
	s.mu.Unlock()

	if discarded || !ok {
		return nil
	}

	_, err := s.engine.Invoke(ctx, fn, ev.Value())
	if IsDiscarded(err) {
		// Discarded between the lookup and the call.
		return nil
	}
	return err
}

// Discard removes the script from the registry, drops every subscription,
// cancels every pending task and closes the engine. Safe to call more than
// once and while a fan-out naming this script is in flight.
func (s *Script) Discard(ctx context.Context) {
	s.mu.Lock()
	if s.state == stateDiscarded {
		s.mu.Unlock()
		return
	}
	s.state = stateDiscarded

	s.env.Registry.Unregister(s.id)
	removed := s.env.Registry.UnsubscribeAll(s.id)
	cancelled := s.env.Scheduler.CancelAll(s.id)
	clear(s.subs)
	s.order = nil
	clear(s.taskCallbacks)
	s.mu.Unlock()

	if err := s.engine.Close(); err != nil {
		s.env.Logger.Warn("engine close failed", "script", s.id, "error", err)
	}

	s.env.Logger.Info("script discarded",
		"script", s.id,
		"unsubscribed", len(removed),
		"cancelled_tasks", cancelled,
	)
	categories := make(ir.IRArray, len(removed))
	for i, c := range removed {
		categories[i] = ir.IRString(c)
	}
	s.env.Recorder.Record(ctx, ir.Record{
		Kind:     ir.RecordScriptDiscarded,
		ScriptID: s.id,
		Detail: ir.IRObject{
			"unsubscribed":    categories,
			"cancelled_tasks": ir.IRInt(cancelled),
		},
	})
}

// subscribe records category → fn on both sides. Returns false when the
// registry rejected the category.
func (s *Script) subscribe(ctx context.Context, category, fn string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateDiscarded {
		return false, NewDiscardedError(s.id)
	}

	if err := s.env.Registry.Subscribe(ctx, s.id, category); err != nil {
		if errors.Is(err, dispatch.ErrUnknownCategory) {
			return false, nil
		}
		return false, err
	}
	if _, ok := s.subs[category]; !ok {
		s.order = append(s.order, category)
	}
	s.subs[category] = fn
	return true, nil
}

// schedule registers a delayed call of cb owned by this script. The task
// releases cb when it fires; rollback releases it if cancelled first.
func (s *Script) schedule(cb ir.IRCallback, delay int64) (*engine.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateDiscarded {
		return nil, NewDiscardedError(s.id)
	}

	var id uint64
	task := s.env.Scheduler.ScheduleDelayed(s.id, func(ctx context.Context) error {
		defer s.engine.Release(cb)
		s.mu.Lock()
		delete(s.taskCallbacks, id)
		discarded := s.state == stateDiscarded
		s.mu.Unlock()
		if discarded {
			return nil
		}
		_, err := s.engine.Call(ctx, cb)
		if IsDiscarded(err) {
			return nil
		}
		return err
	}, delay)
	id = task.ID()
	if !task.Cancelled() {
		s.taskCallbacks[id] = cb
	}
	return task, nil
}

