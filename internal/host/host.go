// Package host wires the registry, scheduler, script engine, loader and
// journal into one script host and exposes the console command contract.
package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/roach88/scripthost/internal/config"
	"github.com/roach88/scripthost/internal/dispatch"
	"github.com/roach88/scripthost/internal/engine"
	"github.com/roach88/scripthost/internal/ir"
	"github.com/roach88/scripthost/internal/journal"
	"github.com/roach88/scripthost/internal/jsvm"
	"github.com/roach88/scripthost/internal/loader"
	"github.com/roach88/scripthost/internal/script"
	"github.com/roach88/scripthost/internal/session"
)

// Output is one line a script wrote to the console.
type Output struct {
	ScriptID string `json:"script"`
	Level    string `json:"level"`
	Line     string `json:"line"`
}

// Host owns every registry for one process. Commands are serialized; Fire
// and Advance may run concurrently with them.
type Host struct {
	cfg        *config.Config
	clock      *engine.TickClock
	registry   *dispatch.Registry
	scheduler  *engine.Scheduler
	resolver   *loader.Resolver
	selections *session.Selections
	journal    *journal.Journal
	env        script.Env
	logger     *slog.Logger

	// mu serializes commands so select/run/discard for one actor never interleave.
	mu sync.Mutex

	outMu   sync.Mutex
	outputs []func(Output)
}

type options struct {
	logger    *slog.Logger
	instances script.InstanceSource
	fanoutIDs engine.FanoutIDGenerator
	assets    fs.FS
	assetsSet bool
	newEngine script.EngineFactory
	recorders []ir.Recorder
	outputs   []func(Output)
	runID     string
}

// Option configures a Host.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithInstances sets the source of script instance numbers.
func WithInstances(src script.InstanceSource) Option {
	return func(o *options) {
		o.instances = src
	}
}

// WithFanoutIDs sets the fan-out id generator.
func WithFanoutIDs(gen engine.FanoutIDGenerator) Option {
	return func(o *options) {
		o.fanoutIDs = gen
	}
}

// WithAssets replaces the bundled fallback scripts. nil disables fallback.
func WithAssets(assets fs.FS) Option {
	return func(o *options) {
		o.assets = assets
		o.assetsSet = true
	}
}

// WithEngineFactory replaces the JavaScript engine.
func WithEngineFactory(f script.EngineFactory) Option {
	return func(o *options) {
		o.newEngine = f
	}
}

// WithRecorder receives every lifecycle record in addition to the journal.
func WithRecorder(rec ir.Recorder) Option {
	return func(o *options) {
		o.recorders = append(o.recorders, rec)
	}
}

// WithOutput receives every line scripts write to the console.
func WithOutput(fn func(Output)) Option {
	return func(o *options) {
		o.outputs = append(o.outputs, fn)
	}
}

// WithRunID fixes the journal run id.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// New builds a Host from cfg. The caller must Close it.
func New(cfg *config.Config, opts ...Option) (*Host, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Host{
		cfg:     cfg,
		clock:   engine.NewTickClock(),
		logger:  o.logger,
		outputs: o.outputs,
	}

	jopts := []journal.Option{journal.WithTickSource(h.clock), journal.WithLogger(o.logger)}
	if o.runID != "" {
		jopts = append(jopts, journal.WithRunID(o.runID))
	}
	j, err := journal.Open(cfg.Journal, jopts...)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	h.journal = j

	recorder := teeRecorder(append([]ir.Recorder{j}, o.recorders...))

	ropts := []dispatch.Option{
		dispatch.WithLogger(o.logger),
		dispatch.WithRecorder(recorder),
	}
	if len(cfg.Worlds) > 0 {
		ropts = append(ropts, dispatch.WithLocationPolicy(dispatch.WorldPolicy{Worlds: cfg.Worlds}))
	}
	if o.fanoutIDs != nil {
		ropts = append(ropts, dispatch.WithFanoutIDs(o.fanoutIDs))
	}
	h.registry = dispatch.NewRegistry(ropts...)
	for _, category := range cfg.Categories {
		if err := h.registry.RegisterDispatcher(category); err != nil {
			j.Close()
			return nil, err
		}
	}

	h.scheduler = engine.NewScheduler(h.clock,
		engine.WithSchedulerLogger(o.logger),
		engine.WithSchedulerRecorder(recorder),
	)

	lopts := []loader.Option{loader.WithExtension(cfg.DefaultExtension), loader.WithLogger(o.logger)}
	if o.assetsSet {
		lopts = append(lopts, loader.WithAssets(o.assets))
	}
	h.resolver = loader.New(cfg.ScriptDir, lopts...)

	h.selections = session.NewSelections(session.LivenessFunc(func(id string) bool {
		_, ok := h.registry.Lookup(id)
		return ok
	}))

	newEngine := o.newEngine
	if newEngine == nil {
		newEngine = jsvm.Factory(
			jsvm.WithLogger(o.logger),
			jsvm.WithInvokeTimeout(cfg.InvokeTimeout),
			jsvm.WithOutput(func(id, level, line string) {
				h.emit(recorder, Output{ScriptID: id, Level: level, Line: line})
			}),
		)
	}

	h.env = script.Env{
		Registry:  h.registry,
		Scheduler: h.scheduler,
		NewEngine: newEngine,
		Instances: o.instances,
		Namespace: cfg.DefaultNamespace,
		Logger:    o.logger,
		Recorder:  recorder,
	}
	return h, nil
}

// Config returns the configuration the host was built from.
func (h *Host) Config() *config.Config { return h.cfg }

// Registry returns the dispatch registry.
func (h *Host) Registry() *dispatch.Registry { return h.registry }

// Clock returns the host tick clock.
func (h *Host) Clock() *engine.TickClock { return h.clock }

// Journal returns the lifecycle journal.
func (h *Host) Journal() *journal.Journal { return h.journal }

// OnOutput adds a sink for script console output.
func (h *Host) OnOutput(fn func(Output)) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	h.outputs = append(h.outputs, fn)
}

func (h *Host) emit(rec ir.Recorder, out Output) {
	rec.Record(context.Background(), ir.Record{
		Kind:     ir.RecordOutput,
		ScriptID: out.ScriptID,
		Detail:   ir.IRObject{"level": ir.IRString(out.Level), "line": ir.IRString(out.Line)},
	})
	h.outMu.Lock()
	sinks := append([]func(Output){}, h.outputs...)
	h.outMu.Unlock()
	for _, fn := range sinks {
		fn(out)
	}
}

// Load resolves and loads a script without selecting or running it.
func (h *Host) Load(ctx context.Context, name string, allowFallback bool) (*script.Script, error) {
	return script.Load(ctx, &h.env, h.resolver, name, allowFallback)
}

// Script returns the live script with the given id.
func (h *Host) Script(id string) (*script.Script, bool) {
	l, ok := h.registry.Lookup(id)
	if !ok {
		return nil, false
	}
	s, ok := l.(*script.Script)
	return s, ok
}

// Selection returns the actor's live selection.
func (h *Host) Selection(p session.Principal) (*script.Script, bool) {
	actor, err := session.ActorID(p)
	if err != nil {
		return nil, false
	}
	id, ok := h.selections.Current(actor)
	if !ok {
		return nil, false
	}
	return h.Script(id)
}

// ScriptInfo summarizes one live script.
type ScriptInfo struct {
	ID            string                `json:"id"`
	File          string                `json:"file"`
	Running       bool                  `json:"running"`
	Subscriptions []script.Subscription `json:"subscriptions"`
	PendingTasks  int                   `json:"pending_tasks"`
}

// Scripts lists live scripts ordered by id.
func (h *Host) Scripts() []ScriptInfo {
	live := h.registry.Live()
	out := make([]ScriptInfo, 0, len(live))
	for _, l := range live {
		s, ok := l.(*script.Script)
		if !ok {
			continue
		}
		out = append(out, ScriptInfo{
			ID:            s.ID(),
			File:          s.Filename(),
			Running:       s.Running(),
			Subscriptions: s.Subscriptions(),
			PendingTasks:  s.PendingTasks(),
		})
	}
	return out
}

// Fire fans ev out to its category's subscribers.
func (h *Host) Fire(ctx context.Context, ev ir.Event) dispatch.Fanout {
	return h.registry.Dispatch(ctx, ev)
}

// Advance moves the tick clock forward and fires due tasks.
func (h *Host) Advance(ctx context.Context, ticks int64) int {
	return h.scheduler.Advance(ctx, ticks)
}

// HandleFire implements engine.Handler.
func (h *Host) HandleFire(ctx context.Context, ev ir.Event) {
	h.Fire(ctx, ev)
}

// HandleTick implements engine.Handler.
func (h *Host) HandleTick(ctx context.Context, ticks int64) {
	h.Advance(ctx, ticks)
}

// Check compiles a script without running it.
func (h *Host) Check(name string) error {
	src, err := h.resolver.Resolve(name, false)
	if err != nil {
		return script.NewSourceUnavailable(name, err)
	}
	rc, err := src.Open()
	if err != nil {
		return script.NewSourceUnavailable(src.Filename(), err)
	}
	defer rc.Close()

	eng, err := h.env.NewEngine(src.Filename())
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close()

	_, err = eng.Compile(src.Filename(), rc)
	return err
}

// Close discards every live script and closes the journal.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, l := range h.registry.Live() {
		if s, ok := l.(*script.Script); ok {
			s.Discard(ctx)
		}
	}
	h.scheduler.Close()
	return h.journal.Close()
}

func teeRecorder(recs []ir.Recorder) ir.Recorder {
	if len(recs) == 1 {
		return recs[0]
	}
	return ir.RecorderFunc(func(ctx context.Context, rec ir.Record) {
		for _, r := range recs {
			r.Record(ctx, rec)
		}
	})
}

// errorResult renders a Run failure for the actor.
func errorResult(s *script.Script, err error) Result {
	switch {
	case script.IsSourceUnavailable(err):
		return failure(msgMissing, s.Filename())
	case script.IsAlreadyRunning(err):
		return empty(msgAlreadyRunning, s.Filename())
	case script.IsDiscarded(err):
		return empty(msgNotActive)
	case script.IsCompileError(err), script.IsScriptRuntime(err):
		if line := script.LineOf(err); line > 0 {
			return failure(msgErrorAtLine, s.Filename(), line)
		}
		var se *script.Error
		if errors.As(err, &se) {
			return failure(msgError, s.Filename(), se.Message)
		}
	}
	return failure(msgError, s.Filename(), err.Error())
}
