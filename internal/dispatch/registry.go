package dispatch

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/scripthost/internal/engine"
	"github.com/roach88/scripthost/internal/ir"
)

// Listener is a live script as seen by the registry.
type Listener interface {
	// ID returns the process-unique script id, e.g. "greeter.js#482913".
	ID() string
	// Filename returns the source file the script was loaded from.
	Filename() string
	// CallListener invokes the callback the script registered for category.
	// A script with no callback for category returns nil.
	CallListener(ctx context.Context, category string, ev ir.Event) error
}

// Dispatcher holds the scripts subscribed to one category.
//
// The subscriber slice is copy-on-write: every mutation installs a new
// slice, so a snapshot taken by Dispatch never observes a partial update.
type Dispatcher struct {
	category    string
	subscribers []string
	index       map[string]struct{}
}

// Category returns the dispatcher's category id.
func (d *Dispatcher) Category() string {
	return d.category
}

func (d *Dispatcher) add(scriptID string) bool {
	if _, ok := d.index[scriptID]; ok {
		return false
	}
	next := make([]string, len(d.subscribers), len(d.subscribers)+1)
	copy(next, d.subscribers)
	d.subscribers = append(next, scriptID)
	d.index[scriptID] = struct{}{}
	return true
}

func (d *Dispatcher) remove(scriptID string) bool {
	if _, ok := d.index[scriptID]; !ok {
		return false
	}
	delete(d.index, scriptID)
	d.subscribers = slices.DeleteFunc(slices.Clone(d.subscribers), func(id string) bool {
		return id == scriptID
	})
	return true
}

// Fanout summarises one Dispatch call.
type Fanout struct {
	ID        string   `json:"id"`
	Category  string   `json:"category"`
	Delivered []string `json:"delivered,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	Filtered  []string `json:"filtered,omitempty"`
}

// Registry maps categories to dispatchers and script ids to live listeners.
//
// INVARIANTS:
//   - dispatchers is only written by RegisterDispatcher
//   - every id in a dispatcher's subscriber set was live when it subscribed
//   - r.mu is never held while a listener runs
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[string]*Dispatcher
	categories  []string
	scripts     map[string]Listener

	logger   *slog.Logger
	recorder ir.Recorder
	policy   LocationPolicy
	ids      engine.FanoutIDGenerator
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRecorder sets the journal recorder.
func WithRecorder(rec ir.Recorder) Option {
	return func(r *Registry) {
		r.recorder = rec
	}
}

// WithLocationPolicy sets the delivery policy. The default is DeliverAll.
func WithLocationPolicy(p LocationPolicy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithFanoutIDs sets the fan-out id generator. The default issues UUIDv7s.
func WithFanoutIDs(gen engine.FanoutIDGenerator) Option {
	return func(r *Registry) {
		r.ids = gen
	}
}

// NewRegistry creates an empty registry. Dispatchers are added with
// RegisterDispatcher.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		dispatchers: make(map[string]*Dispatcher),
		scripts:     make(map[string]Listener),
		logger:      slog.Default(),
		recorder:    ir.NopRecorder{},
		policy:      DeliverAll{},
		ids:         engine.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterDispatcher creates the dispatcher for category.
func (r *Registry) RegisterDispatcher(category string) error {
	if category == "" {
		return fmt.Errorf("register dispatcher: empty category")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dispatchers[category]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCategory, category)
	}
	r.dispatchers[category] = &Dispatcher{
		category: category,
		index:    make(map[string]struct{}),
	}
	r.categories = append(r.categories, category)
	return nil
}

// Categories returns the registered categories in registration order.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.categories)
}

// HasCategory reports whether category has a dispatcher.
func (r *Registry) HasCategory(category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dispatchers[category]
	return ok
}

// Register makes l resolvable by its id.
func (r *Registry) Register(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.scripts[l.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateScript, l.ID())
	}
	r.scripts[l.ID()] = l
	return nil
}

// Unregister removes scriptID from the live table. Dispatches that start
// afterwards skip it. No-op if absent.
func (r *Registry) Unregister(scriptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scripts, scriptID)
}

// Lookup resolves scriptID to a live listener.
func (r *Registry) Lookup(scriptID string) (Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.scripts[scriptID]
	return l, ok
}

// Live returns every live listener ordered by id.
func (r *Registry) Live() []Listener {
	r.mu.RLock()
	out := make([]Listener, 0, len(r.scripts))
	for _, l := range r.scripts {
		out = append(out, l)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Listener) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return out
}

// Subscribe adds scriptID to category's dispatcher. Subscribing twice is a
// no-op. An unknown category is logged, journaled and returned as
// ErrUnknownCategory; the subscription is dropped.
func (r *Registry) Subscribe(ctx context.Context, scriptID, category string) error {
	r.mu.Lock()
	d, known := r.dispatchers[category]
	_, live := r.scripts[scriptID]
	added := false
	if known && live {
		added = d.add(scriptID)
	}
	r.mu.Unlock()

	if !known {
		r.logger.Error("subscription rejected: no dispatcher for category",
			"script", scriptID,
			"category", category,
		)
		r.recorder.Record(ctx, ir.Record{
			Kind:     ir.RecordSubscribeRejected,
			ScriptID: scriptID,
			Category: category,
		})
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if !live {
		return fmt.Errorf("subscribe %s: %w", category, ErrUnknownScript)
	}
	if added {
		r.logger.Debug("subscribed", "script", scriptID, "category", category)
		r.recorder.Record(ctx, ir.Record{
			Kind:     ir.RecordSubscribed,
			ScriptID: scriptID,
			Category: category,
		})
	}
	return nil
}

// UnsubscribeAll removes scriptID from every dispatcher and returns the
// categories it was removed from.
func (r *Registry) UnsubscribeAll(scriptID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, category := range r.categories {
		if r.dispatchers[category].remove(scriptID) {
			removed = append(removed, category)
		}
	}
	return removed
}

// Subscribers returns category's subscribers in subscription order.
func (r *Registry) Subscribers(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.dispatchers[category]
	if !ok {
		return nil
	}
	return slices.Clone(d.subscribers)
}

// Dispatch delivers ev to every script subscribed to ev.Category, in
// subscription order. It never fails as a whole: listener errors and panics
// are logged and journaled per script, and delivery continues.
func (r *Registry) Dispatch(ctx context.Context, ev ir.Event) Fanout {
	r.mu.RLock()
	d, ok := r.dispatchers[ev.Category]
	var snapshot []string
	if ok {
		snapshot = d.subscribers
	}
	r.mu.RUnlock()

	fanout := Fanout{Category: ev.Category}
	if !ok {
		r.logger.Warn("dropping event for unknown category", "category", ev.Category)
		return fanout
	}
	if len(snapshot) == 0 {
		return fanout
	}

	fanout.ID = r.ids.Generate()
	for _, scriptID := range snapshot {
		l, live := r.Lookup(scriptID)
		if !live {
			// Discarded after the snapshot was taken.
			fanout.Skipped = append(fanout.Skipped, scriptID)
			continue
		}
		if !r.policy.Allow(l, ev) {
			fanout.Filtered = append(fanout.Filtered, scriptID)
			continue
		}

		if err := safeCall(ctx, l, ev); err != nil {
			r.logger.Error("listener failed",
				"script", scriptID,
				"file", l.Filename(),
				"category", ev.Category,
				"fanout", fanout.ID,
				"error", err,
			)
			r.recorder.Record(ctx, ir.Record{
				Kind:     ir.RecordListenerFailed,
				ScriptID: scriptID,
				Category: ev.Category,
				Fanout:   fanout.ID,
				Detail: ir.IRObject{
					"file":  ir.IRString(l.Filename()),
					"error": ir.IRString(err.Error()),
				},
			})
			fanout.Failed = append(fanout.Failed, scriptID)
			continue
		}
		fanout.Delivered = append(fanout.Delivered, scriptID)
	}

	r.recorder.Record(ctx, ir.Record{
		Kind:     ir.RecordFanout,
		Category: ev.Category,
		Fanout:   fanout.ID,
		Detail: ir.IRObject{
			"delivered": ir.IRInt(len(fanout.Delivered)),
			"failed":    ir.IRInt(len(fanout.Failed)),
			"skipped":   ir.IRInt(len(fanout.Skipped) + len(fanout.Filtered)),
		},
	})
	return fanout
}

func safeCall(ctx context.Context, l Listener, ev ir.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("listener panicked: %v", rec)
		}
	}()
	return l.CallListener(ctx, ev.Category, ev)
}
