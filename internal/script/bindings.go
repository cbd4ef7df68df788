package script

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/roach88/scripthost/internal/ir"
)

// Names of the host functions and constants every script sees.
const (
	FuncRegisterListener    = "registerListener"
	FuncRegisterDelayedTask = "registerDelayedTask"
	FuncResolveEventType    = "resolveEventType"
	FuncGetEvent            = "getEvent"
	FuncConvertEvent        = "convertEvent"
)

// eventConstants binds the built-in categories to script globals.
var eventConstants = map[string]string{
	"TargetEntityEvent":     ir.CategoryEntityTarget,
	"TargetBlockEvent":      ir.CategoryBlockTarget,
	"TargetTileEntityEvent": ir.CategoryTileEntityTarget,
	"TargetUserEvent":       ir.CategoryUserTarget,
}

// keyPart matches one half of a namespaced event type name.
var keyPart = regexp.MustCompile(`^[a-z0-9_.\-/]+$`)

func (s *Script) bind() error {
	funcs := map[string]HostFunc{
		FuncRegisterListener:    s.transient(s.bindRegisterListener),
		FuncRegisterDelayedTask: s.bindRegisterDelayedTask,
		FuncResolveEventType:    s.transient(s.bindResolveEventType),
		FuncGetEvent:            s.transient(s.bindResolveEventType),
		FuncConvertEvent:        s.transient(s.bindConvertEvent),
	}
	for name, fn := range funcs {
		if err := s.engine.Bind(name, fn); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	for name, category := range eventConstants {
		if err := s.engine.Define(name, ir.IRString(category)); err != nil {
			return fmt.Errorf("define %s: %w", name, err)
		}
	}
	return nil
}

// transient wraps a host function that keeps no callback handles: every
// callback among its arguments is released once it returns, except those
// handed back to the script in the result.
func (s *Script) transient(fn HostFunc) HostFunc {
	return func(ctx context.Context, args []ir.IRValue) (ir.IRValue, error) {
		res, err := fn(ctx, args)
		keep := map[uint64]bool{}
		if err == nil {
			for _, cb := range callbacksIn(res) {
				keep[cb.Ref] = true
			}
		}
		s.releaseCallbacks(args, keep)
		return res, err
	}
}

// releaseCallbacks releases every callback in args not named in keep.
func (s *Script) releaseCallbacks(args []ir.IRValue, keep map[uint64]bool) {
	for _, arg := range args {
		for _, cb := range callbacksIn(arg) {
			if !keep[cb.Ref] {
				s.engine.Release(cb)
			}
		}
	}
}

// callbacksIn collects the callback handles nested anywhere in v.
func callbacksIn(v ir.IRValue) []ir.IRCallback {
	switch val := v.(type) {
	case ir.IRCallback:
		return []ir.IRCallback{val}
	case ir.IRArray:
		var out []ir.IRCallback
		for _, elem := range val {
			out = append(out, callbacksIn(elem)...)
		}
		return out
	case ir.IRObject:
		var out []ir.IRCallback
		for _, elem := range val {
			out = append(out, callbacksIn(elem)...)
		}
		return out
	}
	return nil
}

// registerListener(category, functionName) -> bool
//
// category is a category id or a handle from resolveEventType. Returns
// false when no dispatcher exists for the category.
func (s *Script) bindRegisterListener(ctx context.Context, args []ir.IRValue) (ir.IRValue, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%s expects (category, functionName)", FuncRegisterListener)
	}
	category, err := s.categoryArg(args[0])
	if err != nil {
		return nil, err
	}
	fn, ok := args[1].(ir.IRString)
	if !ok || fn == "" {
		return nil, fmt.Errorf("%s: functionName must be a non-empty string", FuncRegisterListener)
	}

	added, err := s.subscribe(ctx, category, string(fn))
	if err != nil {
		return nil, err
	}
	return ir.IRBool(added), nil
}

func (s *Script) categoryArg(v ir.IRValue) (string, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRObject:
		if c := val.String("category"); c != "" {
			return c, nil
		}
		if id := val.String("id"); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%s: category must be a string or an event type", FuncRegisterListener)
}

// registerDelayedTask(callback, delayTicks) -> taskId
//
// The callback handle is kept until the task fires or is cancelled; any
// other callback among the arguments is released.
func (s *Script) bindRegisterDelayedTask(_ context.Context, args []ir.IRValue) (ir.IRValue, error) {
	keep := map[uint64]bool{}
	defer func() { s.releaseCallbacks(args, keep) }()

	if len(args) < 1 {
		return nil, fmt.Errorf("%s expects (callback, delayTicks)", FuncRegisterDelayedTask)
	}
	cb, ok := args[0].(ir.IRCallback)
	if !ok {
		return nil, fmt.Errorf("%s: callback must be a function", FuncRegisterDelayedTask)
	}

	var delay int64
	if len(args) > 1 {
		switch d := args[1].(type) {
		case ir.IRInt:
			delay = int64(d)
		case ir.IRFloat:
			delay = delayFromFloat(float64(d))
		case ir.IRNull:
		default:
			return nil, fmt.Errorf("%s: delayTicks must be a number", FuncRegisterDelayedTask)
		}
	}

	task, err := s.schedule(cb, delay)
	if err != nil {
		return nil, err
	}
	if !task.Cancelled() {
		keep[cb.Ref] = true
	}
	return ir.IRInt(task.ID()), nil
}

// delayFromFloat rounds a fractional delay up. NaN counts as no delay and
// values beyond int64 saturate.
func delayFromFloat(f float64) int64 {
	f = math.Ceil(f)
	switch {
	case math.IsNaN(f), f < 1:
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(f)
}

// resolveEventType(name) -> {namespace, name, id, category?} | null
//
// A name without a "namespace:" prefix is placed in the default namespace.
// category is set when the type names a registered category.
func (s *Script) bindResolveEventType(_ context.Context, args []ir.IRValue) (ir.IRValue, error) {
	if len(args) < 1 {
		return ir.IRNull{}, nil
	}
	raw, ok := args[0].(ir.IRString)
	if !ok {
		return ir.IRNull{}, nil
	}
	handle, ok := ResolveEventType(string(raw), s.env.Namespace)
	if !ok {
		return ir.IRNull{}, nil
	}

	name := handle.String("name")
	if handle.String("namespace") == s.env.Namespace && s.env.Registry.HasCategory(name) {
		handle["category"] = ir.IRString(name)
	} else if s.env.Registry.HasCategory(handle.String("id")) {
		handle["category"] = handle["id"]
	}
	return handle, nil
}

// ResolveEventType parses "namespace:name" or "name" into an event type
// handle. Returns false for malformed names.
func ResolveEventType(raw, defaultNamespace string) (ir.IRObject, bool) {
	namespace, name := defaultNamespace, raw
	if before, after, found := strings.Cut(raw, ":"); found {
		namespace, name = before, after
	}
	if !keyPart.MatchString(namespace) || !keyPart.MatchString(name) {
		return nil, false
	}
	return ir.NewIRObjectFromPairs(
		ir.O("namespace", ir.IRString(namespace)),
		ir.O("name", ir.IRString(name)),
		ir.O("id", ir.IRString(namespace+":"+name)),
	), true
}

// convertEvent(event, targetShape) -> event
//
// Returns the event adapted to targetShape, or the event unchanged when it
// does not support that shape.
func (s *Script) bindConvertEvent(_ context.Context, args []ir.IRValue) (ir.IRValue, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%s expects (event, targetShape)", FuncConvertEvent)
	}
	ev, ok := args[0].(ir.IRObject)
	if !ok {
		return args[0], nil
	}
	shape, ok := args[1].(ir.IRString)
	if !ok {
		return ev, nil
	}
	out, converted := ir.ConvertEventValue(ev, string(shape))
	if !converted {
		s.env.Logger.Debug("event does not support shape",
			"script", s.id,
			"category", ev.String("category"),
			"shape", string(shape),
		)
	}
	return out, nil
}
