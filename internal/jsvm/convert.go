package jsvm

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/roach88/scripthost/internal/ir"
)

// fromValue converts a script value into an ir value. Functions are
// registered as callbacks. Caller holds r.mu.
func (r *Runtime) fromValue(v goja.Value, depth int) (ir.IRValue, error) {
	if depth > r.maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d", r.maxDepth)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ir.IRNull{}, nil
	}

	obj, isObj := v.(*goja.Object)
	if !isObj {
		return ir.FromGo(v.Export())
	}

	if _, isFn := goja.AssertFunction(obj); isFn {
		return r.register(obj), nil
	}

	switch obj.ClassName() {
	case "Array":
		n := int(obj.Get("length").ToInteger())
		arr := make(ir.IRArray, n)
		for i := 0; i < n; i++ {
			elem, err := r.fromValue(obj.Get(strconv.Itoa(i)), depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = elem
		}
		return arr, nil

	case "Object":
		keys := obj.Keys()
		out := make(ir.IRObject, len(keys))
		for _, k := range keys {
			elem, err := r.fromValue(obj.Get(k), depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = elem
		}
		return out, nil

	default:
		// Dates, boxed primitives, errors: take goja's own export.
		return ir.FromGo(exportPlain(obj.Export()))
	}
}

// exportPlain reduces exports ir.FromGo cannot take to strings.
func exportPlain(v any) any {
	switch v.(type) {
	case nil, string, bool, int64, float64, []any, map[string]any:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// register stores a script function and returns its handle.
func (r *Runtime) register(fn *goja.Object) ir.IRCallback {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.nextRef++
	r.callbacks[r.nextRef] = fn
	return ir.IRCallback{Ref: r.nextRef}
}

// toValue converts an ir value into a script value. Caller holds r.mu.
func (r *Runtime) toValue(v ir.IRValue) goja.Value {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return goja.Null()
	case ir.IRString:
		return r.vm.ToValue(string(val))
	case ir.IRInt:
		return r.vm.ToValue(int64(val))
	case ir.IRFloat:
		return r.vm.ToValue(float64(val))
	case ir.IRBool:
		return r.vm.ToValue(bool(val))
	case ir.IRArray:
		elems := make([]any, len(val))
		for i, elem := range val {
			elems[i] = r.toValue(elem)
		}
		return r.vm.NewArray(elems...)
	case ir.IRObject:
		obj := r.vm.NewObject()
		for _, k := range val.SortedKeys() {
			_ = obj.Set(k, r.toValue(val[k]))
		}
		return obj
	case ir.IRCallback:
		r.cbMu.Lock()
		fn, ok := r.callbacks[val.Ref]
		r.cbMu.Unlock()
		if !ok {
			return goja.Null()
		}
		return fn
	default:
		return goja.Undefined()
	}
}
