package parent

import (
	"reflect"
	"sync"

	"github.com/oriys/workerproc/internal/codec"
)

// callbackEntry is a caller-supplied function registered for the
// lifetime of the call whose argument tree referenced it.
type callbackEntry struct {
	fn    reflect.Value
	owner uint64 // correlation ID of the owning call
}

// callbackRegistry maps callback ID to the caller-supplied function. It's
// a parent-side registry: the worker only ever holds a numeric reference.
type callbackRegistry struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*callbackEntry
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{entries: make(map[uint64]*callbackEntry)}
}

// rewriteArgs walks args looking for func values. Each is replaced in the
// returned copy with a callback placeholder (codec.CallbackRef in rich
// mode, a {"__callback": id} map in portable mode) and registered against
// owner, the call's correlation ID.
func (r *callbackRegistry) rewriteArgs(args []any, owner uint64, mode codec.Mode) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = r.rewriteValue(a, owner, mode)
	}
	return out
}

func (r *callbackRegistry) rewriteValue(v any, owner uint64, mode codec.Mode) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Func {
		id := r.register(rv, owner)
		if mode == codec.ModeRich {
			return codec.CallbackRef{ID: id}
		}
		return map[string]any{"__callback": id}
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if !containsFunc(rv) {
			return v
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = r.rewriteValue(rv.Index(i).Interface(), owner, mode)
		}
		return out
	case reflect.Map:
		if !containsFunc(rv) {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := iter.Key().Interface().(string)
			if !ok {
				return v
			}
			out[key] = r.rewriteValue(iter.Value().Interface(), owner, mode)
		}
		return out
	default:
		return v
	}
}

// containsFunc reports whether v (a slice, array or map) holds a func value
// anywhere in its immediate elements, recursively through nested
// slices/arrays/maps. Plain data collections with no embedded callback
// pass through rewriteValue untouched, so a typed slice like []int64
// reaches the codec with its concrete element type intact instead of being
// flattened into a generic []any.
func containsFunc(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Func:
		return true
	case reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return containsFunc(rv.Elem())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if containsFunc(rv.Index(i)) {
				return true
			}
		}
		return false
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if containsFunc(iter.Value()) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (r *callbackRegistry) register(fn reflect.Value, owner uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.entries[id] = &callbackEntry{fn: fn, owner: owner}
	return id
}

// reclaim drops every callback registered for owner, once its call
// settles.
func (r *callbackRegistry) reclaim(owner uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.owner == owner {
			delete(r.entries, id)
		}
	}
}

// lookup returns the registered function for id, or ok=false for an
// unknown callback ID (the worker gets an error CallbackResult back).
func (r *callbackRegistry) lookup(id uint64) (reflect.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return reflect.Value{}, false
	}
	return e.fn, true
}

// invoke calls fn with args decoded from the wire (already unpacked into
// a []any by the caller) and returns the (possibly multi-valued) result
// packed into a single any, plus any error the function itself returned.
func invokeCallback(fn reflect.Value, args []any) (any, error) {
	ft := fn.Type()
	in := make([]reflect.Value, ft.NumIn())
	for i := range in {
		if i < len(args) && args[i] != nil {
			arg := reflect.ValueOf(args[i])
			if arg.Type().ConvertibleTo(ft.In(i)) {
				in[i] = arg.Convert(ft.In(i))
				continue
			}
		}
		in[i] = reflect.Zero(ft.In(i))
	}
	out := fn.Call(in)
	return unpackResults(out)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func unpackResults(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(errorType) {
		var err error
		if !last.IsNil() {
			err = last.Interface().(error)
		}
		if err != nil {
			return nil, err
		}
		if len(out) == 1 {
			return nil, err
		}
		if len(out) == 2 {
			return out[0].Interface(), err
		}
		vals := make([]any, len(out)-1)
		for i := range vals {
			vals[i] = out[i].Interface()
		}
		return vals, err
	}
	if len(out) == 1 {
		return out[0].Interface(), nil
	}
	vals := make([]any, len(out))
	for i := range vals {
		vals[i] = out[i].Interface()
	}
	return vals, nil
}
