package worker

import (
	"reflect"

	"github.com/oriys/workerproc/internal/rpcerr"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// dispatch invokes method on instance with args (already decoded from the
// wire), substituting a callback stub for any argument the parent
// rewrote into a placeholder, and packs the method's return values into a
// single (value, error) pair the same way the parent packs a callback's.
func dispatch(instance any, method string, args []any, cc *callbackClient) (any, error) {
	m := reflect.ValueOf(instance).MethodByName(method)
	if !m.IsValid() {
		return nil, &rpcerr.UnknownMethodError{Method: method}
	}
	ft := m.Type()
	if ft.IsVariadic() && len(args) < ft.NumIn()-1 {
		return nil, &rpcerr.ProtocolError{Reason: "too few arguments for " + method}
	}

	in := make([]reflect.Value, ft.NumIn())
	for i := range in {
		paramType := ft.In(i)
		if ft.IsVariadic() && i == len(in)-1 {
			paramType = paramType.Elem()
		}
		if i >= len(args) {
			in[i] = reflect.Zero(paramType)
			continue
		}
		in[i] = coerceArg(paramType, args[i], cc)
	}

	out := m.Call(in)
	return unpackResult(out)
}

func coerceArg(t reflect.Type, v any, cc *callbackClient) reflect.Value {
	if t.Kind() == reflect.Func {
		if id, ok := callbackID(v); ok {
			return cc.stub(t, id)
		}
	}
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv
	}
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	return reflect.Zero(t)
}

func unpackResult(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(errorType) {
		var err error
		if !last.IsNil() {
			err = last.Interface().(error)
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
