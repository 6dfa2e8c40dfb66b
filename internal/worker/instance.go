package worker

import "reflect"

// Emitter is implemented by an instance that wants to push events to the
// parent. Subscribe is called once, right after construction, with a
// function the instance invokes for every event it wants forwarded.
// Events named with a "$" prefix never reach the wire.
type Emitter interface {
	Subscribe(emit func(event string, args any))
}

// exposedMethods lists every exported method name on instance's type, for
// the Ready envelope's ExposedMethods field. Subscribe is excluded: it's
// lifecycle plumbing for Emitter, not an RPC-callable method.
func exposedMethods(instance any) []string {
	t := reflect.TypeOf(instance)
	names := make([]string, 0, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		name := t.Method(i).Name
		if name == "Subscribe" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// propertySnapshot reads every exported, non-`rpc:"-"`-tagged field off
// instance (a pointer to a struct) into a name->value map. Called once at
// construction for the initial PropertyUpdate burst, and again after every
// dispatched call to diff against the previous snapshot.
func propertySnapshot(instance any) map[string]any {
	v := reflect.ValueOf(instance)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		if field.Tag.Get("rpc") == "-" {
			continue
		}
		out[field.Name] = v.Field(i).Interface()
	}
	return out
}

// diffProperties returns the entries of next whose value differs from
// prev (by reflect.DeepEqual), or is new. Only these are worth a
// PropertyUpdate frame.
func diffProperties(prev, next map[string]any) map[string]any {
	changed := make(map[string]any)
	for name, value := range next {
		old, existed := prev[name]
		if !existed || !reflect.DeepEqual(old, value) {
			changed[name] = value
		}
	}
	return changed
}
