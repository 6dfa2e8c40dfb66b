package codec

import (
	"fmt"
	"reflect"

	"github.com/oriys/workerproc/internal/rpcerr"
)

// precheckPortable walks v looking for anything encoding/json would choke on
// by recursing forever instead of failing: funcs, channels, unsafe
// pointers, and cycles through pointers/maps/slices. callbackPlaceholder
// values (already converted to `{__callback: id}` wire shape by the caller)
// are plain structs/maps by the time they reach here, so no exception is
// needed for them.
func precheckPortable(v any, argument string) error {
	seen := make(map[uintptr]bool)
	return walkPrecheck(reflect.ValueOf(v), argument, seen)
}

func walkPrecheck(v reflect.Value, argument string, seen map[uintptr]bool) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return &rpcerr.SerializationError{
			Direction: "encode",
			Argument:  argument,
			Kind:      v.Kind().String(),
			Cause:     fmt.Errorf("portable codec cannot represent a %s value", v.Kind()),
		}
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return &rpcerr.SerializationError{
				Direction: "encode",
				Argument:  argument,
				Kind:      "cycle",
				Cause:     fmt.Errorf("cyclic reference detected at %s", argument),
			}
		}
		seen[addr] = true
		return walkPrecheck(v.Elem(), argument, seen)
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walkPrecheck(v.Elem(), argument, seen)
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if v.Len() > 0 {
			if seen[addr] {
				return &rpcerr.SerializationError{
					Direction: "encode",
					Argument:  argument,
					Kind:      "cycle",
					Cause:     fmt.Errorf("cyclic reference detected at %s", argument),
				}
			}
			seen[addr] = true
		}
		for i := 0; i < v.Len(); i++ {
			if err := walkPrecheck(v.Index(i), argument, seen); err != nil {
				return err
			}
		}
		return nil
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walkPrecheck(v.Index(i), argument, seen); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return &rpcerr.SerializationError{
				Direction: "encode",
				Argument:  argument,
				Kind:      "cycle",
				Cause:     fmt.Errorf("cyclic reference detected at %s", argument),
			}
		}
		seen[addr] = true
		iter := v.MapRange()
		for iter.Next() {
			if err := walkPrecheck(iter.Value(), argument, seen); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			if field.Tag.Get("rpc") == "-" {
				continue
			}
			if err := walkPrecheck(v.Field(i), argument, seen); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
