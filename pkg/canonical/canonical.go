// Package canonical normalizes execution outputs into a deterministic,
// JSON-safe form so that simple judges can compare them.
//
// Canonical values use only string map keys and never contain non-finite
// floats: +Inf, -Inf and NaN are replaced by the string sentinels
// "Infinity", "-Infinity" and "NaN". Canonicalize is idempotent.
package canonical

import (
	"fmt"
	"math"
	"reflect"
)

// Sentinels substituted for non-finite floats.
const (
	PosInf = "Infinity"
	NegInf = "-Infinity"
	NaN    = "NaN"
)

// Canonicalize returns the canonical form of v. It never mutates v.
func Canonicalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case float64:
		return canonicalFloat(x)
	case float32:
		f := float64(x)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return canonicalFloat(f)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Canonicalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Canonicalize(e)
		}
		return out
	}
	return canonicalReflect(reflect.ValueOf(v))
}

func canonicalFloat(f float64) any {
	switch {
	case math.IsInf(f, 1):
		return PosInf
	case math.IsInf(f, -1):
		return NegInf
	case math.IsNaN(f):
		return NaN
	}
	return f
}

// canonicalReflect handles typed slices and maps (e.g. []float64,
// map[int]string) and named primitive types.
func canonicalReflect(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			out[i] = Canonicalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[keyString(iter.Key())] = Canonicalize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Canonicalize(rv.Elem().Interface())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return canonicalFloat(f)
		}
		return rv.Interface()
	}
	return rv.Interface()
}

func keyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

// IsCanonical reports whether v is already in canonical form. A nil []any
// counts as canonical, the same as an empty one.
func IsCanonical(v any) bool {
	switch x := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return isFinite(x)
	case float32:
		return isFinite(float64(x))
	case []any:
		for _, e := range x {
			if !IsCanonical(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range x {
			if !IsCanonical(e) {
				return false
			}
		}
		return true
	}

	// Typed containers and pointers are rewritten by Canonicalize; named
	// scalars are kept as they are.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Pointer, reflect.Interface:
		return false
	case reflect.Float32, reflect.Float64:
		return isFinite(rv.Float())
	}
	return true
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// ContainsSentinel reports whether the canonical value v contains the given
// sentinel string anywhere in its structure.
func ContainsSentinel(v any, sentinel string) bool {
	switch x := v.(type) {
	case string:
		return x == sentinel
	case []any:
		for _, e := range x {
			if ContainsSentinel(e, sentinel) {
				return true
			}
		}
	case map[string]any:
		for _, e := range x {
			if ContainsSentinel(e, sentinel) {
				return true
			}
		}
	}
	return false
}
