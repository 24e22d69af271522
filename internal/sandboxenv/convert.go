package sandboxenv

import (
	"encoding/json"
	"fmt"
	gomath "math"
	"math/big"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// maxDepth bounds the nesting of converted values.
const maxDepth = 64

// ToValue converts a Go value into a script value. It accepts what JSON and
// CBOR decoders produce plus native Go scalars, slices, arrays and
// string-keyed maps.
func ToValue(v any) (starlark.Value, error) {
	return toValue(v, 0)
}

func toValue(v any, depth int) (starlark.Value, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case []byte:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int8:
		return starlark.MakeInt64(int64(v)), nil
	case int16:
		return starlark.MakeInt64(int64(v)), nil
	case int32:
		return starlark.MakeInt64(int64(v)), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint:
		return starlark.MakeUint64(uint64(v)), nil
	case uint8:
		return starlark.MakeUint64(uint64(v)), nil
	case uint16:
		return starlark.MakeUint64(uint64(v)), nil
	case uint32:
		return starlark.MakeUint64(uint64(v)), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case *big.Int:
		return starlark.MakeBigInt(v), nil
	case float32:
		return starlark.Float(v), nil
	case float64:
		return starlark.Float(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", v.String())
		}
		return starlark.Float(f), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, e := range v {
			x, err := toValue(e, depth+1)
			if err != nil {
				return nil, err
			}
			elems[i] = x
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(v))
		for _, k := range sortedKeys(v) {
			x, err := toValue(v[k], depth+1)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), x); err != nil {
				return nil, err
			}
		}
		return d, nil
	case map[any]any:
		d := starlark.NewDict(len(v))
		for k, e := range v {
			kv, err := toValue(k, depth+1)
			if err != nil {
				return nil, err
			}
			x, err := toValue(e, depth+1)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(kv, x); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return reflectValue(reflect.ValueOf(v), depth)
}

func reflectValue(rv reflect.Value, depth int) (starlark.Value, error) {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return toValue(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		elems := make([]starlark.Value, rv.Len())
		for i := range elems {
			x, err := toValue(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			elems[i] = x
		}
		return starlark.NewList(elems), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		d := starlark.NewDict(rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			x, err := toValue(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(iter.Key().String()), x); err != nil {
				return nil, err
			}
		}
		return d, nil
	case reflect.String:
		return starlark.String(rv.String()), nil
	case reflect.Bool:
		return starlark.Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return starlark.MakeUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return starlark.Float(rv.Float()), nil
	}
	return nil, fmt.Errorf("unsupported type %s", rv.Type())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromValue converts a script value into plain Go data: nil, bool, int64,
// *big.Int, float64, string, []any or map[string]any. Non-finite floats and
// values with no data equivalent become their string form.
func FromValue(v starlark.Value) any {
	return fromValue(v, 0)
}

func fromValue(v starlark.Value, depth int) any {
	if depth > maxDepth {
		return v.String()
	}
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		return v.BigInt()
	case starlark.Float:
		f := float64(v)
		if gomath.IsNaN(f) || gomath.IsInf(f, 0) {
			return v.String()
		}
		return f
	case starlark.String:
		return string(v)
	case starlark.Bytes:
		return string(v)
	case *starlark.List:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = fromValue(v.Index(i), depth+1)
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = fromValue(e, depth+1)
		}
		return out
	case *starlark.Set:
		out := make([]any, 0, v.Len())
		iter := v.Iterate()
		defer iter.Done()
		var e starlark.Value
		for iter.Next(&e) {
			out = append(out, fromValue(e, depth+1))
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			out[keyString(item[0])] = fromValue(item[1], depth+1)
		}
		return out
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range v.AttrNames() {
			if attr, err := v.Attr(name); err == nil {
				out[name] = fromValue(attr, depth+1)
			}
		}
		return out
	}
	return v.String()
}

func keyString(k starlark.Value) string {
	if s, ok := starlark.AsString(k); ok {
		return s
	}
	return k.String()
}

// IsData reports whether v is plain data rather than code or a module.
func IsData(v starlark.Value) bool {
	switch v.(type) {
	case *starlark.Function, *starlark.Builtin, *starlarkstruct.Module:
		return false
	}
	return true
}
