package sandbox

import (
	"encoding/json"
	"fmt"

	"go.starlark.net/starlark"
)

// toStarlark converts a Go value into its Starlark equivalent. It covers the
// JSON-shaped subset (nil, bool, numbers, strings, slices, string-keyed maps)
// that the namespace codec and host-injected functions exchange.
func toStarlark(v any) (starlark.Value, error) {
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
		return starlark.Bytes(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int32:
		return starlark.MakeInt(int(v)), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint:
		return starlark.MakeUint(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
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
			return nil, fmt.Errorf("cannot convert number %q to a sandbox value", v)
		}
		return starlark.Float(f), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, e := range v {
			val, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = val
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(v))
		for k, e := range v {
			val, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), val); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("cannot convert %T to a sandbox value", v)
}

// fromStarlark converts a Starlark value to a plain Go value. The second
// return is false for values with no serializable form (functions, builtins,
// opaque host objects); callers decide whether that is an error or a skip.
func fromStarlark(v starlark.Value) (any, bool) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, true
	case starlark.Bool:
		return bool(v), true
	case starlark.String:
		return string(v), true
	case starlark.Bytes:
		return []byte(v), true
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, true
		}
		return v.String(), true
	case starlark.Float:
		return float64(v), true
	case *starlark.List:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			ge, ok := fromStarlark(v.Index(i))
			if !ok {
				return nil, false
			}
			out = append(out, ge)
		}
		return out, true
	case starlark.Tuple:
		out := make([]any, 0, len(v))
		for _, e := range v {
			ge, ok := fromStarlark(e)
			if !ok {
				return nil, false
			}
			out = append(out, ge)
		}
		return out, true
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, false
			}
			ge, ok := fromStarlark(item[1])
			if !ok {
				return nil, false
			}
			out[string(key)] = ge
		}
		return out, true
	}
	return nil, false
}
