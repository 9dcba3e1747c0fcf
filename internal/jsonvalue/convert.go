package jsonvalue

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Interface converts v to the plain Go representation used by generic JSON
// libraries: nil, bool, string, int, float64, *big.Int, []any and
// map[string]any. Integer literals become int (or *big.Int when they do not
// fit); everything else numeric becomes float64.
func (v Value) Interface() any {
	switch v.kind {
	case Bool:
		return v.b
	case String:
		return v.s
	case Number:
		return numberInterface(v.s)
	case Array:
		out := make([]any, len(v.arr))
		for i, it := range v.arr {
			out[i] = it.Interface()
		}
		return out
	case Object:
		out := make(map[string]any, v.obj.Len())
		for _, k := range v.obj.Keys() {
			val, _ := v.obj.Get(k)
			out[k] = val.Interface()
		}
		return out
	default:
		return nil
	}
}

func numberInterface(lit string) any {
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			if i >= math.MinInt && i <= math.MaxInt {
				return int(i)
			}
		}
		if bi, ok := new(big.Int).SetString(lit, 10); ok {
			return bi
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// FromInterface converts a plain Go JSON representation into a Value.
//
// Map keys are sorted because Go maps carry no order; NaN and infinities have
// no JSON form and become null.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case int32:
		return IntValue(int64(t)), nil
	case uint64:
		return NumberValue(json.Number(strconv.FormatUint(t, 10))), nil
	case float32:
		return FromInterface(float64(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Value{}, nil
		}
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return IntValue(int64(t)), nil
		}
		return FloatValue(t), nil
	case *big.Int:
		return NumberValue(json.Number(t.String())), nil
	case json.Number:
		return NumberValue(t), nil
	case []any:
		out := make([]Value, len(t))
		for i, it := range t {
			v, err := FromInterface(it)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return ArrayValue(out...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMapSize(len(keys))
		for _, k := range keys {
			v, err := FromInterface(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			m.Set(k, v)
		}
		return ObjectValue(m), nil
	default:
		return Value{}, fmt.Errorf("jsonvalue: unsupported Go type %T", x)
	}
}
