package calc

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/statshost/host/internal/interp"
)

// toValue converts a result of expr-lang evaluation to an interpreter value.
func toValue(x any) interp.Value {
	switch v := x.(type) {
	case nil:
		return interp.Null{}
	case interp.Value:
		return v
	case bool:
		return interp.Bool(v)
	case int:
		return intValue(int64(v))
	case int8:
		return interp.Int(int32(v))
	case int16:
		return interp.Int(int32(v))
	case int32:
		return interp.Int(v)
	case int64:
		return intValue(v)
	case uint8:
		return interp.Int(int32(v))
	case uint16:
		return interp.Int(int32(v))
	case uint32:
		return intValue(int64(v))
	case float32:
		return interp.Num(float64(v))
	case float64:
		return interp.Num(v)
	case string:
		return interp.String(v)
	case []byte:
		return interp.Raw(v)
	case []float64:
		return interp.Double(v)
	case []int:
		out := make(interp.Integer, len(v))
		for i, n := range v {
			if n > math.MaxInt32 || n <= math.MinInt32 {
				return floatsOf(v)
			}
			out[i] = int32(n)
		}
		return out
	case []string:
		out := make(interp.Character, len(v))
		for i := range v {
			out[i] = interp.Str(v[i])
		}
		return out
	case []bool:
		out := make(interp.Logical, len(v))
		for i, b := range v {
			if b {
				out[i] = interp.True
			}
		}
		return out
	case []any:
		l := &interp.List{Values: make([]interp.Value, len(v))}
		for i, e := range v {
			l.Values[i] = toValue(e)
		}
		return l
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		l := &interp.List{Values: make([]interp.Value, len(keys)), Names: keys}
		for i, k := range keys {
			l.Values[i] = toValue(v[k])
		}
		return l
	case time.Duration:
		return interp.Num(v.Seconds())
	case fmt.Stringer:
		return interp.String(v.String())
	}
	return interp.Opaque{Type: fmt.Sprintf("%T", x)}
}

func intValue(n int64) interp.Value {
	if n > math.MaxInt32 || n <= math.MinInt32 {
		return interp.Num(float64(n))
	}
	return interp.Int(int32(n))
}

func floatsOf(v []int) interp.Double {
	out := make(interp.Double, len(v))
	for i, n := range v {
		out[i] = float64(n)
	}
	return out
}

// toGo converts an interpreter value into what expr-lang code sees.
// Length-one vectors become scalars; missing values become nil.
func toGo(v interp.Value) any {
	switch v := v.(type) {
	case nil, interp.Null:
		return nil
	case interp.Logical:
		out := make([]any, len(v))
		for i, t := range v {
			switch t {
			case interp.True:
				out[i] = true
			case interp.False:
				out[i] = false
			}
		}
		return scalarOrSlice(out)
	case interp.Integer:
		out := make([]any, len(v))
		for i, n := range v {
			if n != interp.NAInteger {
				out[i] = int(n)
			}
		}
		return scalarOrSlice(out)
	case interp.Double:
		if len(v) == 1 {
			if interp.IsNADouble(v[0]) {
				return nil
			}
			return v[0]
		}
		return []float64(v)
	case interp.Character:
		out := make([]any, len(v))
		for i, s := range v {
			if s != nil {
				out[i] = *s
			}
		}
		return scalarOrSlice(out)
	case interp.Raw:
		return []byte(v)
	case *interp.List:
		if v.Names == nil {
			out := make([]any, len(v.Values))
			for i, e := range v.Values {
				out[i] = toGo(e)
			}
			return out
		}
		out := make(map[string]any, len(v.Values))
		for i, e := range v.Values {
			out[v.Names[i]] = toGo(e)
		}
		return out
	case interp.Env:
		out := make(map[string]any)
		for _, name := range v.Names() {
			if e, ok := v.Get(name); ok {
				out[name] = toGo(e)
			}
		}
		return out
	}
	return v
}

func scalarOrSlice(xs []any) any {
	if len(xs) == 1 {
		return xs[0]
	}
	return xs
}

// toFloat accepts any numeric scalar.
func toFloat(x any) (float64, bool) {
	switch v := x.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case uint8:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// toFloats flattens numbers, numeric slices and nested lists.
func toFloats(x any) ([]float64, bool) {
	switch v := x.(type) {
	case []float64:
		return v, true
	case []int:
		return floatsOf(v), true
	case []any:
		var out []float64
		for _, e := range v {
			fs, ok := toFloats(e)
			if !ok {
				return nil, false
			}
			out = append(out, fs...)
		}
		return out, true
	}
	f, ok := toFloat(x)
	if !ok {
		return nil, false
	}
	return []float64{f}, true
}
