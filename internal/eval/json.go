package eval

import (
	"math"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/interp"
)

// ToJSON projects v onto a JSON-marshalable value.
//
// NULL and zero-length vectors become null. Vectors must have at most one
// element; NA becomes null. Unnamed lists become arrays. Named lists
// become objects with every element named and no duplicates; NULL and NA
// elements are omitted. Environments become objects of their bindings.
func ToJSON(v interp.Value) (any, error) {
	switch x := v.(type) {
	case nil, interp.Null:
		return nil, nil

	case interp.Logical:
		if err := checkScalar(len(x), "logical"); err != nil || len(x) == 0 {
			return nil, err
		}
		switch x[0] {
		case interp.True:
			return true, nil
		case interp.False:
			return false, nil
		}
		return nil, nil

	case interp.Integer:
		if err := checkScalar(len(x), "integer"); err != nil || len(x) == 0 {
			return nil, err
		}
		if x[0] == interp.NAInteger {
			return nil, nil
		}
		return int64(x[0]), nil

	case interp.Double:
		if err := checkScalar(len(x), "double"); err != nil || len(x) == 0 {
			return nil, err
		}
		f := x[0]
		if interp.IsNADouble(f) {
			return nil, nil
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, apperrors.Encoding("%v cannot be serialized as JSON", f)
		}
		return f, nil

	case interp.Character:
		if err := checkScalar(len(x), "character"); err != nil || len(x) == 0 {
			return nil, err
		}
		if x[0] == nil {
			return nil, nil
		}
		return *x[0], nil

	case *interp.List:
		if x.Names == nil {
			arr := make([]any, len(x.Values))
			for i, e := range x.Values {
				j, err := ToJSON(e)
				if err != nil {
					return nil, err
				}
				arr[i] = j
			}
			return arr, nil
		}
		obj := make(map[string]any, len(x.Values))
		for i, e := range x.Values {
			name := ""
			if i < len(x.Names) {
				name = x.Names[i]
			}
			if name == "" {
				return nil, apperrors.Encoding("all list elements must be named to serialize as a JSON object")
			}
			if _, dup := obj[name]; dup {
				return nil, apperrors.Encoding("duplicate name %q in list", name)
			}
			j, err := ToJSON(e)
			if err != nil {
				return nil, err
			}
			if j == nil {
				continue
			}
			obj[name] = j
		}
		return obj, nil

	case interp.Env:
		obj := make(map[string]any)
		for _, name := range x.Names() {
			e, ok := x.Get(name)
			if !ok {
				continue
			}
			j, err := ToJSON(e)
			if err != nil {
				return nil, err
			}
			if j == nil {
				continue
			}
			obj[name] = j
		}
		return obj, nil
	}
	return nil, apperrors.Encoding("values of type %s cannot be serialized as JSON", v.TypeName())
}

func checkScalar(n int, typ string) error {
	if n > 1 {
		return apperrors.Encoding("%s vector of length %d cannot be serialized as JSON", typ, n)
	}
	return nil
}

// ToBlob extracts the bytes of a raw vector. NULL yields no blob.
func ToBlob(v interp.Value) ([]byte, error) {
	switch x := v.(type) {
	case nil, interp.Null:
		return nil, nil
	case interp.Raw:
		return []byte(x), nil
	}
	return nil, apperrors.Encoding("raw result requires a raw vector, got %s", v.TypeName())
}
