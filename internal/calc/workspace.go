package calc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/statshost/host/internal/interp"
)

var (
	_ interp.WorkspaceSaver  = (*Runtime)(nil)
	_ interp.WorkspaceLoader = (*Runtime)(nil)
)

// SaveWorkspace writes the global bindings to path as a JSON object.
// Values that have no JSON form are skipped.
func (r *Runtime) SaveWorkspace(path string) error {
	out := make(map[string]json.RawMessage)
	for _, name := range r.global.Names() {
		v, _ := r.global.Local(name)
		data, err := json.Marshal(toGo(v))
		if err != nil {
			r.log.Debug("not saving binding", "name", name, "error", err)
			continue
		}
		out[name] = data
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write workspace: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadWorkspace binds the values saved by SaveWorkspace in the global
// environment. A missing file is not an error.
func (r *Runtime) LoadWorkspace(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read workspace: %w", err)
	}
	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return fmt.Errorf("decode workspace: %w", err)
	}
	for name, v := range vars {
		r.global.Set(name, fromJSON(v))
	}
	return nil
}

// fromJSON restores vectors that were saved as homogeneous arrays.
func fromJSON(x any) interp.Value {
	switch v := x.(type) {
	case float64:
		if v == float64(int32(v)) {
			return interp.Int(int32(v))
		}
		return interp.Num(v)
	case []any:
		if len(v) == 0 {
			return &interp.List{}
		}
		if fs, ok := allFloats(v); ok {
			return interp.Double(fs)
		}
		if ss, ok := allStrings(v); ok {
			return toValue(ss)
		}
		l := &interp.List{Values: make([]interp.Value, len(v))}
		for i, e := range v {
			l.Values[i] = fromJSON(e)
		}
		return l
	case map[string]any:
		l := toValue(v).(*interp.List)
		for i, name := range l.Names {
			l.Values[i] = fromJSON(v[name])
		}
		return l
	}
	return toValue(x)
}

func allFloats(xs []any) ([]float64, bool) {
	out := make([]float64, len(xs))
	for i, x := range xs {
		f, ok := x.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func allStrings(xs []any) ([]string, bool) {
	out := make([]string, len(xs))
	for i, x := range xs {
		s, ok := x.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}
