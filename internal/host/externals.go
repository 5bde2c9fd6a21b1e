package host

import (
	"github.com/statshost/host/internal/interp"
)

// registerExternals exposes the plot manager to evaluated code, which is
// how the IDE drives plot windows: it evaluates plot_next(dev) and so on.
func (h *Host) registerExternals() {
	m := h.plots
	h.rt.Register("plot_device_new", func(args []interp.Value) (interp.Value, error) {
		if err := arity("plot_device_new", args, 0, 0); err != nil {
			return nil, err
		}
		d, err := m.NewDevice()
		if err != nil {
			return nil, err
		}
		return interp.String(d.ID().String()), nil
	})
	h.rt.Register("plot_next", deviceOp("plot_next", m.Next))
	h.rt.Register("plot_previous", deviceOp("plot_previous", m.Previous))
	h.rt.Register("plot_clear", deviceOp("plot_clear", m.Clear))
	h.rt.Register("plot_close", deviceOp("plot_close", m.CloseDevice))

	h.rt.Register("plot_select", func(args []interp.Value) (interp.Value, error) {
		if err := arity("plot_select", args, 2, 3); err != nil {
			return nil, err
		}
		ids, err := stringArgs("plot_select", args[:2])
		if err != nil {
			return nil, err
		}
		force := false
		if len(args) == 3 {
			if force, err = boolArg("plot_select", args, 2); err != nil {
				return nil, err
			}
		}
		return interp.Null{}, m.Select(ids[0], ids[1], force)
	})
	h.rt.Register("plot_remove", func(args []interp.Value) (interp.Value, error) {
		if err := arity("plot_remove", args, 2, 2); err != nil {
			return nil, err
		}
		ids, err := stringArgs("plot_remove", args)
		if err != nil {
			return nil, err
		}
		return interp.Null{}, m.Remove(ids[0], ids[1])
	})
	h.rt.Register("plot_copy", func(args []interp.Value) (interp.Value, error) {
		if err := arity("plot_copy", args, 3, 3); err != nil {
			return nil, err
		}
		ids, err := stringArgs("plot_copy", args)
		if err != nil {
			return nil, err
		}
		return interp.Null{}, m.Copy(ids[0], ids[1], ids[2])
	})
	h.rt.Register("plot_resize", func(args []interp.Value) (interp.Value, error) {
		if err := arity("plot_resize", args, 4, 4); err != nil {
			return nil, err
		}
		ids, err := stringArgs("plot_resize", args[:1])
		if err != nil {
			return nil, err
		}
		var size [3]float64
		for i := range size {
			if size[i], err = numberArg("plot_resize", args, i+1); err != nil {
				return nil, err
			}
		}
		return interp.Null{}, m.Resize(ids[0], size[0], size[1], size[2])
	})
	h.rt.Register("plot_info", func(args []interp.Value) (interp.Value, error) {
		if err := arity("plot_info", args, 1, 1); err != nil {
			return nil, err
		}
		ids, err := stringArgs("plot_info", args)
		if err != nil {
			return nil, err
		}
		info, err := m.Info(ids[0])
		if err != nil {
			return nil, err
		}
		plots := &interp.List{Values: make([]interp.Value, len(info.Plots))}
		for i, id := range info.Plots {
			plots.Values[i] = interp.String(id)
		}
		return &interp.List{
			Names: []string{"device_id", "number", "width", "height", "resolution", "active_index", "plots"},
			Values: []interp.Value{
				interp.String(info.DeviceID),
				interp.Int(int32(info.Number)),
				interp.Num(info.Width),
				interp.Num(info.Height),
				interp.Num(info.Resolution),
				interp.Int(int32(info.ActiveIndex)),
				plots,
			},
		}, nil
	})
}

// deviceOp adapts a manager method taking only a device id.
func deviceOp(name string, op func(id string) error) interp.ExternalFunc {
	return func(args []interp.Value) (interp.Value, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return nil, err
		}
		ids, err := stringArgs(name, args)
		if err != nil {
			return nil, err
		}
		return interp.Null{}, op(ids[0])
	}
}

func arity(name string, args []interp.Value, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return interp.Errorf("%s() takes %d argument(s), got %d", name, min, len(args))
		}
		return interp.Errorf("%s() takes %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func stringArgs(name string, args []interp.Value) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		c, ok := a.(interp.Character)
		if !ok || len(c) != 1 || c[0] == nil {
			return nil, interp.Errorf("%s(): argument %d must be a single string", name, i+1)
		}
		out[i] = *c[0]
	}
	return out, nil
}

func numberArg(name string, args []interp.Value, i int) (float64, error) {
	switch v := args[i].(type) {
	case interp.Double:
		if len(v) == 1 {
			return v[0], nil
		}
	case interp.Integer:
		if len(v) == 1 && v[0] != interp.NAInteger {
			return float64(v[0]), nil
		}
	}
	return 0, interp.Errorf("%s(): argument %d must be a single number", name, i+1)
}

func boolArg(name string, args []interp.Value, i int) (bool, error) {
	if v, ok := args[i].(interp.Logical); ok && len(v) == 1 && v[0] != interp.NALogical {
		return v[0] == interp.True, nil
	}
	return false, interp.Errorf("%s(): argument %d must be TRUE or FALSE", name, i+1)
}
