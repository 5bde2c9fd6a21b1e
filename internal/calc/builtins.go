package calc

import (
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/statshost/host/internal/interp"
)

type builtin func(args ...any) (any, error)

func (r *Runtime) builtins() map[string]builtin {
	return map[string]builtin{
		"print":    r.print,
		"cat":      r.cat,
		"message":  r.message,
		"sleep":    r.sleep,
		"readline": r.readline,
		"system":   r.runSystem,
		"c":        combine,
		"raw":      toRaw,
		"ls":       r.ls,
		"yesno":    r.yesno,
		"alert":    r.alert,
		"stop":     stop,
		"new_page": r.newPage,
		"line":     r.line,
		"rect":     r.rect,
		"circle":   r.circle,
		"text":     r.text,
		"polygon":  r.polygon,
		"locator":  r.locator,
		"dev_off":  r.devOff,
		"pen":      r.pen,
		"fill":     r.fill,
	}
}

// functions wraps builtins and registered externals as expr-lang functions.
// Each call first gives the host a chance to run queued work or raise an
// interrupt.
func (r *Runtime) functions() []expr.Option {
	var opts []expr.Option
	for name, fn := range r.builtins() {
		opts = append(opts, expr.Function(name, r.wrap(fn)))
	}
	for name, fn := range r.externals {
		fn := fn
		opts = append(opts, expr.Function(name, r.wrap(func(args ...any) (any, error) {
			vals := make([]interp.Value, len(args))
			for i, a := range args {
				vals[i] = toValue(a)
			}
			v, err := fn(vals)
			if err != nil {
				return nil, err
			}
			return toGo(v), nil
		})))
	}
	return opts
}

func (r *Runtime) wrap(fn builtin) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if err := r.check(); err != nil {
			return nil, err
		}
		v, err := fn(args...)
		if err != nil {
			return nil, r.fail(err)
		}
		return v, nil
	}
}

func arity(name string, args []any, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		if min == max {
			return interp.Errorf("%s() takes %d argument(s), got %d", name, min, len(args))
		}
		return interp.Errorf("%s() takes %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func stringArg(name string, args []any, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", interp.Errorf("%s(): argument %d must be a string", name, i+1)
	}
	return s, nil
}

func numberArgs(name string, args []any) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, ok := toFloat(a)
		if !ok {
			return nil, interp.Errorf("%s(): argument %d must be numeric", name, i+1)
		}
		out[i] = f
	}
	return out, nil
}

func (r *Runtime) print(args ...any) (any, error) {
	if err := arity("print", args, 1, 1); err != nil {
		return nil, err
	}
	r.cb.WriteConsole(Format(toValue(args[0]))+"\n", false)
	return args[0], nil
}

func (r *Runtime) cat(args ...any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = catText(a)
	}
	r.cb.WriteConsole(strings.Join(parts, " "), false)
	return nil, nil
}

func (r *Runtime) message(args ...any) (any, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(catText(a))
	}
	r.cb.WriteConsole(b.String()+"\n", true)
	return nil, nil
}

// sleep waits, calling back into the host so the wait stays cancelable.
func (r *Runtime) sleep(args ...any) (any, error) {
	if err := arity("sleep", args, 1, 1); err != nil {
		return nil, err
	}
	secs, ok := toFloat(args[0])
	if !ok || secs < 0 {
		return nil, interp.Errorf("sleep(): invalid duration")
	}
	deadline := time.Now().Add(time.Duration(secs * float64(time.Second)))
	for {
		if err := r.cb.Callback(); err != nil {
			return nil, err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil, nil
		}
		time.Sleep(min(left, 10*time.Millisecond))
	}
}

func (r *Runtime) readline(args ...any) (any, error) {
	if err := arity("readline", args, 0, 1); err != nil {
		return nil, err
	}
	prompt := ""
	if len(args) == 1 {
		p, err := stringArg("readline", args, 0)
		if err != nil {
			return nil, err
		}
		prompt = p
	}
	line, ok, err := r.cb.ReadConsole(prompt, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return "", nil
	}
	return line, nil
}

func (r *Runtime) runSystem(args ...any) (any, error) {
	if err := arity("system", args, 1, 1); err != nil {
		return nil, err
	}
	cmd, err := stringArg("system", args, 0)
	if err != nil {
		return nil, err
	}
	if r.system == nil {
		return nil, interp.Errorf("system() is not available")
	}
	out, err := r.system(r.ctx, cmd)
	if err != nil {
		return nil, interp.Errorf("system(%q): %v", cmd, err)
	}
	return out, nil
}

// combine is c(): numbers flatten into a double vector, anything with a
// string becomes a character vector.
func combine(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	nums := make([]float64, 0, len(args))
	numeric := true
	for _, a := range args {
		fs, ok := toFloats(a)
		if !ok {
			numeric = false
			break
		}
		nums = append(nums, fs...)
	}
	if numeric {
		return nums, nil
	}
	strs := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case []any:
			for _, e := range v {
				strs = append(strs, catText(e))
			}
		case []string:
			strs = append(strs, v...)
		default:
			strs = append(strs, catText(v))
		}
	}
	return strs, nil
}

func toRaw(args ...any) (any, error) {
	if err := arity("raw", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	fs, ok := toFloats(args[0])
	if !ok {
		return nil, interp.Errorf("raw(): cannot convert %T", args[0])
	}
	out := make([]byte, len(fs))
	for i, f := range fs {
		if f < 0 || f > 255 || f != float64(int(f)) {
			return nil, interp.Errorf("raw(): %g is not a byte", f)
		}
		out[i] = byte(f)
	}
	return out, nil
}

func (r *Runtime) ls(args ...any) (any, error) {
	names := r.global.Names()
	sort.Strings(names)
	return names, nil
}

func (r *Runtime) yesno(args ...any) (any, error) {
	if err := arity("yesno", args, 1, 1); err != nil {
		return nil, err
	}
	msg, err := stringArg("yesno", args, 0)
	if err != nil {
		return nil, err
	}
	answer, err := r.cb.Ask(interp.BoxYesNoCancel, msg)
	if err != nil {
		return nil, err
	}
	switch answer {
	case interp.AnswerYes:
		return true, nil
	case interp.AnswerNo:
		return false, nil
	}
	return nil, nil
}

func (r *Runtime) alert(args ...any) (any, error) {
	if err := arity("alert", args, 1, 1); err != nil {
		return nil, err
	}
	r.cb.ShowMessage(catText(args[0]))
	return nil, nil
}

func stop(args ...any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = catText(a)
	}
	return nil, interp.Errorf("%s", strings.Join(parts, ""))
}

func (r *Runtime) newPage(args ...any) (any, error) {
	return nil, graphicsErr(r.graphics.NewPage())
}

func (r *Runtime) line(args ...any) (any, error) {
	if err := arity("line", args, 4, 4); err != nil {
		return nil, err
	}
	n, err := numberArgs("line", args)
	if err != nil {
		return nil, err
	}
	return nil, graphicsErr(r.graphics.Line(n[0], n[1], n[2], n[3]))
}

func (r *Runtime) rect(args ...any) (any, error) {
	if err := arity("rect", args, 4, 4); err != nil {
		return nil, err
	}
	n, err := numberArgs("rect", args)
	if err != nil {
		return nil, err
	}
	return nil, graphicsErr(r.graphics.Rect(n[0], n[1], n[2], n[3]))
}

func (r *Runtime) circle(args ...any) (any, error) {
	if err := arity("circle", args, 3, 3); err != nil {
		return nil, err
	}
	n, err := numberArgs("circle", args)
	if err != nil {
		return nil, err
	}
	return nil, graphicsErr(r.graphics.Circle(n[0], n[1], n[2]))
}

func (r *Runtime) text(args ...any) (any, error) {
	if err := arity("text", args, 3, 3); err != nil {
		return nil, err
	}
	n, err := numberArgs("text", args[:2])
	if err != nil {
		return nil, err
	}
	return nil, graphicsErr(r.graphics.Text(n[0], n[1], catText(args[2])))
}

func (r *Runtime) polygon(args ...any) (any, error) {
	if err := arity("polygon", args, 2, 2); err != nil {
		return nil, err
	}
	xs, ok := toFloats(args[0])
	ys, ok2 := toFloats(args[1])
	if !ok || !ok2 {
		return nil, interp.Errorf("polygon(): coordinates must be numeric")
	}
	return nil, graphicsErr(r.graphics.Polygon(xs, ys))
}

func (r *Runtime) locator(args ...any) (any, error) {
	x, y, ok, err := r.graphics.Locator()
	if err != nil {
		return nil, graphicsErr(err)
	}
	// A cancel while waiting for the click surfaces here.
	if err := r.check(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []float64{x, y}, nil
}

func (r *Runtime) devOff(args ...any) (any, error) {
	return nil, graphicsErr(r.graphics.CloseCurrent())
}

func (r *Runtime) pen(args ...any) (any, error) {
	if err := arity("pen", args, 1, 2); err != nil {
		return nil, err
	}
	col, err := stringArg("pen", args, 0)
	if err != nil {
		return nil, err
	}
	width := 0.0
	if len(args) == 2 {
		w, ok := toFloat(args[1])
		if !ok {
			return nil, interp.Errorf("pen(): width must be numeric")
		}
		width = w
	}
	return nil, graphicsErr(r.graphics.SetPen(col, width))
}

func (r *Runtime) fill(args ...any) (any, error) {
	if err := arity("fill", args, 1, 1); err != nil {
		return nil, err
	}
	col, err := stringArg("fill", args, 0)
	if err != nil {
		return nil, err
	}
	return nil, graphicsErr(r.graphics.SetFill(col))
}

// graphicsErr passes host errors through and labels the rest.
func graphicsErr(err error) error {
	if err == nil {
		return nil
	}
	c := classify(err)
	if ee, ok := c.(*interp.EvalError); ok {
		return interp.Errorf("graphics: %s", ee.Message)
	}
	return c
}
