// Package calc is a small interpreter runtime for the host. Statements are
// expr-lang expressions with R-style assignment (name <- expr), evaluated in
// chained environments. Builtins cover console I/O, message boxes, a PTY
// backed system() call, and drawing through a display-list graphics engine.
package calc

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/interp"
)

// CommandRunner runs a shell command line and returns its combined output.
type CommandRunner func(ctx context.Context, command string) (string, error)

// Options configures a Runtime.
type Options struct {
	Logger *slog.Logger
	// System backs the system() builtin. It is disabled when nil.
	System CommandRunner
}

// Runtime implements interp.Runtime.
type Runtime struct {
	log    *slog.Logger
	system CommandRunner

	empty  *interp.MapEnv
	base   *interp.MapEnv
	global *interp.MapEnv

	cb        interp.Callbacks
	graphics  *Graphics
	externals map[string]interp.ExternalFunc

	ctx context.Context

	// Per-Eval state, saved and restored around nested evaluation.
	pendingErr error
}

var _ interp.Runtime = (*Runtime)(nil)

// New creates a Runtime with the base constants bound.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	empty := interp.NewMapEnv("R_EmptyEnv", nil)
	base := interp.NewMapEnv("base", empty)
	global := interp.NewMapEnv("R_GlobalEnv", base)

	base.Set("pi", interp.Num(math.Pi))
	base.Set("TRUE", interp.Bool(true))
	base.Set("FALSE", interp.Bool(false))
	base.Set("T", interp.Bool(true))
	base.Set("F", interp.Bool(false))
	base.Set("NULL", interp.Null{})
	base.Set("Inf", interp.Num(math.Inf(1)))
	base.Set("NaN", interp.Num(math.NaN()))

	return &Runtime{
		log:       logger.With("component", "calc"),
		system:    opts.System,
		empty:     empty,
		base:      base,
		global:    global,
		cb:        nopCallbacks{},
		graphics:  NewGraphics(),
		externals: make(map[string]interp.ExternalFunc),
		ctx:       context.Background(),
	}
}

func (r *Runtime) GlobalEnv() interp.Env { return r.global }
func (r *Runtime) BaseEnv() interp.Env   { return r.base }
func (r *Runtime) EmptyEnv() interp.Env  { return r.empty }

func (r *Runtime) NewEnv(parent interp.Env) interp.Env {
	return interp.NewMapEnv("local", parent)
}

func (r *Runtime) SetCallbacks(cb interp.Callbacks) {
	if cb == nil {
		cb = nopCallbacks{}
	}
	r.cb = cb
}

func (r *Runtime) Register(name string, fn interp.ExternalFunc) {
	r.externals[name] = fn
}

func (r *Runtime) Graphics() interp.Graphics { return r.graphics }

// Engine returns the concrete graphics engine, for setting the default
// device hook.
func (r *Runtime) Engine() *Graphics { return r.graphics }

// Eval evaluates one statement in env.
func (r *Runtime) Eval(e interp.Expr, env interp.Env) (interp.Value, error) {
	st, ok := e.(*statement)
	if !ok {
		return nil, parseErr(e)
	}

	if env.Debug() {
		if _, _, err := r.cb.ReadConsole("Browse[1]> ", false); err != nil {
			return nil, err
		}
	}

	savedErr := r.pendingErr
	r.pendingErr = nil
	defer func() { r.pendingErr = savedErr }()

	vars := flatten(env)
	opts := append([]expr.Option{expr.Env(vars)}, r.functions()...)
	prog, err := expr.Compile(st.body, opts...)
	if err != nil {
		return nil, interp.Errorf("%s", firstLine(err.Error()))
	}

	out, err := expr.Run(prog, vars)
	if r.pendingErr != nil {
		return nil, r.pendingErr
	}
	if err != nil {
		return nil, interp.Errorf("%s", firstLine(err.Error()))
	}

	v := toValue(out)
	if st.target != "" {
		env.Set(st.target, v)
	}
	return v, nil
}

// Visible reports whether the console prints the value of e.
func Visible(e interp.Expr) bool {
	st, ok := e.(*statement)
	return ok && !st.invisible
}

// flatten collects the bindings visible from env, inner scopes winning.
func flatten(env interp.Env) map[string]any {
	var chain []interp.Env
	for e := env; e != nil; e = e.Parent() {
		chain = append(chain, e)
	}
	vars := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		e := chain[i]
		for _, name := range e.Names() {
			var v interp.Value
			if m, ok := e.(*interp.MapEnv); ok {
				v, _ = m.Local(name)
			} else {
				v, _ = e.Get(name)
			}
			vars[name] = toGo(v)
		}
	}
	return vars
}

// fail records err so Eval can return it unwrapped after expr-lang has
// added its own context.
func (r *Runtime) fail(err error) error {
	if r.pendingErr == nil {
		r.pendingErr = classify(err)
	}
	return err
}

// classify keeps host control errors as they are and turns everything else
// into an evaluation error.
func classify(err error) error {
	var ee *interp.EvalError
	switch {
	case errors.As(err, &ee):
		return ee
	case errors.Is(err, interp.ErrInterrupted):
		return err
	case strings.HasPrefix(apperrors.GetCode(err), "protocol."):
		return err
	}
	return interp.Errorf("%s", apperrors.GetMessage(err))
}

// check lets the host run between builtin calls.
func (r *Runtime) check() error {
	if err := r.cb.Callback(); err != nil {
		return r.fail(err)
	}
	return nil
}

// Run is the read-eval-print loop. It returns nil at console EOF and the
// host's error when a callback fails with anything but an interrupt.
func (r *Runtime) Run(ctx context.Context) error {
	r.ctx = ctx
	defer func() { r.ctx = context.Background() }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		exprs, eof, err := r.readStatements()
		if err != nil {
			if errors.Is(err, interp.ErrInterrupted) {
				continue
			}
			return err
		}
		if eof {
			return nil
		}
		if err := r.evalTopLevel(exprs); err != nil {
			return err
		}
	}
}

// readStatements reads lines until they form complete statements.
func (r *Runtime) readStatements() (exprs []interp.Expr, eof bool, err error) {
	var buf strings.Builder
	prompt := "> "
	for {
		line, ok, err := r.cb.ReadConsole(prompt, true)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, true, nil
		}
		buf.WriteString(line)
		buf.WriteString("\n")

		exprs, status, perr := r.Parse(buf.String())
		switch status {
		case interp.ParseIncomplete:
			prompt = "+ "
			continue
		case interp.ParseError:
			r.cb.WriteConsole("Error: "+perr.Error()+"\n", true)
			return nil, false, nil
		}
		return exprs, false, nil
	}
}

func (r *Runtime) evalTopLevel(exprs []interp.Expr) error {
	if len(exprs) == 0 {
		return nil
	}
	r.cb.Busy(true)
	defer r.cb.Busy(false)

	for _, e := range exprs {
		v, err := r.Eval(e, r.global)
		if err != nil {
			var ee *interp.EvalError
			switch {
			case errors.As(err, &ee):
				r.cb.WriteConsole("Error: "+ee.Message+"\n", true)
				continue
			case errors.Is(err, interp.ErrInterrupted):
				return nil
			}
			return err
		}
		if Visible(e) {
			r.cb.WriteConsole(Format(v)+"\n", false)
		}
	}
	return nil
}

// Names lists the global bindings.
func (r *Runtime) Names() []string {
	names := r.global.Names()
	sort.Strings(names)
	return names
}

type nopCallbacks struct{}

func (nopCallbacks) ReadConsole(string, bool) (string, bool, error) { return "", false, nil }
func (nopCallbacks) WriteConsole(string, bool)                      {}
func (nopCallbacks) ShowMessage(string)                             {}
func (nopCallbacks) Ask(interp.MessageBox, string) (interp.Answer, error) {
	return interp.AnswerCancel, nil
}
func (nopCallbacks) Busy(bool)       {}
func (nopCallbacks) Callback() error { return nil }
