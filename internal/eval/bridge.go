package eval

import (
	"errors"
	"log/slog"

	"github.com/statshost/host/internal/interp"
)

// Result is the outcome of one eval request.
type Result struct {
	Status interp.ParseStatus
	// Err is the parse error or the error raised by the last statement.
	Err error
	// Value is the value of the last statement, nil if there is none.
	Value interp.Value
	// Canceled is set when evaluation was unwound by an interrupt.
	Canceled bool
}

// Bridge evaluates requests against a runtime.
type Bridge struct {
	rt  interp.Runtime
	log *slog.Logger
}

// NewBridge creates a Bridge for rt.
func NewBridge(rt interp.Runtime, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{rt: rt, log: logger.With("component", "eval")}
}

// Evaluate parses req.Expr and evaluates every statement in order. before
// runs ahead of each statement and after once it completes; after is not
// called for a statement that was interrupted, the caller owns that
// cleanup. Only the last statement's value or error is reported.
func (b *Bridge) Evaluate(req *Request, before, after func()) Result {
	env := b.selectEnv(req.Flags)

	// A debug flag on the target environment would start a browser prompt
	// in the middle of the exchange.
	if env.Debug() {
		env.SetDebug(false)
		defer env.SetDebug(true)
	}

	exprs, status, err := b.rt.Parse(req.Expr)
	res := Result{Status: status}
	if status != interp.ParseOK {
		if status == interp.ParseError {
			if err == nil {
				err = interp.Errorf("parse error")
			}
			res.Err = err
		}
		return res
	}

	for _, e := range exprs {
		before()
		v, err := b.rt.Eval(e, env)
		if errors.Is(err, interp.ErrInterrupted) {
			b.log.Debug("evaluation interrupted", "id", req.ID)
			res.Canceled = true
			res.Value = nil
			res.Err = nil
			return res
		}
		after()
		res.Value, res.Err = v, err
		if err != nil {
			res.Value = nil
		}
	}
	return res
}

func (b *Bridge) selectEnv(f Flags) interp.Env {
	env := b.rt.GlobalEnv()
	switch {
	case f.Has(FlagBaseEnv):
		env = b.rt.BaseEnv()
	case f.Has(FlagEmptyEnv):
		env = b.rt.EmptyEnv()
	}
	if f.Has(FlagNewEnv) {
		env = b.rt.NewEnv(env)
	}
	return env
}

// Encode projects the result value for the response. In raw mode the value
// is returned as a blob and the JSON value is nil.
func (b *Bridge) Encode(res Result, flags Flags) (value any, blob []byte, err error) {
	if res.Value == nil || flags.Has(FlagNoResult) {
		return nil, nil, nil
	}
	if flags.Has(FlagRaw) {
		blob, err = ToBlob(res.Value)
		return nil, blob, err
	}
	value, err = ToJSON(res.Value)
	return value, nil, err
}
