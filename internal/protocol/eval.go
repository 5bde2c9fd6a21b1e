package protocol

import (
	"time"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/eval"
	"github.com/statshost/host/internal/interp"
	"github.com/statshost/host/internal/wire"
)

// HandleEval runs one eval request and answers it. It returns
// interp.ErrInterrupted when a cancel aimed below this eval is still
// unwinding, and a violation for a malformed request.
func (e *Engine) HandleEval(msg *wire.Message) error {
	if !msg.IsRequest() {
		err := apperrors.Violation("eval %s must be a request", msg)
		e.Fail(err)
		return err
	}
	var expr string
	if len(msg.Args) != 1 {
		err := apperrors.Violation("eval %s takes exactly one argument, got %d", msg, len(msg.Args))
		e.Fail(err)
		return err
	}
	if err := msg.Arg(0, &expr); err != nil {
		err = apperrors.Wrap(apperrors.CodeProtocolViolation, "eval expression must be a string", err)
		e.Fail(err)
		return err
	}
	id := wire.FormatID(msg.ID)
	req, err := eval.NewRequest(id, msg.Name[2:], expr)
	if err != nil {
		e.Fail(err)
		return err
	}

	prevAllow := e.allowCallbacks
	e.allowCallbacks = req.Flags.Has(eval.FlagReentrant)
	defer func() { e.allowCallbacks = prevAllow }()

	cancelable := req.Flags.Has(eval.FlagCancelable)
	inFrame := false
	before := func() {
		e.pushFrame(Frame{ID: id, Cancelable: cancelable})
		inFrame = true
	}
	after := func() {
		if !inFrame {
			return
		}
		e.popFrame(id)
		inFrame = false
	}

	start := time.Now()
	res := e.eval.Evaluate(req, before, after)
	after()
	e.interruptRaised = false

	var args []any
	var blobs [][]byte
	outcome := "ok"
	if res.Canceled {
		outcome = "canceled"
		args = []any{nil}
	} else {
		var errText any
		if res.Err != nil {
			outcome = "error"
			errText = res.Err.Error()
		}
		value, blob, encErr := e.eval.Encode(res, req.Flags)
		if encErr != nil {
			e.log.Debug("eval result not encodable", "id", id, "error", encErr)
			value, blob = nil, nil
			if errText == nil {
				outcome = "error"
				errText = apperrors.GetMessage(encErr)
			}
		}
		args = []any{res.Status.String(), errText, value}
		if blob != nil {
			blobs = append(blobs, blob)
		}
	}
	e.metrics.EvalDone(outcome, time.Since(start))

	if err := e.respond(msg, args, blobs...); err != nil {
		e.log.Debug("eval response not sent", "id", id, "error", err)
	}

	if e.QueryInterrupt() {
		e.interruptRaised = true
		return interp.ErrInterrupted
	}
	return nil
}

func (e *Engine) pushFrame(f Frame) {
	e.stackMu.Lock()
	e.stack = append(e.stack, f)
	depth := len(e.stack)
	e.stackMu.Unlock()
	e.metrics.StackDepth(depth)
}

// popFrame removes the frame for id and everything above it, and ends the
// cancellation if id was its target.
func (e *Engine) popFrame(id string) {
	e.stackMu.Lock()
	i := len(e.stack) - 1
	for i > 0 && e.stack[i].ID != id {
		i--
	}
	if i == 0 {
		e.stackMu.Unlock()
		e.log.Error("eval frame missing from stack", "id", id)
		return
	}
	if i != len(e.stack)-1 {
		e.log.Error("eval frames left above finished eval", "id", id, "extra", len(e.stack)-1-i)
	}
	e.stack = e.stack[:i]
	if e.cancelling && e.cancelTarget == id {
		e.cancelling = false
		e.cancelTarget = ""
	}
	depth := len(e.stack)
	e.stackMu.Unlock()
	e.metrics.StackDepth(depth)
}

// Stack returns a copy of the eval frame stack, sentinel first.
func (e *Engine) Stack() []Frame {
	e.stackMu.Lock()
	defer e.stackMu.Unlock()
	return append([]Frame(nil), e.stack...)
}

// CanBlock reports whether a blocking prompt may be sent to the peer: at the
// top level, or inside an eval that allows nested callbacks.
func (e *Engine) CanBlock() bool {
	e.stackMu.Lock()
	depth := len(e.stack)
	e.stackMu.Unlock()
	return depth == 1 || e.allowCallbacks
}
