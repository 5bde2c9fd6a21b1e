package protocol

import (
	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/interp"
	"github.com/statshost/host/internal/wire"
)

// HandleCancel applies a !/ [id|null] or !// message. A null id or !//
// targets the sentinel frame, cancelling everything. Ids not on the stack
// belong to evals that already finished and are ignored.
func (e *Engine) HandleCancel(msg *wire.Message) error {
	target := ""
	if msg.Name == "!//" && len(msg.Args) != 0 {
		return apperrors.Violation("cancel-all takes no arguments, got %d", len(msg.Args))
	}
	if msg.Name == "!/" {
		if len(msg.Args) != 1 {
			return apperrors.Violation("cancel takes one argument, got %d", len(msg.Args))
		}
		if !msg.IsNullArg(0) {
			if err := msg.Arg(0, &target); err != nil {
				return apperrors.Wrap(apperrors.CodeProtocolViolation, "cancel target must be a string or null", err)
			}
			if target == "" {
				return apperrors.Violation("cancel target must not be empty")
			}
		}
	}

	e.stackMu.Lock()
	found := false
	for _, f := range e.stack {
		// A cancellation already running at or below this point covers it.
		if e.cancelling && f.ID == e.cancelTarget {
			found = true
			break
		}
		if f.ID == target {
			e.cancelling = true
			e.cancelTarget = target
			found = true
			break
		}
	}
	e.stackMu.Unlock()

	if !found {
		e.log.Debug("late cancel ignored", "target", target)
		e.metrics.Cancel("late")
		return nil
	}
	e.metrics.Cancel("targeted")
	e.Wake()
	return nil
}

// QueryInterrupt reports whether the running code should be interrupted:
// a cancellation is active and every frame from its target to the top of
// the stack is cancelable.
func (e *Engine) QueryInterrupt() bool {
	e.stackMu.Lock()
	defer e.stackMu.Unlock()
	if !e.cancelling {
		return false
	}
	from := 0
	for i := len(e.stack) - 1; i >= 0; i-- {
		if e.stack[i].ID == e.cancelTarget {
			from = i
			break
		}
	}
	for _, f := range e.stack[from:] {
		if !f.Cancelable {
			return false
		}
	}
	return true
}

// Callback is called by the runtime periodically during evaluation. It
// returns interp.ErrInterrupted once per cancellation, and runs queued
// evals when the current eval allows nested callbacks.
func (e *Engine) Callback() error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	e.Touch()
	for _, h := range e.callbackHooks {
		h()
	}
	if !e.interruptRaised && e.QueryInterrupt() {
		e.interruptRaised = true
		return interp.ErrInterrupted
	}
	if e.allowCallbacks {
		return e.HandlePendingEvals()
	}
	return nil
}

// EnterTopLevel is called when the REPL is about to prompt. A finished
// global cancel is acknowledged with !CanceledAll.
func (e *Engine) EnterTopLevel() {
	e.interruptRaised = false

	e.stackMu.Lock()
	done := len(e.stack) == 1 && e.cancelling && e.cancelTarget == ""
	if done {
		e.cancelling = false
	}
	e.stackMu.Unlock()

	if done {
		if _, err := e.SendNotification("!CanceledAll", nil); err != nil {
			e.log.Debug("!CanceledAll not sent", "error", err)
		}
	}
}
