package protocol

import (
	"time"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/interp"
	"github.com/statshost/host/internal/wire"
)

// SendRequest writes a request and blocks until its response arrives. While
// waiting it serves queued evals, runs the idle hooks and honours cancels,
// so the peer can keep evaluating while the host asks it something.
func (e *Engine) SendRequest(name string, args ...any) (*wire.Message, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}

	id := e.nextID()
	req, err := wire.New(id, wire.RequestMarker, name, args)
	if err != nil {
		return nil, err
	}

	e.slotMu.Lock()
	old := e.slot
	e.slot = slotExpected
	e.slotMu.Unlock()

	if err := e.write(req); err != nil {
		e.abandon(id, old)
		return nil, err
	}

	var resp *wire.Message
	for resp == nil {
		if err := e.HandlePendingEvals(); err != nil {
			e.abandon(id, old)
			return nil, err
		}

		e.slotMu.Lock()
		state := e.slot
		if state == slotReceived {
			resp = e.slotMsg
			e.slotMsg = nil
			e.slot = old
		}
		e.slotMu.Unlock()

		if state == slotUnexpected {
			err := apperrors.Violation("response slot cleared while waiting for %s", name)
			e.Fail(err)
			return nil, err
		}
		if resp != nil {
			break
		}

		if err := e.checkAlive(); err != nil {
			e.abandon(id, old)
			return nil, err
		}
		e.waitForEvent()
		if e.QueryInterrupt() {
			e.abandon(id, old)
			return nil, interp.ErrInterrupted
		}
	}

	// Evals the peer sent before answering are handled before the caller
	// sees the response.
	if err := e.HandlePendingEvals(); err != nil {
		return nil, err
	}

	if resp.RequestID != id {
		err := apperrors.Violation("response %s does not answer request #%d", resp, id)
		e.Fail(err)
		return nil, err
	}
	if len(resp.Name) < 1 || resp.Name[1:] != name[1:] {
		err := apperrors.Violation("response %s does not match request %s", resp, name)
		e.Fail(err)
		return nil, err
	}
	return resp, nil
}

// abandon restores the slot after a request that will not be waited for.
// A response that already arrived is discarded; a later one is dropped on
// arrival.
func (e *Engine) abandon(id uint64, old slotState) {
	e.slotMu.Lock()
	defer e.slotMu.Unlock()
	if e.slot == slotReceived {
		e.slotMsg = nil
	} else {
		e.abandoned[id] = struct{}{}
	}
	e.slot = old
}

func (e *Engine) waitForEvent() {
	timer := time.NewTimer(e.poll)
	defer timer.Stop()
	select {
	case <-e.wake:
	case <-e.closed:
	case <-timer.C:
	}
	for _, h := range e.idleHooks {
		h()
	}
}

// Idle blocks for at most one poll interval, running the idle hooks. The
// top-level loop uses it when it has nothing to read.
func (e *Engine) Idle() error {
	if err := e.HandlePendingEvals(); err != nil {
		return err
	}
	if err := e.checkAlive(); err != nil {
		return err
	}
	e.waitForEvent()
	return nil
}

// HandlePendingEvals runs queued evals in arrival order.
func (e *Engine) HandlePendingEvals() error {
	for {
		e.queueMu.Lock()
		if len(e.queue) == 0 {
			e.queueMu.Unlock()
			return nil
		}
		msg := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.queueMu.Unlock()

		if err := e.HandleEval(msg); err != nil {
			return err
		}
	}
}
