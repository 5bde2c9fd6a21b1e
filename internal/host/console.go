package host

import (
	"log/slog"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/interp"
	"github.com/statshost/host/internal/plot"
	"github.com/statshost/host/internal/protocol"
)

// ConsoleBufferLen is the input buffer size announced with every ?> prompt.
// A line must be strictly shorter.
const ConsoleBufferLen = 4096

// RetryBufferOverflow is the retry reason sent when a line did not fit.
const RetryBufferOverflow = "BUFFER_OVERFLOW"

// console implements interp.Callbacks on top of the engine.
type console struct {
	engine *protocol.Engine
	plots  *plot.Manager
	log    *slog.Logger
}

var _ interp.Callbacks = (*console)(nil)

func errBlocked(what string) error {
	return apperrors.New(apperrors.CodeEvalBlocked, what+": blocking callback not allowed during evaluation")
}

// contexts lists the ids of the running evals, innermost first.
func (c *console) contexts() []string {
	stack := c.engine.Stack()
	ids := make([]string, 0, len(stack)-1)
	for i := len(stack) - 1; i > 0; i-- {
		ids = append(ids, stack[i].ID)
	}
	return ids
}

func (c *console) ReadConsole(prompt string, addToHistory bool) (string, bool, error) {
	if !c.engine.CanBlock() {
		return "", false, errBlocked("ReadConsole")
	}
	if len(c.engine.Stack()) == 1 {
		c.engine.EnterTopLevel()
	}
	// Whatever the last statement drew goes out before the prompt.
	c.plots.RenderPending(true)

	var retry any
	for {
		resp, err := c.engine.SendRequest("?>", c.contexts(), ConsoleBufferLen, addToHistory, retry, prompt)
		if err != nil {
			return "", false, err
		}
		if len(resp.Args) != 1 {
			return "", false, c.violation("ReadConsole: response must have a single argument, got %d", len(resp.Args))
		}
		if resp.IsNullArg(0) {
			return "", false, nil
		}
		var line string
		if err := resp.Arg(0, &line); err != nil {
			return "", false, c.violation("ReadConsole: response argument must be string or null")
		}
		if len(line) >= ConsoleBufferLen {
			c.log.Debug("console input too long, asking again", "len", len(line))
			retry = RetryBufferOverflow
			continue
		}
		return line, true, nil
	}
}

func (c *console) WriteConsole(text string, isError bool) {
	name := "!"
	if isError {
		name = "!!"
	}
	c.notify(name, text)
}

func (c *console) ShowMessage(text string) {
	c.notify("!ShowMessage", text)
}

func (c *console) Busy(busy bool) {
	if busy {
		c.notify("!+")
	} else {
		c.notify("!-")
	}
}

func (c *console) notify(name string, args ...any) {
	if _, err := c.engine.SendNotification(name, args); err != nil {
		c.log.Debug("notification not sent", "name", name, "error", err)
	}
}

var boxRequests = map[interp.MessageBox]string{
	interp.BoxYesNo:       "?YesNo",
	interp.BoxYesNoCancel: "?YesNoCancel",
	interp.BoxOKCancel:    "?OkCancel",
}

func (c *console) Ask(box interp.MessageBox, text string) (interp.Answer, error) {
	name, ok := boxRequests[box]
	if !ok {
		return interp.AnswerCancel, apperrors.New(apperrors.CodeInternal, "unknown message box")
	}
	if !c.engine.CanBlock() {
		return interp.AnswerCancel, errBlocked(name[1:])
	}

	resp, err := c.engine.SendRequest(name, c.contexts(), text)
	if err != nil {
		return interp.AnswerCancel, err
	}
	var answer string
	if len(resp.Args) != 1 || resp.Arg(0, &answer) != nil {
		return interp.AnswerCancel, c.violation("%s: response argument must be a string", name[1:])
	}
	switch answer {
	case "Y":
		return interp.AnswerYes, nil
	case "N":
		return interp.AnswerNo, nil
	case "C":
		return interp.AnswerCancel, nil
	case "O":
		return interp.AnswerOK, nil
	}
	return interp.AnswerCancel, c.violation("%s: unknown answer %q", name[1:], answer)
}

func (c *console) Callback() error {
	return c.engine.Callback()
}

func (c *console) violation(format string, args ...any) error {
	err := apperrors.Violation(format, args...)
	c.engine.Fail(err)
	return err
}
