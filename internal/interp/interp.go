// Package interp defines the boundary between the host and the embedded
// interpreter runtime: values, environments, the evaluation entry points,
// the console callbacks the runtime calls back into, and the graphics
// engine that owns per-device display lists.
package interp

import (
	"context"
	"errors"
	"fmt"

	"github.com/statshost/host/internal/gd"
)

// ErrInterrupted is the cancellation unwind. The runtime must return it
// unchanged from Eval and Run whenever a callback returned it, so that the
// frame that owns the evaluation can absorb it.
var ErrInterrupted = errors.New("interrupted")

// ParseStatus is the outcome of parsing an expression string.
type ParseStatus int

const (
	ParseNull ParseStatus = iota
	ParseOK
	ParseIncomplete
	ParseError
	ParseEOF
)

func (s ParseStatus) String() string {
	switch s {
	case ParseNull:
		return "NULL"
	case ParseOK:
		return "OK"
	case ParseIncomplete:
		return "INCOMPLETE"
	case ParseError:
		return "ERROR"
	case ParseEOF:
		return "EOF"
	}
	return fmt.Sprintf("ParseStatus(%d)", int(s))
}

// EvalError is an error raised by evaluated code.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string { return e.Message }

// Errorf builds an EvalError.
func Errorf(format string, args ...any) *EvalError {
	return &EvalError{Message: fmt.Sprintf(format, args...)}
}

// Expr is one parsed top-level statement.
type Expr interface {
	Source() string
}

// ExternalFunc is a host function callable from evaluated code.
type ExternalFunc func(args []Value) (Value, error)

// Runtime is the embedded interpreter.
type Runtime interface {
	// Parse splits text into statements. A ParseError status comes with a
	// non-nil error describing it.
	Parse(text string) ([]Expr, ParseStatus, error)
	// Eval evaluates one statement in env.
	Eval(expr Expr, env Env) (Value, error)

	GlobalEnv() Env
	BaseEnv() Env
	EmptyEnv() Env
	NewEnv(parent Env) Env

	// SetCallbacks installs the host side of the console ABI. It must be
	// called before Run or Eval.
	SetCallbacks(cb Callbacks)
	// Register exposes fn to evaluated code under name.
	Register(name string, fn ExternalFunc)
	// Run is the read-eval-print loop. It returns nil on console EOF.
	Run(ctx context.Context) error

	Graphics() Graphics
}

// WorkspaceSaver is implemented by runtimes that can persist their globals.
type WorkspaceSaver interface {
	SaveWorkspace(path string) error
}

// WorkspaceLoader is implemented by runtimes that can restore saved globals.
type WorkspaceLoader interface {
	LoadWorkspace(path string) error
}

// Answer is the reply to a message box.
type Answer int

const (
	AnswerNo Answer = iota
	AnswerYes
	AnswerCancel
	AnswerOK
)

// MessageBox selects the buttons shown for a question.
type MessageBox int

const (
	BoxYesNo MessageBox = iota
	BoxYesNoCancel
	BoxOKCancel
)

// Callbacks is what the runtime calls into the host for.
type Callbacks interface {
	// ReadConsole reads one line of input. ok is false on EOF.
	ReadConsole(prompt string, addToHistory bool) (line string, ok bool, err error)
	WriteConsole(text string, isError bool)
	ShowMessage(text string)
	Ask(box MessageBox, text string) (Answer, error)
	Busy(busy bool)
	// Callback is called periodically during evaluation. A non-nil error
	// must abort evaluation and be returned from Eval as is.
	Callback() error
}

// Graphics is the runtime's graphics engine. It records a display list for
// every registered device and can replay or snapshot it.
type Graphics interface {
	// AddDevice registers d and makes it current. The returned device
	// number is 1-based.
	AddDevice(d gd.Device) int
	// RemoveDevice unregisters d. Its display list is dropped.
	RemoveDevice(d gd.Device)
	// DeviceNumber returns the 1-based number of d, or 0.
	DeviceNumber(d gd.Device) int
	CurrentDevice() gd.Device
	SelectDevice(d gd.Device)

	// PlayDisplayList replays d's display list into d.
	PlayDisplayList(d gd.Device) error
	// CopyDisplayList replays from's display list into to. The display list
	// of to, if any, is left unchanged.
	CopyDisplayList(from, to gd.Device) error
	// CreateSnapshot captures d's display list.
	CreateSnapshot(d gd.Device) (*Protected, error)
	// PlaySnapshot makes the captured list d's display list and replays it.
	PlaySnapshot(snapshot *Protected, d gd.Device) error
}
