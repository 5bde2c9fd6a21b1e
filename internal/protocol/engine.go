// Package protocol runs the host side of the message exchange with the IDE.
//
// The Engine owns every piece of per-connection state: the eval queue, the
// eval frame stack with its cancellation target, and the single response
// slot used by blocking requests. The transport goroutine only calls
// Deliver. Everything else runs on the interpreter goroutine, which may
// re-enter the engine through SendRequest and Callback while evaluations
// are nested.
package protocol

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/eval"
	"github.com/statshost/host/internal/metrics"
	"github.com/statshost/host/internal/transport"
	"github.com/statshost/host/internal/wire"
)

// Version is the protocol version announced in the !Host handshake.
const Version = "1.0.0"

// DefaultPollInterval bounds how long a wait loop sleeps before running the
// idle hooks again.
const DefaultPollInterval = 50 * time.Millisecond

var (
	// ErrDisconnected is returned by wait loops once the peer is gone.
	ErrDisconnected = apperrors.New(apperrors.CodeProtocolDisconnected, "peer disconnected")
	// ErrShutdown is returned by wait loops once the peer asked to shut down.
	ErrShutdown = apperrors.New(apperrors.CodeProtocolShutdown, "shutdown requested")
)

// Evaluator runs eval requests. *eval.Bridge implements it.
type Evaluator interface {
	Evaluate(req *eval.Request, before, after func()) eval.Result
	Encode(res eval.Result, flags eval.Flags) (value any, blob []byte, err error)
}

// Handler processes a request or notification on the transport goroutine.
// A returned error is a protocol violation.
type Handler func(msg *wire.Message) error

// Frame is one entry of the eval stack.
type Frame struct {
	ID         string
	Cancelable bool
}

type slotState int

const (
	slotUnexpected slotState = iota
	slotExpected
	slotReceived
)

// Options configures an Engine.
type Options struct {
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	PollInterval time.Duration
}

// Engine is the protocol state of one connection.
type Engine struct {
	conn    transport.Conn
	eval    Evaluator
	log     *slog.Logger
	metrics *metrics.Metrics
	poll    time.Duration

	lastID       atomic.Uint64
	lastActivity atomic.Int64

	slotMu    sync.Mutex
	slot      slotState
	slotMsg   *wire.Message
	abandoned map[uint64]struct{}

	queueMu sync.Mutex
	queue   []*wire.Message

	stackMu      sync.Mutex
	stack        []Frame
	cancelling   bool
	cancelTarget string

	handlers map[string]Handler

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	fatalErr  error

	shutdown     atomic.Bool
	shutdownSave atomic.Bool

	// Interpreter goroutine only.
	allowCallbacks  bool
	interruptRaised bool
	callbackHooks   []func()
	idleHooks       []func()
}

// New creates an Engine on conn. Handlers and hooks must be registered
// before Serve is started.
func New(conn transport.Conn, ev Evaluator, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	e := &Engine{
		conn:      conn,
		eval:      ev,
		log:       logger.With("component", "protocol"),
		metrics:   opts.Metrics,
		poll:      poll,
		abandoned: make(map[uint64]struct{}),
		stack:     []Frame{{ID: "", Cancelable: true}},
		handlers:  make(map[string]Handler),
		wake:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
		// Top-level code runs queued evals from its callbacks; a
		// non-reentrant eval turns this off for its duration.
		allowCallbacks: true,
	}
	e.Touch()
	return e
}

// Handle registers h for messages named name.
func (e *Engine) Handle(name string, h Handler) {
	e.handlers[name] = h
}

// OnCallback adds a hook run by every Callback.
func (e *Engine) OnCallback(f func()) {
	e.callbackHooks = append(e.callbackHooks, f)
}

// OnIdle adds a hook run each time a wait loop wakes up.
func (e *Engine) OnIdle(f func()) {
	e.idleHooks = append(e.idleHooks, f)
}

// Serve reads messages until the connection ends. It returns nil on a clean
// disconnect and the violation when the peer broke the protocol.
func (e *Engine) Serve() error {
	for {
		msg, err := wire.Read(e.conn)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeProtocolViolation) {
				e.Fail(err)
				return err
			}
			e.disconnect(err)
			return nil
		}
		if err := e.Deliver(msg); err != nil {
			e.Fail(err)
			return err
		}
	}
}

// Deliver dispatches one incoming message. It runs on the transport
// goroutine and never blocks on the interpreter.
func (e *Engine) Deliver(msg *wire.Message) error {
	e.metrics.MessageReceived(msg.Name)
	e.Touch()

	switch {
	case msg.Name == "!/" || msg.Name == "!//":
		return e.HandleCancel(msg)
	case strings.HasPrefix(msg.Name, "?="):
		e.queueMu.Lock()
		e.queue = append(e.queue, msg)
		e.queueMu.Unlock()
		e.Wake()
		return nil
	case msg.IsResponse():
		return e.receiveResponse(msg)
	}
	if h, ok := e.handlers[msg.Name]; ok {
		return h(msg)
	}
	return apperrors.Violation("unrecognized message %s", msg)
}

func (e *Engine) receiveResponse(msg *wire.Message) error {
	e.slotMu.Lock()
	if _, ok := e.abandoned[msg.RequestID]; ok {
		delete(e.abandoned, msg.RequestID)
		e.slotMu.Unlock()
		e.log.Debug("dropping response to abandoned request", "message", msg.String())
		return nil
	}
	if e.slot != slotExpected {
		e.slotMu.Unlock()
		return apperrors.Violation("response %s arrived while none was expected", msg)
	}
	e.slot = slotReceived
	e.slotMsg = msg
	e.slotMu.Unlock()
	e.Wake()
	return nil
}

// Wake interrupts a sleeping wait loop.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) nextID() uint64 {
	return e.lastID.Add(2)
}

// SendNotification writes a fire-and-forget message and returns its id.
func (e *Engine) SendNotification(name string, args []any, blobs ...[]byte) (uint64, error) {
	id := e.nextID()
	m, err := wire.New(id, 0, name, args, blobs...)
	if err != nil {
		return 0, err
	}
	return id, e.write(m)
}

func (e *Engine) respond(req *wire.Message, args []any, blobs ...[]byte) error {
	m, err := wire.New(e.nextID(), req.ID, wire.ResponseName(req.Name), args, blobs...)
	if err != nil {
		return err
	}
	return e.write(m)
}

// Respond answers a request received by a Handler.
func (e *Engine) Respond(req *wire.Message, args []any, blobs ...[]byte) error {
	return e.respond(req, args, blobs...)
}

func (e *Engine) write(m *wire.Message) error {
	select {
	case <-e.closed:
		return ErrDisconnected
	default:
	}
	if err := wire.Write(e.conn, m); err != nil {
		e.disconnect(err)
		return apperrors.Wrap(apperrors.CodeProtocolDisconnected, "write "+m.Name, err)
	}
	e.metrics.MessageSent(m.Name)
	return nil
}

// Fail records a fatal error and closes the connection. Only the first
// error is kept.
func (e *Engine) Fail(err error) {
	e.errMu.Lock()
	first := e.fatalErr == nil
	if first {
		e.fatalErr = err
	}
	e.errMu.Unlock()
	if first {
		e.log.Error("fatal protocol error", "error", err)
	}
	e.closeConn()
}

// Err returns the fatal error, if any.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.fatalErr
}

func (e *Engine) disconnect(cause error) {
	select {
	case <-e.closed:
		return
	default:
	}
	if errors.Is(cause, transport.ErrClosed) {
		e.log.Info("connection closed")
	} else {
		e.log.Info("peer disconnected", "cause", cause)
	}
	e.closeConn()
}

func (e *Engine) closeConn() {
	e.closeOnce.Do(func() {
		close(e.closed)
		if err := e.conn.Close(); err != nil {
			e.log.Debug("close connection", "error", err)
		}
	})
	e.Wake()
}

// Close closes the connection. Wait loops return ErrDisconnected.
func (e *Engine) Close() error {
	e.closeConn()
	return nil
}

// Done is closed once the connection is gone.
func (e *Engine) Done() <-chan struct{} {
	return e.closed
}

// RequestShutdown makes every wait loop and Callback return ErrShutdown.
func (e *Engine) RequestShutdown(save bool) {
	if save {
		e.shutdownSave.Store(true)
	}
	if !e.shutdown.Swap(true) {
		e.log.Info("shutdown requested", "save", save)
	}
	e.Wake()
}

// ShutdownRequested reports whether shutdown was requested and whether the
// workspace should be saved.
func (e *Engine) ShutdownRequested() (requested, save bool) {
	return e.shutdown.Load(), e.shutdownSave.Load()
}

// checkAlive returns the error a wait loop must stop with, if any.
func (e *Engine) checkAlive() error {
	if err := e.Err(); err != nil {
		return err
	}
	if e.shutdown.Load() {
		return ErrShutdown
	}
	select {
	case <-e.closed:
		return ErrDisconnected
	default:
	}
	return nil
}

// Touch resets the idle timer.
func (e *Engine) Touch() {
	e.lastActivity.Store(time.Now().UnixNano())
}

// IdleFor reports how long the engine has seen no activity.
func (e *Engine) IdleFor() time.Duration {
	return time.Since(time.Unix(0, e.lastActivity.Load()))
}
