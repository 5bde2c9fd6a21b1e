package transport

import (
	"io"
	"os"
	"sync"

	"github.com/statshost/host/internal/wire"
)

// OpenPipe frames messages over the process's stdin and stdout as they are.
func OpenPipe() *StreamConn {
	return NewStreamConn(os.Stdin, os.Stdout, nil)
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// memConn is one end of an in-memory connection.
type memConn struct {
	in   chan wire.Frame
	out  chan wire.Frame
	wmu  *sync.Mutex
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory Conns. Closing either end closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan wire.Frame, 256)
	ba := make(chan wire.Frame, 256)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &memConn{in: ba, out: ab, wmu: &sync.Mutex{}, done: done, once: once}
	b := &memConn{in: ab, out: ba, wmu: &sync.Mutex{}, done: done, once: once}
	return a, b
}

func (c *memConn) ReadFrame() (wire.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		// Drain what was written before the close.
		select {
		case f := <-c.in:
			return f, nil
		default:
			return wire.Frame{}, io.EOF
		}
	}
}

func (c *memConn) WriteFrames(frames ...wire.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for _, f := range frames {
		select {
		case <-c.done:
			return ErrClosed
		default:
		}
		select {
		case c.out <- f:
		case <-c.done:
			return ErrClosed
		}
	}
	return nil
}

func (c *memConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
