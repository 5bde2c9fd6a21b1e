package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/wire"
)

// MaxFrameSize bounds a single stream frame.
const MaxFrameSize = 256 << 20

// StreamConn frames messages over a byte stream. Each frame is a
// little-endian uint32 payload length, one kind byte, then the payload.
type StreamConn struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer

	wmu       sync.Mutex
	closeOnce sync.Once
}

// NewStreamConn wraps r and w. closer, if non-nil, is closed by Close.
func NewStreamConn(r io.Reader, w io.Writer, closer io.Closer) *StreamConn {
	return &StreamConn{r: bufio.NewReaderSize(r, 64*1024), w: w, closer: closer}
}

// ReadFrame reads the next frame. io.EOF means the peer closed the stream.
func (c *StreamConn) ReadFrame() (wire.Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return wire.Frame{}, io.EOF
		}
		return wire.Frame{}, err
	}

	n := binary.LittleEndian.Uint32(hdr[:4])
	if n > MaxFrameSize {
		return wire.Frame{}, apperrors.New(apperrors.CodeTransportFrameTooLarge, fmt.Sprintf("frame of %d bytes", n))
	}
	kind := wire.FrameKind(hdr[4])
	if kind != wire.FrameJSON && kind != wire.FrameBlob {
		return wire.Frame{}, apperrors.Violation("unknown frame kind %d", hdr[4])
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(c.r, data); err != nil {
		if err == io.ErrUnexpectedEOF {
			return wire.Frame{}, io.EOF
		}
		return wire.Frame{}, err
	}
	return wire.Frame{Kind: kind, Data: data}, nil
}

// WriteFrames writes frames back to back under one lock.
func (c *StreamConn) WriteFrames(frames ...wire.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	bw := bufio.NewWriter(c.w)
	for _, f := range frames {
		if len(f.Data) > MaxFrameSize {
			return apperrors.New(apperrors.CodeTransportFrameTooLarge, fmt.Sprintf("frame of %d bytes", len(f.Data)))
		}
		var hdr [5]byte
		binary.LittleEndian.PutUint32(hdr[:4], uint32(len(f.Data)))
		hdr[4] = byte(f.Kind)
		if _, err := bw.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := bw.Write(f.Data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Close closes the underlying closer once.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}
