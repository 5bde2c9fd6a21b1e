package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/statshost/host/internal/wire"
)

const (
	writeWait    = 10 * time.Second
	maxReadBytes = 64 << 20
)

// WSConn carries frames over a WebSocket: text messages are JSON
// envelopes, binary messages are blobs. A ping goes out every heartbeat
// interval; the connection is declared dead when no pong arrives within
// two intervals.
type WSConn struct {
	conn      *websocket.Conn
	heartbeat time.Duration
	log       *slog.Logger

	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewWSConn wraps an established WebSocket and starts its heartbeat.
// A zero heartbeat disables pings and read deadlines.
func NewWSConn(conn *websocket.Conn, heartbeat time.Duration, logger *slog.Logger) *WSConn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &WSConn{
		conn:      conn,
		heartbeat: heartbeat,
		log:       logger.With("component", "transport"),
		done:      make(chan struct{}),
	}

	conn.SetReadLimit(maxReadBytes)
	if heartbeat > 0 {
		conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		})
		go c.pingLoop()
	}
	return c
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wmu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.wmu.Unlock()
			if err != nil {
				c.log.Warn("heartbeat ping failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// ReadFrame blocks until the next data message arrives.
func (c *WSConn) ReadFrame() (wire.Frame, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("connection lost", "error", err)
			}
			return wire.Frame{}, err
		}
		switch mt {
		case websocket.TextMessage:
			return wire.Frame{Kind: wire.FrameJSON, Data: data}, nil
		case websocket.BinaryMessage:
			return wire.Frame{Kind: wire.FrameBlob, Data: data}, nil
		}
	}
}

// WriteFrames sends frames as consecutive WebSocket messages.
func (c *WSConn) WriteFrames(frames ...wire.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	for _, f := range frames {
		mt := websocket.TextMessage
		if f.Kind == wire.FrameBlob {
			mt = websocket.BinaryMessage
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(mt, f.Data); err != nil {
			return err
		}
	}
	return nil
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}
