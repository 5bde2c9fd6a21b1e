// Package transport moves wire frames between the host and its single peer.
//
// Every variant satisfies Conn: a WebSocket connection (text frames carry the
// JSON envelope, binary frames carry blobs), a length-prefixed byte stream
// for pipes and stdio, and an in-memory pair for tests.
package transport

import (
	apperrors "github.com/statshost/host/internal/errors"
	"github.com/statshost/host/internal/wire"
)

// Conn is a duplex frame channel to the peer. ReadFrame is called from a
// single goroutine; WriteFrames may be called concurrently and writes each
// group of frames without interleaving.
type Conn interface {
	wire.FrameReader
	wire.FrameWriter
	Close() error
}

// ErrClosed is returned by operations on a closed connection.
var ErrClosed error = apperrors.New(apperrors.CodeTransportClosed, "connection closed")

// ProtocolHeader carries the client's protocol version on the WebSocket
// handshake. The "protocol" query parameter is accepted as a fallback.
const ProtocolHeader = "X-Statshost-Protocol"
