// Package wire implements the host's message envelope.
//
// A message is a JSON array whose first element is a header
// [id, name, blob_count] (requests and notifications) or
// [id, name, blob_count, request_id] (responses), followed by the
// arguments. blob_count binary frames follow the JSON frame.
package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RequestMarker is the RequestID of a message that expects a response.
const RequestMarker uint64 = math.MaxUint64

// Name prefixes.
const (
	PrefixRequest      = '?'
	PrefixNotification = '!'
	PrefixResponse     = ':'
)

// Message is one protocol message.
type Message struct {
	ID        uint64
	RequestID uint64 // 0: notification, RequestMarker: request, otherwise: response to
	Name      string
	Args      []json.RawMessage
	Blobs     [][]byte
}

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool { return m.RequestID == RequestMarker }

// IsNotification reports whether the message is fire-and-forget.
func (m *Message) IsNotification() bool { return m.RequestID == 0 }

// IsResponse reports whether the message answers an earlier request.
func (m *Message) IsResponse() bool { return !m.IsRequest() && !m.IsNotification() }

// New builds a message, JSON-encoding each argument.
func New(id, requestID uint64, name string, args []any, blobs ...[]byte) (*Message, error) {
	if name == "" {
		return nil, fmt.Errorf("message name must not be empty")
	}
	m := &Message{ID: id, RequestID: requestID, Name: name, Blobs: blobs}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d of %s: %w", i, name, err)
		}
		m.Args = append(m.Args, raw)
	}
	return m, nil
}

// FormatID renders an id the way it appears on the wire.
func FormatID(id uint64) string { return strconv.FormatUint(id, 10) }

// ResponseName returns the name a response to request name must carry:
// the request prefix is replaced with ':' and, for eval requests, the
// flag characters after '=' are dropped.
func ResponseName(name string) string {
	if name == "" {
		return ""
	}
	base := name[1:]
	if strings.HasPrefix(base, "=") {
		base = "="
	}
	return string(PrefixResponse) + base
}

// Arg decodes argument i into v.
func (m *Message) Arg(i int, v any) error {
	if i >= len(m.Args) {
		return fmt.Errorf("%s: missing argument %d", m.Name, i)
	}
	if err := json.Unmarshal(m.Args[i], v); err != nil {
		return fmt.Errorf("%s: argument %d: %w", m.Name, i, err)
	}
	return nil
}

// IsNullArg reports whether argument i is JSON null.
func (m *Message) IsNullArg(i int) bool {
	return i < len(m.Args) && string(m.Args[i]) == "null"
}

// String renders a compact form for logs.
func (m *Message) String() string {
	switch {
	case m.IsRequest():
		return fmt.Sprintf("#%d %s", m.ID, m.Name)
	case m.IsNotification():
		return fmt.Sprintf("#%d %s", m.ID, m.Name)
	default:
		return fmt.Sprintf("#%d %s (re #%d)", m.ID, m.Name, m.RequestID)
	}
}
